package realtime

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// DefaultRelayChannel is the redis pub/sub channel shared by all instances.
const DefaultRelayChannel = "prism:board-events"

type relayMessage struct {
	Origin string `json:"origin"`
	domain.BoardEvent
}

// Relay carries committed events between server instances over redis
// pub/sub. Each instance publishes its own events tagged with its id and
// broadcasts only foreign events into its local registry.
type Relay struct {
	rc             *redis.Client
	channel        string
	instanceID     string
	registry       *Registry
	logger         *log.Logger
	metrics        *Metrics
	reconnectDelay time.Duration
}

func NewRelay(rc *redis.Client, channel, instanceID string, reg *Registry, logger *log.Logger, metrics *Metrics) *Relay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &Relay{
		rc:             rc,
		channel:        channel,
		instanceID:     instanceID,
		registry:       reg,
		logger:         logger,
		metrics:        metrics,
		reconnectDelay: time.Second,
	}
}

func (r *Relay) InstanceID() string { return r.instanceID }

// Publish sends ev to the other instances.
func (r *Relay) Publish(ctx context.Context, ev domain.BoardEvent) error {
	data, err := sonic.Marshal(relayMessage{Origin: r.instanceID, BoardEvent: ev})
	if err != nil {
		r.metrics.relayed("out", "error")
		return err
	}
	if err := r.rc.Publish(ctx, r.channel, data).Err(); err != nil {
		r.metrics.relayed("out", "error")
		return err
	}
	r.metrics.relayed("out", "ok")
	return nil
}

// Run subscribes to the relay channel until ctx is done, resubscribing
// after the pub/sub connection drops.
func (r *Relay) Run(ctx context.Context) {
	for {
		sub := r.rc.Subscribe(ctx, r.channel)
		r.consume(ctx, sub.Channel())
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		r.logger.WithField("channel", r.channel).Warn("realtime.relay.reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.reconnectDelay):
		}
	}
}

func (r *Relay) consume(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *Relay) handle(payload string) {
	var msg relayMessage
	if err := sonic.UnmarshalString(payload, &msg); err != nil {
		r.metrics.relayed("in", "malformed")
		r.logger.WithError(err).Warn("realtime.relay.decode")
		return
	}
	if msg.Origin == r.instanceID {
		r.metrics.relayed("in", "own")
		return
	}
	if msg.BoardID == "" || msg.Event.Validate() != nil {
		r.metrics.relayed("in", "malformed")
		r.logger.WithField("origin", msg.Origin).Warn("realtime.relay.invalid event")
		return
	}
	r.metrics.relayed("in", "ok")
	r.registry.Broadcast(msg.BoardID, msg.Event)
}
