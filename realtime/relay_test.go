package realtime

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"prism-board/domain"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		rc.Close()
		m.Close()
	})
	return m, rc
}

func TestRelayForwardsForeignEventsOnly(t *testing.T) {
	m, rc := setupRedis(t)
	logger, _ := test.NewNullLogger()

	metricsA := NewMetrics(prometheus.NewRegistry())
	regA := NewRegistry(logger, WithMetrics(metricsA))
	relayA := NewRelay(rc, "", "instance-a", regA, logger, metricsA)
	regB := NewRegistry(logger)
	relayB := NewRelay(rc, "", "instance-b", regB, logger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relayA.Run(ctx)
	go relayB.Run(ctx)
	waitFor(t, func() bool { return m.PubSubNumSub(DefaultRelayChannel)[DefaultRelayChannel] == 2 })

	sinkA, sinkB := NewChannelSink(4), NewChannelSink(4)
	regA.Subscribe("board", sinkA)
	regB.Subscribe("board", sinkB)

	ev := domain.BoardEvent{BoardID: "board", ActorID: "u1", Event: domain.NewCardDeleted("c1"), At: time.Now().UTC()}
	if err := relayA.Publish(ctx, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := recv(t, sinkB); got != ev.Event {
		t.Fatalf("expected %+v got %+v", ev.Event, got)
	}
	// the origin delivers locally through its notifier, never via the relay
	waitFor(t, func() bool {
		return testutil.ToFloat64(metricsA.Relayed.WithLabelValues("in", "own")) == 1
	})
	requireEmpty(t, sinkA)
}

func TestRelayDropsMalformedMessages(t *testing.T) {
	_, rc := setupRedis(t)
	logger, hook := test.NewNullLogger()
	reg := NewRegistry(logger)
	relay := NewRelay(rc, "chan", "me", reg, logger, nil)
	sink := NewChannelSink(4)
	reg.Subscribe("board", sink)

	relay.handle("not json")
	relay.handle(`{"origin":"other","boardId":"board","event":{"type":"card:update"}}`)
	relay.handle(`{"origin":"other","event":{"type":"list:create"}}`)
	requireEmpty(t, sink)
	if len(hook.AllEntries()) != 3 {
		t.Fatalf("expected 3 warnings got %d", len(hook.AllEntries()))
	}

	relay.handle(`{"origin":"other","boardId":"board","event":{"type":"list:create"}}`)
	if got := recv(t, sink); got.Type != domain.ListCreated {
		t.Fatalf("unexpected %s", got.Type)
	}
}

func TestRelayStopsWithContext(t *testing.T) {
	_, rc := setupRedis(t)
	logger, _ := test.NewNullLogger()
	relay := NewRelay(rc, "chan", "me", NewRegistry(logger), logger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}
