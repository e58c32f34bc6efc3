package notify

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// Outlet is a slow, best-effort consumer of committed events.
type Outlet interface {
	Name() string
	Send(ctx context.Context, ev domain.BoardEvent) error
}

type outletFunc struct {
	name string
	fn   func(ctx context.Context, ev domain.BoardEvent) error
}

func (o outletFunc) Name() string { return o.name }

func (o outletFunc) Send(ctx context.Context, ev domain.BoardEvent) error { return o.fn(ctx, ev) }

// OutletFunc adapts fn to an Outlet.
func OutletFunc(name string, fn func(ctx context.Context, ev domain.BoardEvent) error) Outlet {
	return outletFunc{name: name, fn: fn}
}

type DispatcherConfig struct {
	Workers int `env:"OUTLET_WORKERS" envDefault:"4"`
	Buffer  int `env:"OUTLET_BUFFER" envDefault:"1024"`
	// SendTimeout bounds one outlet call.
	SendTimeout time.Duration `env:"OUTLET_TIMEOUT" envDefault:"10s"`
	// HandoffTimeout is how long Submit waits for room in a full queue
	// before dropping the event.
	HandoffTimeout time.Duration `env:"OUTLET_HANDOFF_TIMEOUT" envDefault:"15ms"`
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

// Dispatcher fans committed events out to outlets on a fixed set of
// workers. Events of one board always land on the same worker, so each
// outlet sees a board's events in commit order.
type Dispatcher struct {
	cfg     DispatcherConfig
	outlets []Outlet
	logger  *log.Logger
	metrics *Metrics

	mu     sync.RWMutex
	queues []chan domain.BoardEvent
	wg     sync.WaitGroup
}

func NewDispatcher(logger *log.Logger, metrics *Metrics, cfg DispatcherConfig, outlets ...Outlet) *Dispatcher {
	if logger == nil {
		panic("Logger is not initialized")
	}
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		cfg:     cfg,
		outlets: outlets,
		logger:  logger,
		metrics: metrics,
		queues:  make([]chan domain.BoardEvent, cfg.Workers),
	}
	perWorker := cfg.Buffer / cfg.Workers
	if perWorker < 1 {
		perWorker = 1
	}
	for i := range d.queues {
		d.queues[i] = make(chan domain.BoardEvent, perWorker)
		d.wg.Add(1)
		go d.worker(i, d.queues[i])
	}
	logger.Infof("event dispatcher started, workers: %d, buffer: %d, outlets: %d, handoff: %v",
		cfg.Workers, cfg.Buffer, len(outlets), cfg.HandoffTimeout)
	return d
}

func (d *Dispatcher) worker(id int, jobs <-chan domain.BoardEvent) {
	defer d.wg.Done()
	for ev := range jobs {
		for _, o := range d.outlets {
			ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
			err := o.Send(ctx, ev)
			cancel()
			if err != nil {
				d.metrics.outlet(o.Name(), "error")
				d.logger.WithFields(log.Fields{
					"outlet": o.Name(),
					"board":  ev.BoardID,
					"event":  ev.Event.Type,
					"worker": id,
				}).WithError(err).Error("notify.outlet.failed")
				continue
			}
			d.metrics.outlet(o.Name(), "ok")
		}
	}
}

// Submit queues ev for every outlet. It never blocks longer than the
// handoff timeout and reports whether the event was accepted.
func (d *Dispatcher) Submit(ev domain.BoardEvent) bool {
	if len(d.outlets) == 0 {
		return true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.queues == nil {
		return false
	}
	ch := d.queues[xxhash.Sum64String(ev.BoardID)%uint64(len(d.queues))]

	if ok, closed := trySendNonBlocking(ch, ev); closed {
		return false
	} else if ok {
		return true
	}
	if d.cfg.HandoffTimeout > 0 {
		timer := time.NewTimer(d.cfg.HandoffTimeout)
		defer timer.Stop()
		if ok, _ := sendWithTimer(ch, ev, timer.C); ok {
			return true
		}
	}
	d.metrics.outlet("dispatcher", "dropped")
	d.logger.WithFields(log.Fields{"board": ev.BoardID, "event": ev.Event.Type}).Warn("notify.dispatch.dropped")
	return false
}

// Close stops accepting events and waits for queued ones to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	queues := d.queues
	d.queues = nil
	d.mu.Unlock()
	for _, ch := range queues {
		close(ch)
	}
	d.wg.Wait()
}

func trySendNonBlocking(ch chan domain.BoardEvent, ev domain.BoardEvent) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- ev:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan domain.BoardEvent, ev domain.BoardEvent, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- ev:
		return true, false
	case <-timer:
		return false, false
	}
}
