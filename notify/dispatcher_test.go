package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"

	"prism-board/domain"
)

type recordingOutlet struct {
	name    string
	mu      sync.Mutex
	seen    []string
	err     error
	release chan struct{}
}

func newRecordingOutlet(name string) *recordingOutlet {
	return &recordingOutlet{name: name}
}

func (o *recordingOutlet) Name() string { return o.name }

func (o *recordingOutlet) Send(ctx context.Context, ev domain.BoardEvent) error {
	if o.release != nil {
		select {
		case <-o.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, ev.BoardID+" "+string(ev.Event.Type))
	return o.err
}

func (o *recordingOutlet) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return fmt.Sprint(o.seen)
}

func (o *recordingOutlet) events() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.seen...)
}

func TestDispatcherKeepsPerBoardOrder(t *testing.T) {
	logger, _ := test.NewNullLogger()
	out := newCardOutlet()
	d := NewDispatcher(logger, nil, DispatcherConfig{Workers: 4, Buffer: 4096}, out)

	const perBoard = 200
	boards := []string{"b1", "b2", "b3", "b4", "b5"}
	for i := 0; i < perBoard; i++ {
		for _, b := range boards {
			ev := domain.BoardEvent{BoardID: b, Event: domain.NewCardUpdated(fmt.Sprintf("c%03d", i))}
			if !d.Submit(ev) {
				t.Fatalf("submit %s %d rejected", b, i)
			}
		}
	}
	d.Close()

	for _, b := range boards {
		cards := out.byBoard[b]
		if len(cards) != perBoard {
			t.Fatalf("%s: expected %d events, got %d", b, perBoard, len(cards))
		}
		for i, c := range cards {
			if want := fmt.Sprintf("c%03d", i); c != want {
				t.Fatalf("%s: event %d is %s, want %s", b, i, c, want)
			}
		}
	}
}

type cardOutlet struct {
	mu      sync.Mutex
	byBoard map[string][]string
}

func newCardOutlet() *cardOutlet { return &cardOutlet{byBoard: map[string][]string{}} }

func (o *cardOutlet) Name() string { return "cards" }

func (o *cardOutlet) Send(ctx context.Context, ev domain.BoardEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.byBoard[ev.BoardID] = append(o.byBoard[ev.BoardID], ev.Event.CardID)
	return nil
}

func TestDispatcherDropsWhenSaturated(t *testing.T) {
	logger, hook := test.NewNullLogger()
	m := NewMetrics(prometheus.NewRegistry())
	out := newRecordingOutlet("export")
	out.release = make(chan struct{})
	d := NewDispatcher(logger, m, DispatcherConfig{Workers: 1, Buffer: 1, HandoffTimeout: time.Millisecond}, out)

	ev := domain.BoardEvent{BoardID: "b1", Event: domain.NewBoardUpdated()}
	accepted := 0
	for i := 0; i < 5; i++ {
		if d.Submit(ev) {
			accepted++
		}
	}
	// one in the worker, one in the queue
	if accepted > 2 || accepted == 0 {
		t.Fatalf("expected at most 2 accepted events, got %d", accepted)
	}
	if got := testutil.ToFloat64(m.Outlets.WithLabelValues("dispatcher", "dropped")); got != float64(5-accepted) {
		t.Fatalf("expected %d drops, got %v", 5-accepted, got)
	}
	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Message == "notify.dispatch.dropped" {
			warned = true
		}
	}
	if !warned {
		t.Fatal("expected a drop warning")
	}
	close(out.release)
	d.Close()
	if got := len(out.events()); got != accepted {
		t.Fatalf("expected %d deliveries after drain, got %d", accepted, got)
	}
}

func TestDispatcherLogsOutletErrorsAndContinues(t *testing.T) {
	logger, hook := test.NewNullLogger()
	m := NewMetrics(prometheus.NewRegistry())
	failing := newRecordingOutlet("activity")
	failing.err = errors.New("table unavailable")
	ok := newRecordingOutlet("export")
	d := NewDispatcher(logger, m, DispatcherConfig{Workers: 1, Buffer: 8}, failing, ok)

	d.Submit(domain.BoardEvent{BoardID: "b1", Event: domain.NewListCreated()})
	d.Close()

	if got := ok.String(); got != "[b1 list:create]" {
		t.Fatalf("healthy outlet missed the event: %s", got)
	}
	if got := testutil.ToFloat64(m.Outlets.WithLabelValues("activity", "error")); got != 1 {
		t.Fatalf("expected 1 activity error, got %v", got)
	}
	if got := testutil.ToFloat64(m.Outlets.WithLabelValues("export", "ok")); got != 1 {
		t.Fatalf("expected 1 export success, got %v", got)
	}
	if e := hook.LastEntry(); e == nil || e.Message != "notify.outlet.failed" {
		t.Fatalf("expected outlet failure log, got %+v", e)
	}
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := NewDispatcher(logger, nil, DispatcherConfig{}, newRecordingOutlet("x"))
	d.Close()
	if d.Submit(domain.BoardEvent{BoardID: "b1", Event: domain.NewBoardUpdated()}) {
		t.Fatal("submit after close must be rejected")
	}
	d.Close()
}

func TestOutletFunc(t *testing.T) {
	var got domain.BoardEvent
	o := OutletFunc("fn", func(ctx context.Context, ev domain.BoardEvent) error {
		got = ev
		return nil
	})
	ev := domain.BoardEvent{BoardID: "b1", Event: domain.NewLabelCreated()}
	if err := o.Send(context.Background(), ev); err != nil || got != ev || o.Name() != "fn" {
		t.Fatalf("unexpected outlet behaviour: %v %+v", err, got)
	}
}
