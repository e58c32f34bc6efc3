package realtime

import (
	"errors"
	"sync"

	"prism-board/domain"
)

var (
	// ErrSinkFull is returned by a sink whose buffer cannot take another event.
	ErrSinkFull = errors.New("sink buffer full")
	// ErrSinkClosed is returned by a sink that no longer accepts events.
	ErrSinkClosed = errors.New("sink closed")
)

// DefaultSinkBuffer is the per-connection event buffer.
const DefaultSinkBuffer = 64

// Sink receives the events of one board for one subscriber. Deliver must
// not block; a sink that cannot keep up drops the event and says so.
type Sink interface {
	Deliver(ev domain.Event) error
	// Close releases the sink. It is called by the registry on shutdown and
	// must be safe to call more than once.
	Close()
}

// ChannelSink buffers events on a bounded channel for a single reader.
type ChannelSink struct {
	mu     sync.Mutex
	ch     chan domain.Event
	closed bool
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = DefaultSinkBuffer
	}
	return &ChannelSink{ch: make(chan domain.Event, buffer)}
}

// Events is closed once the sink is closed.
func (s *ChannelSink) Events() <-chan domain.Event { return s.ch }

func (s *ChannelSink) Deliver(ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.ch <- ev:
		return nil
	default:
		return ErrSinkFull
	}
}

func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// FuncSink adapts a function to Sink. Close is a no-op.
type FuncSink func(ev domain.Event) error

func (f FuncSink) Deliver(ev domain.Event) error { return f(ev) }

func (FuncSink) Close() {}
