// Package client consumes a board's realtime stream and keeps it open
// across transport failures.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

const (
	// DefaultReconnectDelay is the fixed pause between reconnect attempts.
	DefaultReconnectDelay = 2 * time.Second
	// DefaultMaxConsecutiveFailures marks the connection degraded.
	DefaultMaxConsecutiveFailures = 3
)

var errStreamClosed = errors.New("stream closed by server")

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Status feeds a connection indicator. Degraded is set once
// ConsecutiveFailures reaches the configured maximum; it is never an error.
type Status struct {
	BoardID             string
	State               State
	ConsecutiveFailures int
	Degraded            bool
}

// Hooks run in order on the subscriber's dispatch goroutine, never
// concurrently with each other, and may call Watch or Close. Calls still
// queued for a connection that has been torn down are skipped. OnStatus
// reports the connection loop's transitions; teardown by Watch or Close is
// only visible through Status.
type Hooks struct {
	OnEvent      func(boardID string, ev domain.Event)
	OnConnect    func(boardID string)
	OnDisconnect func(boardID string, err error)
	OnStatus     func(Status)
}

type Config struct {
	// BaseURL is the server root; the stream lives at BaseURL/realtime/{boardId}.
	BaseURL string
	// Token returns the bearer token for each connection attempt.
	Token      func() (string, error)
	HTTPClient *http.Client
	// NewBackOff builds the reconnect schedule for a watch. Defaults to a
	// constant DefaultReconnectDelay.
	NewBackOff             func() backoff.BackOff
	MaxConsecutiveFailures int
	Logger                 *log.Logger
	// After replaces time.After in tests.
	After func(time.Duration) <-chan time.Time
	Hooks
}

// Subscriber owns at most one stream connection at a time.
type Subscriber struct {
	cfg Config

	// watchMu serializes Watch and Close so a switch fully tears down the
	// old connection before the new one starts.
	watchMu sync.Mutex
	boardID string
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool

	mu     sync.Mutex
	status Status

	calls chan hookCall
	quit  chan struct{}
}

// hookCall is one hook invocation owned by the connection whose context
// it carries.
type hookCall struct {
	ctx context.Context
	fn  func()
}

func New(cfg Config) *Subscriber {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(DefaultReconnectDelay) }
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	if cfg.After == nil {
		cfg.After = time.After
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	s := &Subscriber{cfg: cfg, calls: make(chan hookCall), quit: make(chan struct{})}
	go s.dispatch()
	return s
}

// Watch switches the subscriber to boardID. An empty id only tears down the
// current connection. Watching the board already watched is a no-op.
func (s *Subscriber) Watch(boardID string) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.closed || (boardID == s.boardID && s.done != nil) {
		return
	}
	s.stopLocked()
	if boardID == "" {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.boardID, s.cancel, s.done = boardID, cancel, make(chan struct{})
	go s.run(ctx, boardID, s.done)
}

// Close tears down the connection, cancels any pending reconnect and stops
// hook dispatch. The subscriber cannot be reused.
func (s *Subscriber) Close() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.stopLocked()
	close(s.quit)
}

func (s *Subscriber) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Subscriber) stopLocked() {
	if s.cancel == nil {
		return
	}
	// run never waits on a hook once cancelled, so this returns even when
	// called from inside one
	s.cancel()
	<-s.done
	s.boardID, s.cancel, s.done = "", nil, nil
	s.mu.Lock()
	s.status = Status{State: Disconnected}
	s.mu.Unlock()
}

func (s *Subscriber) dispatch() {
	for {
		select {
		case c := <-s.calls:
			if c.ctx.Err() == nil {
				c.fn()
			}
		case <-s.quit:
			return
		}
	}
}

// emit hands fn to the dispatch goroutine, giving up when ctx ends.
func (s *Subscriber) emit(ctx context.Context, fn func()) {
	select {
	case s.calls <- hookCall{ctx: ctx, fn: fn}:
	case <-ctx.Done():
	case <-s.quit:
	}
}

func (s *Subscriber) setStatus(ctx context.Context, st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
	if s.cfg.OnStatus != nil {
		s.emit(ctx, func() { s.cfg.OnStatus(st) })
	}
}

func (s *Subscriber) run(ctx context.Context, boardID string, done chan struct{}) {
	defer close(done)
	b := s.cfg.NewBackOff()
	failures := 0
	logger := s.cfg.Logger.WithField("board", boardID)
	for {
		s.setStatus(ctx, Status{BoardID: boardID, State: Connecting, ConsecutiveFailures: failures, Degraded: s.degraded(failures)})
		connected := false
		err := s.stream(ctx, boardID, func() {
			connected = true
			failures = 0
			b.Reset()
			s.setStatus(ctx, Status{BoardID: boardID, State: Connected})
			if s.cfg.OnConnect != nil {
				s.emit(ctx, func() { s.cfg.OnConnect(boardID) })
			}
		})
		if ctx.Err() != nil {
			return
		}
		failures++
		s.setStatus(ctx, Status{BoardID: boardID, State: Disconnected, ConsecutiveFailures: failures, Degraded: s.degraded(failures)})
		if connected && s.cfg.OnDisconnect != nil {
			s.emit(ctx, func() { s.cfg.OnDisconnect(boardID, err) })
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			logger.WithError(err).Warn("client.stream.giving_up")
			return
		}
		logger.WithError(err).WithFields(log.Fields{
			"failures": failures,
			"delay_ms": delay.Milliseconds(),
		}).Debug("client.stream.reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-s.cfg.After(delay):
		}
	}
}

func (s *Subscriber) degraded(failures int) bool {
	return failures >= s.cfg.MaxConsecutiveFailures
}

// stream holds one connection open until it fails or ctx ends. onOpen runs
// once the server accepted the subscription.
func (s *Subscriber) stream(ctx context.Context, boardID string, onOpen func()) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/realtime/"+url.PathEscape(boardID), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if s.cfg.Token != nil {
		token, err := s.cfg.Token()
		if err != nil {
			return fmt.Errorf("token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	onOpen()

	err = readFrames(res.Body, func(f frame) {
		ev, err := domain.DecodeEvent([]byte(f.Data))
		if err != nil {
			s.cfg.Logger.WithError(err).WithField("board", boardID).Debug("client.event.dropped")
			return
		}
		if s.cfg.OnEvent != nil {
			s.emit(ctx, func() { s.cfg.OnEvent(boardID, ev) })
		}
	})
	if errors.Is(err, io.EOF) {
		return errStreamClosed
	}
	return err
}
