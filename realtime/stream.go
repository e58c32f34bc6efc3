package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// DefaultHeartbeat keeps idle proxies from cutting an otherwise quiet stream.
const DefaultHeartbeat = 25 * time.Second

// Authenticator turns an Authorization header into a verified user id.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// AccessReader resolves what a user may do on a board.
type AccessReader interface {
	BoardAccess(ctx context.Context, boardID, userID string) (domain.Access, error)
}

// StreamConfig tunes the stream endpoint. Zero values take the defaults and
// a negative Heartbeat disables pings.
type StreamConfig struct {
	Heartbeat  time.Duration
	SinkBuffer int
}

// StreamHandler serves one text/event-stream per connection for a board.
type StreamHandler struct {
	registry *Registry
	access   AccessReader
	auth     Authenticator
	logger   *log.Logger
	cfg      StreamConfig
}

func NewStreamHandler(reg *Registry, access AccessReader, auth Authenticator, logger *log.Logger, cfg StreamConfig) *StreamHandler {
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.SinkBuffer <= 0 {
		cfg.SinkBuffer = DefaultSinkBuffer
	}
	return &StreamHandler{registry: reg, access: access, auth: auth, logger: logger, cfg: cfg}
}

// Handle expects the board id in the "boardId" path parameter.
func (h *StreamHandler) Handle(c echo.Context) error {
	boardID := c.Param("boardId")
	// EventSource cannot set headers, so the token may ride in the query.
	token := c.QueryParam("token")
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if authHeader == "" && token != "" {
		authHeader = "Bearer " + token
	}
	userID, err := h.auth.UserIDFromAuthHeader(authHeader)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}

	ctx := c.Request().Context()
	access, err := h.access.BoardAccess(ctx, boardID, userID)
	if err == nil {
		err = access.Require(domain.ActionView)
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrForbidden) {
			return c.String(http.StatusNotFound, "board not found")
		}
		h.logger.WithError(err).WithField("board", boardID).Error("realtime.stream.access")
		return c.String(http.StatusInternalServerError, "internal error")
	}

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}

	sink := NewChannelSink(h.cfg.SinkBuffer)
	sub, err := h.registry.Subscribe(boardID, sink)
	if err != nil {
		return c.String(http.StatusServiceUnavailable, err.Error())
	}
	defer sub.Unsubscribe()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	flusher.Flush()

	fields := log.Fields{"board": boardID, "user": userID}
	h.logger.WithFields(fields).Info("realtime.stream.opened")
	started := time.Now()
	var seq uint64
	defer func() {
		fields["events"] = seq
		fields["duration_ms"] = float64(time.Since(started)) / float64(time.Millisecond)
		h.logger.WithFields(fields).Info("realtime.stream.closed")
	}()

	var heartbeat <-chan time.Time
	if h.cfg.Heartbeat > 0 {
		ticker := time.NewTicker(h.cfg.Heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sink.Events():
			if !ok {
				// registry shut down
				return nil
			}
			data, err := ev.Marshal()
			if err != nil {
				h.logger.WithError(err).WithFields(fields).Error("realtime.stream.encode")
				continue
			}
			seq++
			if _, err := fmt.Fprintf(res, "id: %d\ndata: %s\n\n", seq, data); err != nil {
				return nil
			}
			flusher.Flush()
		case <-heartbeat:
			if _, err := res.Write([]byte(": ping\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}
