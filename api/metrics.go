package api

import (
	"time"

	log "github.com/sirupsen/logrus"

	"prism-board/ordering"
)

// moveRequestMetrics collects one summary line per move request.
type moveRequestMetrics struct {
	logger     *log.Logger
	route      string
	start      time.Time
	moveDur    time.Duration
	result     ordering.MoveResult
	errorStage string
}

func newMoveRequestMetrics(logger *log.Logger, route string) *moveRequestMetrics {
	return &moveRequestMetrics{logger: logger, route: route, start: time.Now()}
}

func (m *moveRequestMetrics) ObserveMove(d time.Duration, res ordering.MoveResult) {
	m.moveDur = d
	m.result = res
}

func (m *moveRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *moveRequestMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}
	fields := log.Fields{
		"route":        m.route,
		"status":       status,
		"total_ms":     durationToMillis(time.Since(m.start)),
		"renormalized": m.result.Renormalized,
		"compacted":    m.result.Compacted,
	}
	if m.result.BoardID != "" {
		fields["board"] = m.result.BoardID
	}
	if m.moveDur > 0 {
		fields["move_ms"] = durationToMillis(m.moveDur)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.logger.WithFields(fields).Info("board.move.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
