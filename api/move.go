package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"prism-board/domain"
)

func (h *handlers) moveCard(c echo.Context) (err error) {
	metrics := newMoveRequestMetrics(h.Logger, "/api/cards/:cardId/move")
	defer func() { metrics.Log(c.Response().Status, err) }()

	var req moveRequest
	if derr := decode(c, &req); derr != nil {
		metrics.SetErrorStage("decode")
		return invalidBody(c)
	}
	if req.ListID == "" || req.Index == nil {
		metrics.SetErrorStage("validate")
		return h.fail(c, fmt.Errorf("%w: listId and index are required", domain.ErrValidation))
	}
	start := time.Now()
	res, merr := h.Mover.MoveCard(c.Request().Context(), userID(c), c.Param("cardId"), req.ListID, *req.Index)
	metrics.ObserveMove(time.Since(start), res)
	if merr != nil {
		metrics.SetErrorStage("move")
		return h.fail(c, merr)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *handlers) moveList(c echo.Context) (err error) {
	metrics := newMoveRequestMetrics(h.Logger, "/api/lists/:listId/move")
	defer func() { metrics.Log(c.Response().Status, err) }()

	var req moveRequest
	if derr := decode(c, &req); derr != nil {
		metrics.SetErrorStage("decode")
		return invalidBody(c)
	}
	if req.Index == nil {
		metrics.SetErrorStage("validate")
		return h.fail(c, fmt.Errorf("%w: index is required", domain.ErrValidation))
	}
	start := time.Now()
	res, merr := h.Mover.MoveList(c.Request().Context(), userID(c), c.Param("listId"), *req.Index)
	metrics.ObserveMove(time.Since(start), res)
	if merr != nil {
		metrics.SetErrorStage("move")
		return h.fail(c, merr)
	}
	return c.JSON(http.StatusOK, res)
}
