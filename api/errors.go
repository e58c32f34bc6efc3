package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// statusFor maps the domain error taxonomy onto HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidMove):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c echo.Context, logger *log.Logger, err error) error {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.WithFields(log.Fields{
			"method": c.Request().Method,
			"path":   c.Path(),
		}).WithError(err).Error("api.request.failed")
		return c.JSON(status, errorResponse{Error: "internal error"})
	}
	return c.JSON(status, errorResponse{Error: err.Error()})
}
