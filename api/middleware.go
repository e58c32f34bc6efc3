package api

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/puzpuzpuz/xsync/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

const userIDKey = "userID"

// GzipRequestMiddleware decompresses gzip-encoded request bodies. Invalid
// gzip payloads are rejected with 400.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}
			gr, err := gzip.NewReader(req.Body)
			if err != nil {
				_ = req.Body.Close()
				return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid gzip body"})
			}
			req.Body = &gzipReadCloser{Reader: gr, body: req.Body}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

func hasGzipEncoding(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type gzipReadCloser struct {
	*gzip.Reader
	body io.Closer
}

func (g *gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.body.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// identityMiddleware verifies the caller, keeps their profile in the store
// current and puts the user id on the request context as the actor of any
// mutation the handler performs.
func identityMiddleware(auth Identity, store Storage, logger *log.Logger) echo.MiddlewareFunc {
	// profiles already written by this process; a changed claim rewrites
	known := xsync.NewMap[string, domain.User]()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u, err := auth.IdentityFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
			}
			ctx := c.Request().Context()
			if prev, ok := known.Load(u.ID); !ok || prev != u {
				err := store.EnsureUser(ctx, u)
				if errors.Is(err, domain.ErrConflict) {
					logger.WithField("user", u.ID).Warn("api.identity.email_taken")
					u.Email = ""
					err = store.EnsureUser(ctx, u)
				}
				if err != nil {
					return respondError(c, logger, err)
				}
				known.Store(u.ID, u)
			}
			c.Set(userIDKey, u.ID)
			c.SetRequest(c.Request().WithContext(domain.ContextWithActor(ctx, u.ID)))
			return next(c)
		}
	}
}

func userID(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}
