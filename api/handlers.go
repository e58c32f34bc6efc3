package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
	"prism-board/realtime"
	"prism-board/storage"
)

const maxBodySize = 64 << 10

// Deps are the collaborators of the HTTP surface. Activity and Deduper are
// optional.
type Deps struct {
	Store     Storage
	Snapshots Snapshots
	Mover     Mover
	Activity  ActivityReader
	Auth      Identity
	Deduper   Deduper
	Stream    *realtime.StreamHandler
	Logger    *log.Logger
}

type handlers struct {
	Deps
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		panic("Logger is not initialized")
	}
	if d.Store == nil || d.Snapshots == nil || d.Mover == nil || d.Auth == nil || d.Stream == nil {
		panic("api.Register: missing dependency")
	}
	h := &handlers{Deps: d}

	e.GET("/healthz", h.healthz)
	e.GET("/realtime/:boardId", d.Stream.Handle)
	e.GET("/api/realtime/:boardId", d.Stream.Handle)

	g := e.Group("/api", GzipRequestMiddleware(), identityMiddleware(d.Auth, d.Store, d.Logger), idempotencyMiddleware(d.Deduper, d.Logger))

	g.GET("/boards", h.listBoards)
	g.POST("/boards", h.createBoard)
	g.GET("/boards/:boardId", h.getBoard)
	g.PATCH("/boards/:boardId", h.updateBoard)
	g.DELETE("/boards/:boardId", h.deleteBoard)
	g.GET("/boards/:boardId/me", h.me)
	g.GET("/boards/:boardId/activity", h.activity)

	g.GET("/boards/:boardId/members", h.listMembers)
	g.POST("/boards/:boardId/members", h.inviteMember)
	g.PATCH("/boards/:boardId/members/:userId", h.updateMember)
	g.DELETE("/boards/:boardId/members/:userId", h.removeMember)

	g.GET("/boards/:boardId/lists", h.listLists)
	g.POST("/boards/:boardId/lists", h.createList)
	g.PATCH("/lists/:listId", h.updateList)
	g.DELETE("/lists/:listId", h.deleteList)
	g.POST("/lists/:listId/move", h.moveList)

	g.POST("/lists/:listId/cards", h.createCard)
	g.GET("/cards/:cardId", h.getCard)
	g.PATCH("/cards/:cardId", h.updateCard)
	g.DELETE("/cards/:cardId", h.deleteCard)
	g.POST("/cards/:cardId/move", h.moveCard)
	g.PUT("/cards/:cardId/labels/:labelId", h.attachLabel)
	g.DELETE("/cards/:cardId/labels/:labelId", h.detachLabel)

	g.GET("/cards/:cardId/comments", h.listComments)
	g.POST("/cards/:cardId/comments", h.addComment)
	g.DELETE("/cards/:cardId/comments/:commentId", h.deleteComment)

	g.GET("/boards/:boardId/labels", h.listLabels)
	g.POST("/boards/:boardId/labels", h.createLabel)
	g.PATCH("/labels/:labelId", h.updateLabel)
	g.DELETE("/labels/:labelId", h.deleteLabel)
}

func (h *handlers) healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// decode reads a JSON body of at most maxBodySize bytes.
func decode(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func invalidBody(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
}

func (h *handlers) fail(c echo.Context, err error) error {
	return respondError(c, h.Logger, err)
}

func (h *handlers) listBoards(c echo.Context) error {
	boards, err := h.Store.ListBoards(c.Request().Context(), userID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, boards)
}

func (h *handlers) createBoard(c echo.Context) error {
	var req boardRequest
	if err := decode(c, &req); err != nil {
		return invalidBody(c)
	}
	b, err := h.Store.CreateBoard(c.Request().Context(), userID(c), req.Name)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, b)
}

// getBoard checks access against the store and serves the tree from the
// snapshot cache.
func (h *handlers) getBoard(c echo.Context) error {
	ctx := c.Request().Context()
	boardID := c.Param("boardId")
	access, err := h.Store.BoardAccess(ctx, boardID, userID(c))
	if err == nil {
		err = access.Require(domain.ActionView)
	}
	if err != nil {
		return h.fail(c, err)
	}
	b, err := h.Snapshots.Snapshot(ctx, boardID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *handlers) updateBoard(c echo.Context) error {
	var req boardRequest
	if err := decode(c, &req); err != nil {
		return invalidBody(c)
	}
	b, err := h.Store.UpdateBoard(c.Request().Context(), userID(c), c.Param("boardId"), req.Name)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *handlers) deleteBoard(c echo.Context) error {
	if err := h.Store.DeleteBoard(c.Request().Context(), userID(c), c.Param("boardId")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) me(c echo.Context) error {
	access, err := h.Store.BoardAccess(c.Request().Context(), c.Param("boardId"), userID(c))
	if err == nil {
		err = access.Require(domain.ActionView)
	}
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, access.Permissions())
}

func (h *handlers) activity(c echo.Context) error {
	ctx := c.Request().Context()
	boardID := c.Param("boardId")
	access, err := h.Store.BoardAccess(ctx, boardID, userID(c))
	if err == nil {
		err = access.Require(domain.ActionView)
	}
	if err != nil {
		return h.fail(c, err)
	}
	limit := storage.DefaultActivityLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid limit"})
		}
		limit = n
	}
	if h.Activity == nil {
		return c.JSON(http.StatusOK, []domain.ActivityEntry{})
	}
	entries, err := h.Activity.List(ctx, boardID, limit)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *handlers) listMembers(c echo.Context) error {
	members, err := h.Store.ListMembers(c.Request().Context(), userID(c), c.Param("boardId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, members)
}

func (h *handlers) inviteMember(c echo.Context) error {
	var req inviteRequest
	if err := decode(c, &req); err != nil {
		return invalidBody(c)
	}
	m, err := h.Store.InviteMember(c.Request().Context(), userID(c), c.Param("boardId"), req.Email, req.Role)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *handlers) updateMember(c echo.Context) error {
	var req roleRequest
	if err := decode(c, &req); err != nil {
		return invalidBody(c)
	}
	m, err := h.Store.UpdateMemberRole(c.Request().Context(), userID(c), c.Param("boardId"), c.Param("userId"), req.Role)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *handlers) removeMember(c echo.Context) error {
	if err := h.Store.RemoveMember(c.Request().Context(), userID(c), c.Param("boardId"), c.Param("userId")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
