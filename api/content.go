package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"prism-board/domain"
	"prism-board/storage"
)

func (h *handlers) listLists(c echo.Context) error {
	lists, err := h.Store.ListLists(c.Request().Context(), userID(c), c.Param("boardId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, lists)
}

func (h *handlers) createList(c echo.Context) error {
	var req listRequest
	if err := decode(c, &req); err != nil {
		return invalidBody(c)
	}
	in := storage.ListInput{Index: req.Index}
	if req.Title != nil {
		in.Title = *req.Title
	}
	if req.Color != nil {
		in.Color = *req.Color
	}
	l, err := h.Store.CreateList(c.Request().Context(), userID(c), c.Param("boardId"), in)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, l)
}

func (h *handlers) updateList(c echo.Context) error {
	var req listRequest
	if err := decode(c, &req); err != nil {
		return invalidBody(c)
	}
	if req.Index != nil {
		return h.fail(c, fmt.Errorf("%w: reorder lists through the move endpoint", domain.ErrValidation))
	}
	l, err := h.Store.UpdateList(c.Request().Context(), userID(c), c.Param("listId"),
		storage.ListPatch{Title: req.Title, Color: req.Color})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *handlers) deleteList(c echo.Context) error {
	if err := h.Store.DeleteList(c.Request().Context(), userID(c), c.Param("listId")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) createCard(c echo.Context) error {
	var req cardRequest
	if err := decode(c, &req); err != nil {
		return invalidBody(c)
	}
	in := storage.CardInput{
		ListID:    c.Param("listId"),
		StartDate: req.StartDate.Value,
		DueDate:   req.DueDate.Value,
		Index:     req.Index,
	}
	if req.Title != nil {
		in.Title = *req.Title
	}
	if req.Description != nil {
		in.Description = *req.Description
	}
	if req.LabelIDs != nil {
		in.LabelIDs = *req.LabelIDs
	}
	if req.AssigneeIDs != nil {
		in.AssigneeIDs = *req.AssigneeIDs
	}
	card, err := h.Store.CreateCard(c.Request().Context(), userID(c), in)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, card)
}

func (h *handlers) getCard(c echo.Context) error {
	card, err := h.Store.GetCard(c.Request().Context(), userID(c), c.Param("cardId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, card)
}

func (h *handlers) updateCard(c echo.Context) error {
	var req cardRequest
	if err := decode(c, &req); err != nil {
		return invalidBody(c)
	}
	if req.Index != nil {
		return h.fail(c, fmt.Errorf("%w: reorder cards through the move endpoint", domain.ErrValidation))
	}
	card, err := h.Store.UpdateCard(c.Request().Context(), userID(c), c.Param("cardId"), storage.CardPatch{
		Title:       req.Title,
		Description: req.Description,
		StartDate:   req.StartDate.update(),
		DueDate:     req.DueDate.update(),
		LabelIDs:    req.LabelIDs,
		AssigneeIDs: req.AssigneeIDs,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, card)
}

func (h *handlers) deleteCard(c echo.Context) error {
	if err := h.Store.DeleteCard(c.Request().Context(), userID(c), c.Param("cardId")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) attachLabel(c echo.Context) error {
	if err := h.Store.AttachLabel(c.Request().Context(), userID(c), c.Param("cardId"), c.Param("labelId")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) detachLabel(c echo.Context) error {
	if err := h.Store.DetachLabel(c.Request().Context(), userID(c), c.Param("cardId"), c.Param("labelId")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) listComments(c echo.Context) error {
	comments, err := h.Store.ListComments(c.Request().Context(), userID(c), c.Param("cardId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, comments)
}

func (h *handlers) addComment(c echo.Context) error {
	var req commentRequest
	if err := decode(c, &req); err != nil {
		return invalidBody(c)
	}
	cm, err := h.Store.AddComment(c.Request().Context(), userID(c), c.Param("cardId"), req.Text)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, cm)
}

func (h *handlers) deleteComment(c echo.Context) error {
	err := h.Store.DeleteComment(c.Request().Context(), userID(c), c.Param("cardId"), c.Param("commentId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) listLabels(c echo.Context) error {
	labels, err := h.Store.ListLabels(c.Request().Context(), userID(c), c.Param("boardId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, labels)
}

func (h *handlers) createLabel(c echo.Context) error {
	var req labelRequest
	if err := decode(c, &req); err != nil {
		return invalidBody(c)
	}
	var name, color string
	if req.Name != nil {
		name = *req.Name
	}
	if req.Color != nil {
		color = *req.Color
	}
	l, err := h.Store.CreateLabel(c.Request().Context(), userID(c), c.Param("boardId"), name, color)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, l)
}

func (h *handlers) updateLabel(c echo.Context) error {
	var req labelRequest
	if err := decode(c, &req); err != nil {
		return invalidBody(c)
	}
	l, err := h.Store.UpdateLabel(c.Request().Context(), userID(c), c.Param("labelId"),
		storage.LabelPatch{Name: req.Name, Color: req.Color})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *handlers) deleteLabel(c echo.Context) error {
	if err := h.Store.DeleteLabel(c.Request().Context(), userID(c), c.Param("labelId")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
