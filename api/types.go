package api

import (
	"context"
	"time"

	"github.com/bytedance/sonic"

	"prism-board/domain"
	"prism-board/ordering"
	"prism-board/storage"
)

// Storage is the board store as seen by the handlers.
type Storage interface {
	EnsureUser(ctx context.Context, u domain.User) error
	BoardAccess(ctx context.Context, boardID, userID string) (domain.Access, error)

	ListBoards(ctx context.Context, userID string) ([]domain.Board, error)
	CreateBoard(ctx context.Context, userID, name string) (domain.Board, error)
	UpdateBoard(ctx context.Context, userID, boardID, name string) (domain.Board, error)
	DeleteBoard(ctx context.Context, userID, boardID string) error

	ListMembers(ctx context.Context, userID, boardID string) ([]domain.Member, error)
	InviteMember(ctx context.Context, userID, boardID, email string, role domain.Role) (domain.Member, error)
	UpdateMemberRole(ctx context.Context, userID, boardID, targetID string, role domain.Role) (domain.Member, error)
	RemoveMember(ctx context.Context, userID, boardID, targetID string) error

	ListLists(ctx context.Context, userID, boardID string) ([]domain.List, error)
	CreateList(ctx context.Context, userID, boardID string, in storage.ListInput) (domain.List, error)
	UpdateList(ctx context.Context, userID, listID string, p storage.ListPatch) (domain.List, error)
	DeleteList(ctx context.Context, userID, listID string) error

	CreateCard(ctx context.Context, userID string, in storage.CardInput) (domain.Card, error)
	GetCard(ctx context.Context, userID, cardID string) (domain.Card, error)
	UpdateCard(ctx context.Context, userID, cardID string, p storage.CardPatch) (domain.Card, error)
	DeleteCard(ctx context.Context, userID, cardID string) error
	AttachLabel(ctx context.Context, userID, cardID, labelID string) error
	DetachLabel(ctx context.Context, userID, cardID, labelID string) error

	ListComments(ctx context.Context, userID, cardID string) ([]domain.Comment, error)
	AddComment(ctx context.Context, userID, cardID, text string) (domain.Comment, error)
	DeleteComment(ctx context.Context, userID, cardID, commentID string) error

	ListLabels(ctx context.Context, userID, boardID string) ([]domain.Label, error)
	CreateLabel(ctx context.Context, userID, boardID, name, color string) (domain.Label, error)
	UpdateLabel(ctx context.Context, userID, labelID string, p storage.LabelPatch) (domain.Label, error)
	DeleteLabel(ctx context.Context, userID, labelID string) error
}

// Snapshots serves full board trees, usually through the redis cache.
type Snapshots interface {
	Snapshot(ctx context.Context, boardID string) (domain.Board, error)
}

// Mover applies drag-and-drop moves.
type Mover interface {
	MoveCard(ctx context.Context, userID, cardID, targetListID string, index int) (ordering.MoveResult, error)
	MoveList(ctx context.Context, userID, listID string, index int) (ordering.MoveResult, error)
}

type ActivityReader interface {
	List(ctx context.Context, boardID string, limit int) ([]domain.ActivityEntry, error)
}

// Identity verifies the Authorization header of a request.
type Identity interface {
	IdentityFromAuthHeader(h string) (domain.User, error)
}

type Deduper interface {
	Add(ctx context.Context, userID, key string) (bool, error)
	Remove(ctx context.Context, userID, key string) error
}

type errorResponse struct {
	Error string `json:"error"`
}

type boardRequest struct {
	Name string `json:"name"`
}

type inviteRequest struct {
	Email string      `json:"email"`
	Role  domain.Role `json:"role"`
}

type roleRequest struct {
	Role domain.Role `json:"role"`
}

type listRequest struct {
	Title *string `json:"title"`
	Color *string `json:"color"`
	Index *int    `json:"index"`
}

type cardRequest struct {
	Title       *string      `json:"title"`
	Description *string      `json:"description"`
	StartDate   optionalDate `json:"startDate"`
	DueDate     optionalDate `json:"dueDate"`
	LabelIDs    *[]string    `json:"labelIds"`
	AssigneeIDs *[]string    `json:"assigneeIds"`
	Index       *int         `json:"index"`
}

type moveRequest struct {
	ListID string `json:"listId"`
	Index  *int   `json:"index"`
}

type commentRequest struct {
	Text string `json:"text"`
}

type labelRequest struct {
	Name  *string `json:"name"`
	Color *string `json:"color"`
}

// optionalDate tells an absent field from an explicit null.
type optionalDate struct {
	Set   bool
	Value *time.Time
}

func (d *optionalDate) UnmarshalJSON(data []byte) error {
	d.Set = true
	if string(data) == "null" {
		d.Value = nil
		return nil
	}
	var t time.Time
	if err := sonic.Unmarshal(data, &t); err != nil {
		return err
	}
	d.Value = &t
	return nil
}

func (d optionalDate) update() *storage.DateUpdate {
	if !d.Set {
		return nil
	}
	return &storage.DateUpdate{Value: d.Value}
}
