package domain

import "time"

// Board is the root of the ownership tree. The owner is never stored as a member.
type Board struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	Owner     *User     `json:"owner,omitempty"`
	Members   []Member  `json:"members"`
	Lists     []List    `json:"lists"`
	Labels    []Label   `json:"labels"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// User is the profile the identity collaborator vouches for.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type Member struct {
	BoardID string `json:"boardId"`
	UserID  string `json:"userId"`
	Role    Role   `json:"role"`
	User    *User  `json:"user,omitempty"`
}

type List struct {
	ID       string  `json:"id"`
	BoardID  string  `json:"boardId"`
	Title    string  `json:"title"`
	Color    string  `json:"color,omitempty"`
	Position float64 `json:"position"`
	Cards    []Card  `json:"cards"`
}

type Card struct {
	ID          string     `json:"id"`
	ListID      string     `json:"listId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	StartDate   *time.Time `json:"startDate,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Position    float64    `json:"position"`
	LabelIDs    []string   `json:"labelIds"`
	AssigneeIDs []string   `json:"assigneeIds"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Comment is immutable once written; it can only be deleted.
type Comment struct {
	ID        string    `json:"id"`
	CardID    string    `json:"cardId"`
	AuthorID  string    `json:"authorId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

type Label struct {
	ID      string `json:"id"`
	BoardID string `json:"boardId"`
	Name    string `json:"name"`
	Color   string `json:"color"`
}

// ActivityEntry is one committed change as recorded by the activity log.
type ActivityEntry struct {
	BoardID string    `json:"boardId"`
	ActorID string    `json:"actorId,omitempty"`
	Event   Event     `json:"event"`
	At      time.Time `json:"at"`
}
