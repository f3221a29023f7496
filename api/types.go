package api

import (
	"context"

	"github.com/eishaa-e/flowboard/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	CreateUser(ctx context.Context, u domain.User) (domain.User, error)
	UserByEmail(ctx context.Context, email string) (domain.User, error)
	UserByID(ctx context.Context, id string) (domain.User, error)

	ListWorkspaces(ctx context.Context, ownerID string) ([]domain.Workspace, error)
	GetWorkspace(ctx context.Context, id string) (domain.Workspace, error)
	CreateWorkspace(ctx context.Context, ws domain.Workspace) (domain.Workspace, error)
	UpdateWorkspace(ctx context.Context, ws domain.Workspace) (domain.Workspace, error)
	DeleteWorkspace(ctx context.Context, id string) error

	ListBoards(ctx context.Context, workspaceID string) ([]domain.Board, error)
	GetBoard(ctx context.Context, id string) (domain.Board, error)
	CreateBoard(ctx context.Context, b domain.Board) (domain.Board, error)
	UpdateBoard(ctx context.Context, b domain.Board) (domain.Board, error)
	DeleteBoard(ctx context.Context, id string) error

	ListTasks(ctx context.Context, boardID string) ([]domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	InsertTask(ctx context.Context, t domain.Task) (domain.Task, error)
	UpdateTask(ctx context.Context, t domain.Task) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
	BulkReposition(ctx context.Context, boardID string, changes []domain.Change) error

	Ping(ctx context.Context) error
}

// Authenticator is implemented by types able to extract user IDs from headers
// and to sign new sessions.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
	IssueToken(userID, email string) (string, error)
}

// Deduper prevents processing of duplicate reorder requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
}

// Publisher delivers domain events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, events ...domain.Event) error
}

// EventSink accepts events after a mutation succeeded. Delivery happens in
// the background.
type EventSink interface {
	Send(events ...domain.Event)
}
