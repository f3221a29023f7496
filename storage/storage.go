// Package storage persists users, workspaces, boards and tasks.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eishaa-e/flowboard/domain"
)

// Backend is implemented by every storage driver.
//
// Lookups return domain.ErrNotFound for missing records. BulkReposition
// applies every change of one board or none of them.
type Backend interface {
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
	CreateTask(ctx context.Context, boardID, title string, lane domain.Lane) (domain.Task, error)
	InsertTask(ctx context.Context, t domain.Task) (domain.Task, error)
	UpdateTask(ctx context.Context, t domain.Task) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
	BulkReposition(ctx context.Context, boardID string, changes []domain.Change) error

	Ping(ctx context.Context) error
	Close() error
}

var now = func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }

func newID() string { return uuid.NewString() }

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validateChanges rejects malformed change sets before anything is written.
func validateChanges(changes []domain.Change) error {
	seen := make(map[string]struct{}, len(changes))
	for _, c := range changes {
		if c.ID == "" {
			return fmt.Errorf("change without id: %w", domain.ErrNotFound)
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("task %s listed twice: %w", c.ID, domain.ErrInvalidIndex)
		}
		seen[c.ID] = struct{}{}
		if !c.Status.Valid() {
			return fmt.Errorf("task %s: %w: %q", c.ID, domain.ErrInvalidLane, c.Status)
		}
		if c.Position < 0 {
			return fmt.Errorf("task %s position %d: %w", c.ID, c.Position, domain.ErrInvalidIndex)
		}
	}
	return nil
}

// prepareTask fills the fields a new task gets from the store, except the
// position.
func prepareTask(t domain.Task) (domain.Task, error) {
	if t.BoardID == "" {
		return t, fmt.Errorf("task without board: %w", domain.ErrNotFound)
	}
	lane, err := domain.ParseLane(string(t.Status))
	if err != nil {
		return t, err
	}
	t.Status = lane
	if t.ID == "" {
		t.ID = newID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now()
	}
	return t, nil
}
