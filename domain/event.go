package domain

import "github.com/bytedance/sonic"

const (
	UserCreated       = "user-created"
	WorkspaceCreated  = "workspace-created"
	WorkspaceUpdated  = "workspace-updated"
	WorkspaceDeleted  = "workspace-deleted"
	BoardCreated      = "board-created"
	BoardUpdated      = "board-updated"
	BoardDeleted      = "board-deleted"
	TaskCreated       = "task-created"
	TaskUpdated       = "task-updated"
	TaskDeleted       = "task-deleted"
	TasksRepositioned = "tasks-repositioned"
)

// Event describes a change that has been persisted.
type Event struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	EntityType string                 `json:"entityType"`
	EntityID   string                 `json:"entityId"`
	BoardID    string                 `json:"boardId,omitempty"`
	UserID     string                 `json:"userId"`
	Data       sonic.NoCopyRawMessage `json:"data,omitempty"`
	Time       int64                  `json:"time"`
}
