package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eishaa-e/flowboard/domain"
)

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	BoardID     string `json:"boardId"`
	Status      string `json:"status"`
}

type updateTaskRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Status      string  `json:"status"`
}

// ReorderRequest is the body of PATCH /api/tasks/reorder.
type ReorderRequest struct {
	BoardID string          `json:"boardId"`
	Items   []domain.Change `json:"items"`
}

// ReorderResponse acknowledges a reorder. Replayed is set when the
// idempotency key had already been applied.
type ReorderResponse struct {
	Message  string `json:"message"`
	Applied  int    `json:"applied"`
	Replayed bool   `json:"replayed,omitempty"`
}

func (s *server) listTasks(c echo.Context) error {
	tasks, err := timed(c, func(ctx context.Context) ([]domain.Task, error) {
		id := c.Param("boardId")
		if _, err := s.ownedBoard(ctx, currentUser(c), id); err != nil {
			return nil, err
		}
		return s.store.ListTasks(ctx, id)
	})
	if err != nil {
		return s.fail(c, err)
	}
	metricsFrom(c).SetItems(len(tasks))
	return c.JSON(http.StatusOK, tasks)
}

func (s *server) createTask(c echo.Context) error {
	var req createTaskRequest
	if err := decode(c, &req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.Title = strings.TrimSpace(req.Title); req.Title == "" || req.BoardID == "" {
		return badRequest(c, "title and boardId are required")
	}
	lane, err := domain.ParseLane(req.Status)
	if err != nil {
		return s.fail(c, err)
	}
	userID := currentUser(c)
	task, err := timed(c, func(ctx context.Context) (domain.Task, error) {
		if _, err := s.ownedBoard(ctx, userID, req.BoardID); err != nil {
			return domain.Task{}, err
		}
		return s.store.InsertTask(ctx, domain.Task{
			BoardID:     req.BoardID,
			Title:       req.Title,
			Description: req.Description,
			Status:      lane,
		})
	})
	if err != nil {
		return s.fail(c, err)
	}
	s.events.Send(newEvent(domain.TaskCreated, "task", task.ID, task.BoardID, userID, task))
	return c.JSON(http.StatusCreated, task)
}

// updateTask edits title and description. An empty title keeps the current
// one; a status different from the current lane moves the task to the end of
// that lane.
func (s *server) updateTask(c echo.Context) error {
	var req updateTaskRequest
	if err := decode(c, &req); err != nil {
		return badRequest(c, "invalid body")
	}
	var lane domain.Lane
	if req.Status != "" {
		l, err := domain.ParseLane(req.Status)
		if err != nil {
			return s.fail(c, err)
		}
		lane = l
	}
	userID := currentUser(c)
	task, err := timed(c, func(ctx context.Context) (domain.Task, error) {
		cur, err := s.ownedTask(ctx, userID, c.Param("taskId"))
		if err != nil {
			return cur, err
		}
		if title := strings.TrimSpace(req.Title); title != "" {
			cur.Title = title
		}
		if req.Description != nil {
			cur.Description = *req.Description
		}
		if lane != "" {
			cur.Status = lane
		}
		return s.store.UpdateTask(ctx, cur)
	})
	if err != nil {
		return s.fail(c, err)
	}
	s.events.Send(newEvent(domain.TaskUpdated, "task", task.ID, task.BoardID, userID, task))
	return c.JSON(http.StatusOK, task)
}

// deleteTask leaves the positions of the remaining tasks untouched.
func (s *server) deleteTask(c echo.Context) error {
	userID := currentUser(c)
	task, err := timed(c, func(ctx context.Context) (domain.Task, error) {
		t, err := s.ownedTask(ctx, userID, c.Param("taskId"))
		if err != nil {
			return t, err
		}
		return t, s.store.DeleteTask(ctx, t.ID)
	})
	if err != nil {
		return s.fail(c, err)
	}
	s.events.Send(newEvent(domain.TaskDeleted, "task", task.ID, task.BoardID, userID, nil))
	return c.JSON(http.StatusOK, messageResponse{Message: "Task deleted"})
}

// reorderTasks applies a change set atomically. Requests carrying an
// Idempotency-Key that was already applied are acknowledged without being
// applied again.
func (s *server) reorderTasks(c echo.Context) error {
	var req ReorderRequest
	if err := decode(c, &req); err != nil || req.Items == nil {
		return badRequest(c, "invalid data")
	}
	metricsFrom(c).SetItems(len(req.Items))
	userID := currentUser(c)
	ctx := c.Request().Context()

	if req.BoardID == "" {
		if len(req.Items) == 0 {
			return badRequest(c, "boardId is required")
		}
		t, err := s.ownedTask(ctx, userID, req.Items[0].ID)
		if err != nil {
			return s.fail(c, err)
		}
		req.BoardID = t.BoardID
	}
	if _, err := s.ownedBoard(ctx, userID, req.BoardID); err != nil {
		return s.fail(c, err)
	}
	if len(req.Items) == 0 {
		return c.JSON(http.StatusOK, ReorderResponse{Message: "Nothing to reorder"})
	}

	key := strings.TrimSpace(c.Request().Header.Get(IdempotencyHeader))
	recorded := false
	if key != "" && s.dedupe != nil {
		added, err := s.dedupe.Add(ctx, userID, key)
		switch {
		case err != nil:
			s.log.WithError(err).Warn("idempotency check failed; applying request")
		case !added:
			return c.JSON(http.StatusOK, ReorderResponse{Message: "Tasks reordered successfully", Replayed: true})
		default:
			recorded = true
		}
	}

	_, err := timed(c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.BulkReposition(ctx, req.BoardID, req.Items)
	})
	if err != nil {
		if recorded {
			if rerr := s.dedupe.Remove(context.WithoutCancel(ctx), userID, key); rerr != nil {
				s.log.Errorf("dedupe rollback failed, err: %v, key: %s, user: %s", rerr, key, userID)
			}
		}
		return s.fail(c, fmt.Errorf("reorder board %s: %w", req.BoardID, err))
	}
	s.events.Send(newEvent(domain.TasksRepositioned, "board", req.BoardID, req.BoardID, userID, req.Items))
	return c.JSON(http.StatusOK, ReorderResponse{Message: "Tasks reordered successfully", Applied: len(req.Items)})
}
