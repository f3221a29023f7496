package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eishaa-e/flowboard/domain"
)

type workspaceRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *server) listWorkspaces(c echo.Context) error {
	list, err := timed(c, func(ctx context.Context) ([]domain.Workspace, error) {
		return s.store.ListWorkspaces(ctx, currentUser(c))
	})
	if err != nil {
		return s.fail(c, err)
	}
	metricsFrom(c).SetItems(len(list))
	return c.JSON(http.StatusOK, list)
}

func (s *server) createWorkspace(c echo.Context) error {
	var req workspaceRequest
	if err := decode(c, &req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.Name = strings.TrimSpace(req.Name); req.Name == "" {
		return badRequest(c, "name is required")
	}
	userID := currentUser(c)
	ws, err := timed(c, func(ctx context.Context) (domain.Workspace, error) {
		return s.store.CreateWorkspace(ctx, domain.Workspace{Name: req.Name, Description: req.Description, OwnerID: userID})
	})
	if err != nil {
		return s.fail(c, err)
	}
	s.events.Send(newEvent(domain.WorkspaceCreated, "workspace", ws.ID, "", userID, ws))
	return c.JSON(http.StatusCreated, ws)
}

func (s *server) getWorkspace(c echo.Context) error {
	ws, err := timed(c, func(ctx context.Context) (domain.Workspace, error) {
		return s.ownedWorkspace(ctx, currentUser(c), c.Param("workspaceId"))
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, ws)
}

func (s *server) updateWorkspace(c echo.Context) error {
	var req workspaceRequest
	if err := decode(c, &req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.Name = strings.TrimSpace(req.Name); req.Name == "" {
		return badRequest(c, "name is required")
	}
	userID := currentUser(c)
	ws, err := timed(c, func(ctx context.Context) (domain.Workspace, error) {
		ws, err := s.ownedWorkspace(ctx, userID, c.Param("workspaceId"))
		if err != nil {
			return ws, err
		}
		ws.Name, ws.Description = req.Name, req.Description
		return s.store.UpdateWorkspace(ctx, ws)
	})
	if err != nil {
		return s.fail(c, err)
	}
	s.events.Send(newEvent(domain.WorkspaceUpdated, "workspace", ws.ID, "", userID, ws))
	return c.JSON(http.StatusOK, ws)
}

// deleteWorkspace removes the workspace with its boards and their tasks.
func (s *server) deleteWorkspace(c echo.Context) error {
	userID := currentUser(c)
	id := c.Param("workspaceId")
	boards, err := timed(c, func(ctx context.Context) ([]domain.Board, error) {
		if _, err := s.ownedWorkspace(ctx, userID, id); err != nil {
			return nil, err
		}
		boards, err := s.store.ListBoards(ctx, id)
		if err != nil {
			return nil, err
		}
		return boards, s.store.DeleteWorkspace(ctx, id)
	})
	if err != nil {
		return s.fail(c, err)
	}
	events := []domain.Event{newEvent(domain.WorkspaceDeleted, "workspace", id, "", userID, nil)}
	for _, b := range boards {
		events = append(events, newEvent(domain.BoardDeleted, "board", b.ID, b.ID, userID, nil))
	}
	s.events.Send(events...)
	return c.JSON(http.StatusOK, messageResponse{Message: "Workspace deleted"})
}
