package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eishaa-e/flowboard/domain"
)

type boardRequest struct {
	Title       string `json:"title"`
	WorkspaceID string `json:"workspaceId"`
}

func (s *server) listBoards(c echo.Context) error {
	boards, err := timed(c, func(ctx context.Context) ([]domain.Board, error) {
		id := c.Param("workspaceId")
		if _, err := s.ownedWorkspace(ctx, currentUser(c), id); err != nil {
			return nil, err
		}
		return s.store.ListBoards(ctx, id)
	})
	if err != nil {
		return s.fail(c, err)
	}
	metricsFrom(c).SetItems(len(boards))
	return c.JSON(http.StatusOK, boards)
}

func (s *server) createBoard(c echo.Context) error {
	var req boardRequest
	if err := decode(c, &req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.Title = strings.TrimSpace(req.Title); req.Title == "" || req.WorkspaceID == "" {
		return badRequest(c, "title and workspaceId are required")
	}
	userID := currentUser(c)
	b, err := timed(c, func(ctx context.Context) (domain.Board, error) {
		if _, err := s.ownedWorkspace(ctx, userID, req.WorkspaceID); err != nil {
			return domain.Board{}, err
		}
		return s.store.CreateBoard(ctx, domain.Board{Title: req.Title, WorkspaceID: req.WorkspaceID})
	})
	if err != nil {
		return s.fail(c, err)
	}
	s.events.Send(newEvent(domain.BoardCreated, "board", b.ID, b.ID, userID, b))
	return c.JSON(http.StatusCreated, b)
}

func (s *server) getBoard(c echo.Context) error {
	b, err := timed(c, func(ctx context.Context) (domain.Board, error) {
		return s.ownedBoard(ctx, currentUser(c), c.Param("boardId"))
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

func (s *server) updateBoard(c echo.Context) error {
	var req boardRequest
	if err := decode(c, &req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.Title = strings.TrimSpace(req.Title); req.Title == "" {
		return badRequest(c, "title is required")
	}
	userID := currentUser(c)
	b, err := timed(c, func(ctx context.Context) (domain.Board, error) {
		b, err := s.ownedBoard(ctx, userID, c.Param("boardId"))
		if err != nil {
			return b, err
		}
		b.Title = req.Title
		return s.store.UpdateBoard(ctx, b)
	})
	if err != nil {
		return s.fail(c, err)
	}
	s.events.Send(newEvent(domain.BoardUpdated, "board", b.ID, b.ID, userID, b))
	return c.JSON(http.StatusOK, b)
}

func (s *server) deleteBoard(c echo.Context) error {
	userID := currentUser(c)
	id := c.Param("boardId")
	_, err := timed(c, func(ctx context.Context) (struct{}, error) {
		if _, err := s.ownedBoard(ctx, userID, id); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, s.store.DeleteBoard(ctx, id)
	})
	if err != nil {
		return s.fail(c, err)
	}
	s.events.Send(newEvent(domain.BoardDeleted, "board", id, id, userID, nil))
	return c.JSON(http.StatusOK, messageResponse{Message: "Board deleted"})
}
