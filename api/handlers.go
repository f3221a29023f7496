package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/eishaa-e/flowboard/domain"
)

const maxBodySize = 256 * 1024

// Config carries the collaborators of the HTTP API.
type Config struct {
	Store   Storage
	Auth    Authenticator
	Deduper Deduper
	Events  EventSink
	Broker  *Broker
	Logger  *log.Logger

	// SessionTTL is the lifetime of the session cookie.
	SessionTTL    time.Duration
	// SecureCookies marks the session cookie Secure.
	SecureCookies bool
}

type server struct {
	store  Storage
	auth   Authenticator
	dedupe Deduper
	events EventSink
	broker *Broker
	log    *log.Logger
	secure bool

	sessionTTL time.Duration
}

type discardEvents struct{}

func (discardEvents) Send(...domain.Event) {}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, cfg Config) {
	if cfg.Logger == nil {
		panic("Logger is not initialized")
	}
	s := &server{
		store:  cfg.Store,
		auth:   cfg.Auth,
		dedupe: cfg.Deduper,
		events: cfg.Events,
		broker: cfg.Broker,
		log:    cfg.Logger,
		secure: cfg.SecureCookies,

		sessionTTL: cfg.SessionTTL,
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = defaultSessionTTL
	}
	if s.events == nil {
		s.events = discardEvents{}
	}
	if s.broker == nil {
		s.broker = NewBroker()
	}

	e.JSONSerializer = Serializer{}
	e.Use(observe(cfg.Logger), GzipRequestMiddleware())

	e.GET("/healthz", s.healthz)
	e.POST("/api/auth/signup", s.signup)
	e.POST("/api/auth/login", s.login)
	e.POST("/api/auth/logout", s.logout)
	e.GET("/api/boards/:boardId/stream", s.streamTasks)

	g := e.Group("/api", requireSession(cfg.Auth))
	g.GET("/auth/me", s.me)

	g.GET("/workspaces", s.listWorkspaces)
	g.POST("/workspaces", s.createWorkspace)
	g.GET("/workspaces/:workspaceId", s.getWorkspace)
	g.PUT("/workspaces/:workspaceId", s.updateWorkspace)
	g.DELETE("/workspaces/:workspaceId", s.deleteWorkspace)
	g.GET("/workspaces/:workspaceId/boards", s.listBoards)

	g.POST("/boards", s.createBoard)
	g.GET("/boards/:boardId", s.getBoard)
	g.PUT("/boards/:boardId", s.updateBoard)
	g.DELETE("/boards/:boardId", s.deleteBoard)
	g.GET("/boards/:boardId/tasks", s.listTasks)

	g.POST("/tasks", s.createTask)
	g.PATCH("/tasks/reorder", s.reorderTasks)
	g.PUT("/tasks/:taskId", s.updateTask)
	g.DELETE("/tasks/:taskId", s.deleteTask)
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *server) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.log.WithError(err).Warn("health check failed")
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "storage unavailable"})
	}
	return c.NoContent(http.StatusOK)
}

// decode reads a JSON body of at most maxBodySize bytes into v.
func decode(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	if err := sonic.ConfigStd.NewDecoder(lr).Decode(v); err != nil {
		return fmt.Errorf("invalid body: %w", err)
	}
	return nil
}

// timed runs fn and records its duration as storage time.
func timed[T any](c echo.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := fn(c.Request().Context())
	metricsFrom(c).ObserveStore(time.Since(start))
	return v, err
}

func (s *server) ownedWorkspace(ctx context.Context, userID, id string) (domain.Workspace, error) {
	ws, err := s.store.GetWorkspace(ctx, id)
	if err != nil {
		return domain.Workspace{}, err
	}
	if ws.OwnerID != userID {
		return domain.Workspace{}, fmt.Errorf("workspace %s: %w", id, domain.ErrNotFound)
	}
	return ws, nil
}

func (s *server) ownedBoard(ctx context.Context, userID, id string) (domain.Board, error) {
	b, err := s.store.GetBoard(ctx, id)
	if err != nil {
		return domain.Board{}, err
	}
	if _, err := s.ownedWorkspace(ctx, userID, b.WorkspaceID); err != nil {
		return domain.Board{}, fmt.Errorf("board %s: %w", id, domain.ErrNotFound)
	}
	return b, nil
}

func (s *server) ownedTask(ctx context.Context, userID, id string) (domain.Task, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.ownedBoard(ctx, userID, t.BoardID); err != nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return t, nil
}
