// Package client talks to the flowboard HTTP API. A Client satisfies
// board.Collaborator, so a board engine can persist drags through it.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/eishaa-e/flowboard/api"
	"github.com/eishaa-e/flowboard/domain"
	"github.com/eishaa-e/flowboard/storage"
)

// Client wraps http.Client with helpers for the JSON API.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	// Retries is how many times a reorder is resent after a transport or
	// server error. Every attempt carries the same idempotency key.
	Retries int
	Backoff time.Duration
}

// New creates a new Client.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		Retries: 2,
		Backoff: 200 * time.Millisecond,
	}
}

// Error is a non-2xx API response. It unwraps to the domain error matching
// its status and, for 400 responses, its code.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api: %d %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case e.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case e.StatusCode == http.StatusBadRequest:
		return rejection(e.Code)
	case e.StatusCode >= http.StatusInternalServerError:
		return domain.ErrPersistence
	}
	return nil
}

func rejection(code string) error {
	switch code {
	case api.CodeInvalidIndex:
		return domain.ErrInvalidIndex
	case api.CodeInvalidLane:
		return domain.ErrInvalidLane
	case api.CodeConflict:
		return domain.ErrConflict
	case api.CodeBatchTooLarge:
		return storage.ErrBatchTooLarge
	}
	return domain.ErrInvalidRequest
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any, header http.Header) error {
	var rd io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %w", method, path, domain.ErrPersistence, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w: %w", method, path, domain.ErrPersistence, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = sonic.Unmarshal(data, &e)
		return &Error{StatusCode: resp.StatusCode, Code: e.Code, Message: e.Error}
	}
	if out != nil && len(data) > 0 {
		if err := sonic.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

type userResponse struct {
	User  domain.User `json:"user"`
	Token string      `json:"token"`
}

// Signup registers a new account.
func (c *Client) Signup(ctx context.Context, name, email, password string) (domain.User, error) {
	var resp userResponse
	body := map[string]string{"name": name, "email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/signup", body, &resp, nil); err != nil {
		return domain.User{}, err
	}
	return resp.User, nil
}

// Login opens a session and keeps its token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (domain.User, error) {
	var resp userResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", body, &resp, nil); err != nil {
		return domain.User{}, err
	}
	c.Token = resp.Token
	return resp.User, nil
}

func (c *Client) Me(ctx context.Context) (domain.User, error) {
	var u domain.User
	err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &u, nil)
	return u, err
}

func (c *Client) Workspaces(ctx context.Context) ([]domain.Workspace, error) {
	var list []domain.Workspace
	err := c.do(ctx, http.MethodGet, "/api/workspaces", nil, &list, nil)
	return list, err
}

func (c *Client) CreateWorkspace(ctx context.Context, name, description string) (domain.Workspace, error) {
	var ws domain.Workspace
	body := map[string]string{"name": name, "description": description}
	err := c.do(ctx, http.MethodPost, "/api/workspaces", body, &ws, nil)
	return ws, err
}

func (c *Client) DeleteWorkspace(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/workspaces/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) Boards(ctx context.Context, workspaceID string) ([]domain.Board, error) {
	var list []domain.Board
	err := c.do(ctx, http.MethodGet, "/api/workspaces/"+url.PathEscape(workspaceID)+"/boards", nil, &list, nil)
	return list, err
}

func (c *Client) CreateBoard(ctx context.Context, workspaceID, title string) (domain.Board, error) {
	var b domain.Board
	body := map[string]string{"title": title, "workspaceId": workspaceID}
	err := c.do(ctx, http.MethodPost, "/api/boards", body, &b, nil)
	return b, err
}

// ListTasks returns the board's tasks grouped by lane in position order.
func (c *Client) ListTasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	var tasks []domain.Task
	err := c.do(ctx, http.MethodGet, "/api/boards/"+url.PathEscape(boardID)+"/tasks", nil, &tasks, nil)
	return tasks, err
}

// CreateTask appends a task to the end of lane.
func (c *Client) CreateTask(ctx context.Context, boardID, title string, lane domain.Lane) (domain.Task, error) {
	var t domain.Task
	body := map[string]string{"title": title, "boardId": boardID, "status": string(lane)}
	err := c.do(ctx, http.MethodPost, "/api/tasks", body, &t, nil)
	return t, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil, nil)
}

// BulkReposition sends the change set as one reorder request. Transport and
// server errors are retried with the same idempotency key, so the server
// applies the set at most once.
func (c *Client) BulkReposition(ctx context.Context, boardID string, changes []domain.Change) error {
	if changes == nil {
		changes = []domain.Change{}
	}
	body := api.ReorderRequest{BoardID: boardID, Items: changes}
	header := http.Header{}
	header.Set(api.IdempotencyHeader, uuid.NewString())

	backoff := c.Backoff
	for attempt := 0; ; attempt++ {
		err := c.do(ctx, http.MethodPatch, "/api/tasks/reorder", body, nil, header)
		if err == nil || !retryable(err) || attempt >= c.Retries {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", domain.ErrPersistence, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < time.Second {
			backoff *= 2
		}
	}
}

func retryable(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError
	}
	return errors.Is(err, domain.ErrPersistence)
}
