package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/eishaa-e/flowboard/api"
	"github.com/eishaa-e/flowboard/board"
	"github.com/eishaa-e/flowboard/domain"
	"github.com/eishaa-e/flowboard/storage"
)

var _ board.Collaborator = (*Client)(nil)

func newTestServer(t *testing.T) *Client {
	t.Helper()
	store, err := storage.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	logger, _ := test.NewNullLogger()
	e := echo.New()
	api.Register(e, api.Config{
		Store:  store,
		Auth:   api.NewAuth(api.AuthConfig{Secret: []byte("test-secret")}),
		Logger: logger,
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return New(srv.URL, "")
}

func seedBoard(t *testing.T, c *Client) domain.Board {
	t.Helper()
	ctx := context.Background()
	if _, err := c.Signup(ctx, "Ada", "ada@example.com", "secret"); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if _, err := c.Login(ctx, "ada@example.com", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	ws, err := c.CreateWorkspace(ctx, "Home", "")
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	b, err := c.CreateBoard(ctx, ws.ID, "Sprint")
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	return b
}

func TestClientSessionAndErrors(t *testing.T) {
	c := newTestServer(t)
	ctx := context.Background()

	if _, err := c.Me(ctx); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	b := seedBoard(t, c)
	if c.Token == "" {
		t.Fatal("expected login to keep the token")
	}
	me, err := c.Me(ctx)
	if err != nil || me.Email != "ada@example.com" {
		t.Fatalf("me: %+v err %v", me, err)
	}

	if _, err := c.ListTasks(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var apiErr *Error
	_, err = c.CreateTask(ctx, b.ID, "", domain.LaneTodo)
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest || apiErr.Message == "" {
		t.Fatalf("expected 400 API error, got %v", err)
	}

	boards, err := c.Boards(ctx, b.WorkspaceID)
	if err != nil || len(boards) != 1 || boards[0].ID != b.ID {
		t.Fatalf("boards: %+v err %v", boards, err)
	}
	list, err := c.Workspaces(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("workspaces: %+v err %v", list, err)
	}
	if err := c.DeleteWorkspace(ctx, b.WorkspaceID); err != nil {
		t.Fatalf("delete workspace: %v", err)
	}
	if _, err := c.Boards(ctx, b.WorkspaceID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestClientDistinguishesRejections(t *testing.T) {
	c := newTestServer(t)
	ctx := context.Background()
	b := seedBoard(t, c)
	task, err := c.CreateTask(ctx, b.ID, "A", domain.LaneTodo)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	cases := map[string]struct {
		call func() error
		want error
	}{
		"duplicate signup": {
			call: func() error {
				_, err := c.Signup(ctx, "Ada", "ADA@example.com", "secret")
				return err
			},
			want: domain.ErrConflict,
		},
		"missing title": {
			call: func() error {
				_, err := c.CreateTask(ctx, b.ID, "", domain.LaneTodo)
				return err
			},
			want: domain.ErrInvalidRequest,
		},
		"unknown lane": {
			call: func() error {
				return c.BulkReposition(ctx, b.ID, []domain.Change{{ID: task.ID, Status: "blocked"}})
			},
			want: domain.ErrInvalidLane,
		},
		"negative position": {
			call: func() error {
				return c.BulkReposition(ctx, b.ID, []domain.Change{{ID: task.ID, Status: domain.LaneDone, Position: -1}})
			},
			want: domain.ErrInvalidIndex,
		},
	}
	sentinels := []error{domain.ErrConflict, domain.ErrInvalidRequest, domain.ErrInvalidLane, domain.ErrInvalidIndex}
	for name, tc := range cases {
		err := tc.call()
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", name, tc.want, err)
		}
		for _, other := range sentinels {
			if other != tc.want && errors.Is(err, other) {
				t.Fatalf("%s: error %v also matches %v", name, err, other)
			}
		}
	}

	batch := &Error{StatusCode: http.StatusBadRequest, Code: api.CodeBatchTooLarge}
	if !errors.Is(batch, storage.ErrBatchTooLarge) || errors.Is(batch, domain.ErrInvalidIndex) {
		t.Fatalf("unexpected unwrap for %v", batch)
	}
}

func TestClientDrivesEngine(t *testing.T) {
	c := newTestServer(t)
	ctx := context.Background()
	b := seedBoard(t, c)
	for _, title := range []string{"A", "B", "C"} {
		if _, err := c.CreateTask(ctx, b.ID, title, domain.LaneTodo); err != nil {
			t.Fatalf("create task: %v", err)
		}
	}

	tasks, err := c.ListTasks(ctx, b.ID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	e := board.NewEngine(b.ID, tasks, c)
	defer e.Close()

	first := tasks[0].ID
	if err := e.DragStart(first); err != nil {
		t.Fatalf("drag start: %v", err)
	}
	outcome, err := e.Drop(ctx, &board.DragOver{Lane: domain.LaneDone})
	if err != nil || outcome != board.Submitted {
		t.Fatalf("drop: %v %v", outcome, err)
	}
	select {
	case res := <-e.Results():
		if err := e.Settle(res); err != nil {
			t.Fatalf("settle: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("commit did not resolve")
	}

	stored, err := c.ListTasks(ctx, b.ID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if diff := cmp.Diff(e.Confirmed().Items(), stored); diff != "" {
		t.Fatalf("server state differs from confirmed snapshot (-want +got):\n%s", diff)
	}
	if got, _ := e.Confirmed().LaneOf(first); got != domain.LaneDone {
		t.Fatalf("expected task in done, got %s", got)
	}

	if _, err := e.Create(ctx, "D", domain.LaneInProgress); err != nil {
		t.Fatalf("create through engine: %v", err)
	}
	if n := len(e.Working().ItemsInLane(domain.LaneInProgress)); n != 1 {
		t.Fatalf("expected created task in working snapshot, got %d", n)
	}
}

func TestBulkRepositionRetriesWithSameKey(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get(api.IdempotencyHeader))
		n := len(keys)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"ok","applied":1}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "token")
	c.Backoff = time.Millisecond
	if err := c.BulkReposition(context.Background(), "b1", []domain.Change{{ID: "t1", Status: domain.LaneDone}}); err != nil {
		t.Fatalf("bulk reposition: %v", err)
	}
	if len(keys) != 2 || keys[0] == "" || keys[0] != keys[1] {
		t.Fatalf("expected two attempts with one key, got %q", keys)
	}
}

func TestBulkRepositionDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"task missing: not found"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "token")
	c.Backoff = time.Millisecond
	err := c.BulkReposition(context.Background(), "b1", []domain.Change{{ID: "missing", Status: domain.LaneDone}})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestTransportErrorsMapToPersistence(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, "token")
	c.Retries = 0
	if _, err := c.ListTasks(context.Background(), "b1"); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	err := c.BulkReposition(context.Background(), "b1", []domain.Change{{ID: "t", Status: domain.LaneTodo}})
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}
