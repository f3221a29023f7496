package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"github.com/eishaa-e/flowboard/domain"
)

type fakeTable struct {
	mu           sync.Mutex
	rows         map[string]map[string]any
	transactions int
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: map[string]map[string]any{}}
}

func rowID(pk, rk string) string { return pk + "\x00" + rk }

func respErr(status int) error {
	return &azcore.ResponseError{StatusCode: status, ErrorCode: http.StatusText(status)}
}

func decodeRow(entity []byte) (map[string]any, string, error) {
	var row map[string]any
	if err := sonic.Unmarshal(entity, &row); err != nil {
		return nil, "", err
	}
	pk, _ := row["PartitionKey"].(string)
	rk, _ := row["RowKey"].(string)
	return row, rowID(pk, rk), nil
}

func (f *fakeTable) add(entity []byte) error {
	row, id, err := decodeRow(entity)
	if err != nil {
		return err
	}
	if _, ok := f.rows[id]; ok {
		return respErr(http.StatusConflict)
	}
	f.rows[id] = row
	return nil
}

func (f *fakeTable) merge(entity []byte) error {
	row, id, err := decodeRow(entity)
	if err != nil {
		return err
	}
	cur, ok := f.rows[id]
	if !ok {
		return respErr(http.StatusNotFound)
	}
	for k, v := range row {
		cur[k] = v
	}
	return nil
}

func (f *fakeTable) remove(pk, rk string) error {
	id := rowID(pk, rk)
	if _, ok := f.rows[id]; !ok {
		return respErr(http.StatusNotFound)
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeTable) AddEntity(_ context.Context, entity []byte, _ *aztables.AddEntityOptions) (aztables.AddEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return aztables.AddEntityResponse{}, f.add(entity)
}

func (f *fakeTable) GetEntity(_ context.Context, pk, rk string, _ *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[rowID(pk, rk)]
	if !ok {
		return aztables.GetEntityResponse{}, respErr(http.StatusNotFound)
	}
	data, err := sonic.Marshal(row)
	return aztables.GetEntityResponse{Value: data}, err
}

func (f *fakeTable) UpdateEntity(_ context.Context, entity []byte, _ *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return aztables.UpdateEntityResponse{}, f.merge(entity)
}

func (f *fakeTable) DeleteEntity(_ context.Context, pk, rk string, _ *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return aztables.DeleteEntityResponse{}, f.remove(pk, rk)
}

// NewListEntitiesPager understands "PartitionKey eq '..'" and
// "RowKey eq '..'" filters.
func (f *fakeTable) NewListEntitiesPager(opts *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	var field, value string
	if opts != nil && opts.Filter != nil {
		field, value, _ = strings.Cut(*opts.Filter, " eq ")
		value = strings.ReplaceAll(strings.Trim(value, "'"), "''", "'")
	}
	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(aztables.ListEntitiesResponse) bool { return false },
		Fetcher: func(context.Context, *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			var resp aztables.ListEntitiesResponse
			for _, row := range f.rows {
				if field != "" && row[field] != value {
					continue
				}
				data, err := sonic.Marshal(row)
				if err != nil {
					return resp, err
				}
				resp.Entities = append(resp.Entities, data)
			}
			return resp, nil
		},
	})
}

func (f *fakeTable) SubmitTransaction(_ context.Context, actions []aztables.TransactionAction, _ *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactions++
	if len(actions) > MaxTransactionActions {
		return aztables.TransactionResponse{}, respErr(http.StatusBadRequest)
	}
	backup := make(map[string]map[string]any, len(f.rows))
	for id, row := range f.rows {
		cp := make(map[string]any, len(row))
		for k, v := range row {
			cp[k] = v
		}
		backup[id] = cp
	}
	for _, a := range actions {
		var err error
		switch a.ActionType {
		case aztables.TransactionTypeAdd:
			err = f.add(a.Entity)
		case aztables.TransactionTypeUpdateMerge:
			err = f.merge(a.Entity)
		case aztables.TransactionTypeDelete:
			var keys entityKeys
			if err = sonic.Unmarshal(a.Entity, &keys); err == nil {
				err = f.remove(keys.PartitionKey, keys.RowKey)
			}
		default:
			err = fmt.Errorf("unsupported action %s", a.ActionType)
		}
		if err != nil {
			f.rows = backup
			return aztables.TransactionResponse{}, err
		}
	}
	return aztables.TransactionResponse{}, nil
}

func newTestTables() (*Tables, *fakeTable) {
	tasks := newFakeTable()
	return newTables(newFakeTable(), newFakeTable(), newFakeTable(), tasks), tasks
}

func TestTablesUsers(t *testing.T) {
	s, _ := newTestTables()
	ctx := context.Background()

	u, err := s.CreateUser(ctx, domain.User{Name: "Ada", Email: "Ada@Example.com", PasswordHash: "hash"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := s.CreateUser(ctx, domain.User{Name: "Ada", Email: "ada@example.com"}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, err := s.UserByEmail(ctx, "ADA@example.com")
	if err != nil {
		t.Fatalf("user by email: %v", err)
	}
	if got.ID != u.ID || got.PasswordHash != "hash" || !got.CreatedAt.Equal(u.CreatedAt) {
		t.Fatalf("unexpected user %+v, want %+v", got, u)
	}
	if _, err := s.UserByEmail(ctx, "nobody@example.com"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTablesBoardLifecycle(t *testing.T) {
	s, tasksTable := newTestTables()
	ctx := context.Background()
	_, ws, b := seedBoard(t, s)

	if b.Position != 0 {
		t.Fatalf("expected first board at 0, got %d", b.Position)
	}
	second, err := s.CreateBoard(ctx, domain.Board{Title: "Next", WorkspaceID: ws.ID})
	if err != nil || second.Position != 1 {
		t.Fatalf("expected second board at 1, got %+v err %v", second, err)
	}

	a, _ := s.CreateTask(ctx, b.ID, "A", domain.LaneTodo)
	c, _ := s.CreateTask(ctx, b.ID, "B", domain.LaneTodo)
	if a.Position != 0 || c.Position != 1 {
		t.Fatalf("expected lane-end positions, got %d %d", a.Position, c.Position)
	}

	changes := []domain.Change{
		{ID: a.ID, Status: domain.LaneDone, Position: 0},
		{ID: c.ID, Status: domain.LaneTodo, Position: 0},
	}
	if err := s.BulkReposition(ctx, b.ID, changes); err != nil {
		t.Fatalf("bulk reposition: %v", err)
	}
	got, err := s.GetTask(ctx, a.ID)
	if err != nil || got.Status != domain.LaneDone || got.Title != "A" {
		t.Fatalf("expected A in done with title kept, got %+v err %v", got, err)
	}

	if err := s.BulkReposition(ctx, b.ID, []domain.Change{{ID: c.ID, Status: domain.LaneDone, Position: 5}, {ID: "missing", Status: domain.LaneTodo}}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got, _ := s.GetTask(ctx, c.ID); got.Status != domain.LaneTodo {
		t.Fatalf("partial transaction applied: %+v", got)
	}

	if err := s.DeleteWorkspace(ctx, ws.ID); err != nil {
		t.Fatalf("delete workspace: %v", err)
	}
	if _, err := s.GetBoard(ctx, b.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected board deleted, got %v", err)
	}
	if len(tasksTable.rows) != 0 {
		t.Fatalf("expected tasks deleted, %d left", len(tasksTable.rows))
	}
}

func TestTablesBulkRepositionLimit(t *testing.T) {
	s, tasksTable := newTestTables()
	changes := make([]domain.Change, MaxTransactionActions+1)
	for i := range changes {
		changes[i] = domain.Change{ID: fmt.Sprintf("t%d", i), Status: domain.LaneTodo, Position: i}
	}
	if err := s.BulkReposition(context.Background(), "b1", changes); !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
	if tasksTable.transactions != 0 {
		t.Fatalf("expected no transaction to be submitted")
	}
}

func TestTablesQuotesFilterValues(t *testing.T) {
	s, _ := newTestTables()
	ctx := context.Background()
	_, _, b := seedBoard(t, s)

	task, err := s.InsertTask(ctx, domain.Task{ID: "it's", BoardID: b.ID, Title: "quote", Status: domain.LaneInProgress})
	if err != nil {
		t.Fatalf("insert task: %v", err)
	}
	got, err := s.GetTask(ctx, task.ID)
	if err != nil || got.Title != "quote" {
		t.Fatalf("expected quoted lookup to work, got %+v err %v", got, err)
	}
	if odataString("it's") != "'it''s'" {
		t.Fatalf("unexpected quoting %s", odataString("it's"))
	}
}

func TestTablesUpdateTaskMovesLane(t *testing.T) {
	s, _ := newTestTables()
	ctx := context.Background()
	_, _, b := seedBoard(t, s)
	_, _ = s.CreateTask(ctx, b.ID, "D", domain.LaneDone)
	a, _ := s.CreateTask(ctx, b.ID, "A", domain.LaneTodo)

	updated, err := s.UpdateTask(ctx, domain.Task{ID: a.ID, Title: "A2", Description: "more", Status: domain.LaneDone})
	if err != nil {
		t.Fatalf("update task: %v", err)
	}
	if updated.Status != domain.LaneDone || updated.Position != 1 || updated.Description != "more" {
		t.Fatalf("unexpected task %+v", updated)
	}
	if err := s.DeleteTask(ctx, a.ID); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	if _, err := s.GetTask(ctx, a.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
