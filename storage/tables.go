package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"github.com/eishaa-e/flowboard/domain"
)

// MaxTransactionActions is the entity-group transaction limit of Azure
// Tables. Larger change sets are rejected with ErrBatchTooLarge.
const MaxTransactionActions = 100

// ErrBatchTooLarge is returned when a change set cannot be applied in one
// transaction.
var ErrBatchTooLarge = errors.New("change set too large")

const (
	edmInt64       = "Edm.Int64"
	userPartition  = "user"
	emailPartition = "email"
)

// tableClient is the subset of *aztables.Client used by Tables.
type tableClient interface {
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	NewListEntitiesPager(options *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, options *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
}

var _ Backend = (*Tables)(nil)

// Tables is a Backend over Azure Table Storage. Tasks are partitioned by
// board so a change set is applied in a single entity-group transaction.
type Tables struct {
	users      tableClient
	workspaces tableClient
	boards     tableClient
	tasks      tableClient
}

// TableNames names the tables used by the Tables backend.
type TableNames struct {
	Users      string
	Workspaces string
	Boards     string
	Tasks      string
}

func (n TableNames) all() []string {
	return []string{n.Users, n.Workspaces, n.Boards, n.Tasks}
}

func tablesClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// NewTables creates a Tables backend from a storage connection string.
func NewTables(connStr string, names TableNames) (*Tables, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tablesClientOptions())
	if err != nil {
		return nil, err
	}
	return newTables(
		svc.NewClient(names.Users),
		svc.NewClient(names.Workspaces),
		svc.NewClient(names.Boards),
		svc.NewClient(names.Tasks),
	), nil
}

func newTables(users, workspaces, boards, tasks tableClient) *Tables {
	return &Tables{users: users, workspaces: workspaces, boards: boards, tasks: tasks}
}

type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type userEntity struct {
	entityKeys
	Name          string `json:"Name"`
	Email         string `json:"Email"`
	PasswordHash  string `json:"PasswordHash"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

type emailEntity struct {
	entityKeys
	UserID string `json:"UserId"`
}

type workspaceEntity struct {
	entityKeys
	Name          string `json:"Name"`
	Description   string `json:"Description"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

type boardEntity struct {
	entityKeys
	Title         string `json:"Title"`
	Position      int    `json:"Position"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

type taskEntity struct {
	entityKeys
	Title         string `json:"Title"`
	Description   string `json:"Description"`
	Status        string `json:"Status"`
	Position      int    `json:"Position"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

type placementUpdate struct {
	entityKeys
	Status   string `json:"Status"`
	Position int    `json:"Position"`
}

func (e taskEntity) task() domain.Task {
	return domain.Task{
		ID:          e.RowKey,
		BoardID:     e.PartitionKey,
		Title:       e.Title,
		Description: e.Description,
		Status:      domain.Lane(e.Status),
		Position:    e.Position,
		CreatedAt:   fromMillis(e.CreatedAt),
	}
}

func newTaskEntity(t domain.Task) taskEntity {
	return taskEntity{
		entityKeys:    entityKeys{PartitionKey: t.BoardID, RowKey: t.ID},
		Title:         t.Title,
		Description:   t.Description,
		Status:        string(t.Status),
		Position:      t.Position,
		CreatedAt:     t.CreatedAt.UnixMilli(),
		CreatedAtType: edmInt64,
	}
}

func (e boardEntity) board() domain.Board {
	return domain.Board{
		ID:          e.RowKey,
		Title:       e.Title,
		WorkspaceID: e.PartitionKey,
		Position:    e.Position,
		CreatedAt:   fromMillis(e.CreatedAt),
	}
}

func (e workspaceEntity) workspace() domain.Workspace {
	return domain.Workspace{
		ID:          e.RowKey,
		Name:        e.Name,
		Description: e.Description,
		OwnerID:     e.PartitionKey,
		CreatedAt:   fromMillis(e.CreatedAt),
	}
}

func (e userEntity) user() domain.User {
	return domain.User{
		ID:           e.RowKey,
		Name:         e.Name,
		Email:        e.Email,
		PasswordHash: e.PasswordHash,
		CreatedAt:    fromMillis(e.CreatedAt),
	}
}

// emailKey makes an address safe for use as a RowKey.
func emailKey(email string) string {
	return hex.EncodeToString([]byte(normalizeEmail(email)))
}

func odataString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func statusOf(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

// translate maps Azure response codes onto the domain error taxonomy.
func translate(err error, what, id string) error {
	switch statusOf(err) {
	case http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", what, id, domain.ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("%s %s: %w", what, id, domain.ErrConflict)
	}
	return fmt.Errorf("%s %s: %w", what, id, err)
}

func listEntities[T any](ctx context.Context, c tableClient, filter string) ([]T, error) {
	opts := &aztables.ListEntitiesOptions{}
	if filter != "" {
		opts.Filter = &filter
	}
	pager := c.NewListEntitiesPager(opts)
	out := []T{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent T
			if err := sonic.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			out = append(out, ent)
		}
	}
	return out, nil
}

// findByRowKey looks an entity up by id when its partition is unknown.
func findByRowKey[T any](ctx context.Context, c tableClient, what, id string) (T, error) {
	var zero T
	ents, err := listEntities[T](ctx, c, "RowKey eq "+odataString(id))
	if err != nil {
		return zero, translate(err, what, id)
	}
	if len(ents) == 0 {
		return zero, fmt.Errorf("%s %s: %w", what, id, domain.ErrNotFound)
	}
	return ents[0], nil
}

func addEntity(ctx context.Context, c tableClient, ent any, what, id string) error {
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return err
	}
	if _, err := c.AddEntity(ctx, payload, nil); err != nil {
		return translate(err, what, id)
	}
	return nil
}

func mergeEntity(ctx context.Context, c tableClient, ent any, what, id string) error {
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	if _, err := c.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge}); err != nil {
		return translate(err, what, id)
	}
	return nil
}

func deleteEntity(ctx context.Context, c tableClient, pk, rk, what string) error {
	if _, err := c.DeleteEntity(ctx, pk, rk, nil); err != nil {
		return translate(err, what, rk)
	}
	return nil
}

func (s *Tables) Close() error { return nil }

// Ping reads at most one task to verify the account is reachable.
func (s *Tables) Ping(ctx context.Context) error {
	top := int32(1)
	pager := s.tasks.NewListEntitiesPager(&aztables.ListEntitiesOptions{Top: &top})
	if pager.More() {
		_, err := pager.NextPage(ctx)
		return err
	}
	return nil
}

// users

func (s *Tables) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	u.Email = normalizeEmail(u.Email)
	if u.ID == "" {
		u.ID = newID()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now()
	}
	key := emailKey(u.Email)
	idx := emailEntity{entityKeys: entityKeys{PartitionKey: emailPartition, RowKey: key}, UserID: u.ID}
	if err := addEntity(ctx, s.users, idx, "user", u.Email); err != nil {
		return domain.User{}, err
	}
	ent := userEntity{
		entityKeys:    entityKeys{PartitionKey: userPartition, RowKey: u.ID},
		Name:          u.Name,
		Email:         u.Email,
		PasswordHash:  u.PasswordHash,
		CreatedAt:     u.CreatedAt.UnixMilli(),
		CreatedAtType: edmInt64,
	}
	if err := addEntity(ctx, s.users, ent, "user", u.ID); err != nil {
		_, _ = s.users.DeleteEntity(ctx, emailPartition, key, nil)
		return domain.User{}, err
	}
	return u, nil
}

func (s *Tables) UserByEmail(ctx context.Context, email string) (domain.User, error) {
	resp, err := s.users.GetEntity(ctx, emailPartition, emailKey(email), nil)
	if err != nil {
		return domain.User{}, translate(err, "user", normalizeEmail(email))
	}
	var idx emailEntity
	if err := sonic.Unmarshal(resp.Value, &idx); err != nil {
		return domain.User{}, err
	}
	return s.UserByID(ctx, idx.UserID)
}

func (s *Tables) UserByID(ctx context.Context, id string) (domain.User, error) {
	resp, err := s.users.GetEntity(ctx, userPartition, id, nil)
	if err != nil {
		return domain.User{}, translate(err, "user", id)
	}
	var ent userEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return domain.User{}, err
	}
	return ent.user(), nil
}

// workspaces

func (s *Tables) ListWorkspaces(ctx context.Context, ownerID string) ([]domain.Workspace, error) {
	ents, err := listEntities[workspaceEntity](ctx, s.workspaces, "PartitionKey eq "+odataString(ownerID))
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	out := make([]domain.Workspace, 0, len(ents))
	for _, e := range ents {
		out = append(out, e.workspace())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Tables) GetWorkspace(ctx context.Context, id string) (domain.Workspace, error) {
	ent, err := findByRowKey[workspaceEntity](ctx, s.workspaces, "workspace", id)
	if err != nil {
		return domain.Workspace{}, err
	}
	return ent.workspace(), nil
}

func (s *Tables) CreateWorkspace(ctx context.Context, ws domain.Workspace) (domain.Workspace, error) {
	if ws.ID == "" {
		ws.ID = newID()
	}
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = now()
	}
	ent := workspaceEntity{
		entityKeys:    entityKeys{PartitionKey: ws.OwnerID, RowKey: ws.ID},
		Name:          ws.Name,
		Description:   ws.Description,
		CreatedAt:     ws.CreatedAt.UnixMilli(),
		CreatedAtType: edmInt64,
	}
	if err := addEntity(ctx, s.workspaces, ent, "workspace", ws.ID); err != nil {
		return domain.Workspace{}, err
	}
	return ws, nil
}

func (s *Tables) UpdateWorkspace(ctx context.Context, ws domain.Workspace) (domain.Workspace, error) {
	cur, err := s.GetWorkspace(ctx, ws.ID)
	if err != nil {
		return domain.Workspace{}, err
	}
	cur.Name, cur.Description = ws.Name, ws.Description
	upd := struct {
		entityKeys
		Name        string `json:"Name"`
		Description string `json:"Description"`
	}{entityKeys{PartitionKey: cur.OwnerID, RowKey: cur.ID}, cur.Name, cur.Description}
	if err := mergeEntity(ctx, s.workspaces, upd, "workspace", cur.ID); err != nil {
		return domain.Workspace{}, err
	}
	return cur, nil
}

// DeleteWorkspace removes the workspace after its boards and their tasks.
func (s *Tables) DeleteWorkspace(ctx context.Context, id string) error {
	ws, err := s.GetWorkspace(ctx, id)
	if err != nil {
		return err
	}
	boards, err := s.ListBoards(ctx, id)
	if err != nil {
		return err
	}
	for _, b := range boards {
		if err := s.DeleteBoard(ctx, b.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}
	return deleteEntity(ctx, s.workspaces, ws.OwnerID, ws.ID, "workspace")
}

// boards

func (s *Tables) ListBoards(ctx context.Context, workspaceID string) ([]domain.Board, error) {
	ents, err := listEntities[boardEntity](ctx, s.boards, "PartitionKey eq "+odataString(workspaceID))
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	out := make([]domain.Board, 0, len(ents))
	for _, e := range ents {
		out = append(out, e.board())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Tables) GetBoard(ctx context.Context, id string) (domain.Board, error) {
	ent, err := findByRowKey[boardEntity](ctx, s.boards, "board", id)
	if err != nil {
		return domain.Board{}, err
	}
	return ent.board(), nil
}

func (s *Tables) CreateBoard(ctx context.Context, b domain.Board) (domain.Board, error) {
	if _, err := s.GetWorkspace(ctx, b.WorkspaceID); err != nil {
		return domain.Board{}, err
	}
	existing, err := s.ListBoards(ctx, b.WorkspaceID)
	if err != nil {
		return domain.Board{}, err
	}
	b.Position = 0
	for _, o := range existing {
		if o.Position >= b.Position {
			b.Position = o.Position + 1
		}
	}
	if b.ID == "" {
		b.ID = newID()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now()
	}
	ent := boardEntity{
		entityKeys:    entityKeys{PartitionKey: b.WorkspaceID, RowKey: b.ID},
		Title:         b.Title,
		Position:      b.Position,
		CreatedAt:     b.CreatedAt.UnixMilli(),
		CreatedAtType: edmInt64,
	}
	if err := addEntity(ctx, s.boards, ent, "board", b.ID); err != nil {
		return domain.Board{}, err
	}
	return b, nil
}

func (s *Tables) UpdateBoard(ctx context.Context, b domain.Board) (domain.Board, error) {
	cur, err := s.GetBoard(ctx, b.ID)
	if err != nil {
		return domain.Board{}, err
	}
	cur.Title = b.Title
	upd := struct {
		entityKeys
		Title string `json:"Title"`
	}{entityKeys{PartitionKey: cur.WorkspaceID, RowKey: cur.ID}, cur.Title}
	if err := mergeEntity(ctx, s.boards, upd, "board", cur.ID); err != nil {
		return domain.Board{}, err
	}
	return cur, nil
}

// DeleteBoard removes the board's tasks in batched transactions, then the
// board itself.
func (s *Tables) DeleteBoard(ctx context.Context, id string) error {
	b, err := s.GetBoard(ctx, id)
	if err != nil {
		return err
	}
	tasks, err := s.ListTasks(ctx, id)
	if err != nil {
		return err
	}
	for start := 0; start < len(tasks); start += MaxTransactionActions {
		end := min(start+MaxTransactionActions, len(tasks))
		actions := make([]aztables.TransactionAction, 0, end-start)
		for _, t := range tasks[start:end] {
			payload, err := sonic.Marshal(entityKeys{PartitionKey: id, RowKey: t.ID})
			if err != nil {
				return err
			}
			actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeDelete, Entity: payload})
		}
		if _, err := s.tasks.SubmitTransaction(ctx, actions, nil); err != nil {
			return translate(err, "board tasks", id)
		}
	}
	return deleteEntity(ctx, s.boards, b.WorkspaceID, b.ID, "board")
}

// tasks

func (s *Tables) ListTasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	ents, err := listEntities[taskEntity](ctx, s.tasks, "PartitionKey eq "+odataString(boardID))
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]domain.Task, 0, len(ents))
	for _, e := range ents {
		out = append(out, e.task())
	}
	sortTasks(out)
	return out, nil
}

// sortTasks orders tasks by lane display order, then position, then id.
func sortTasks(tasks []domain.Task) {
	rank := func(l domain.Lane) int {
		if i := l.Index(); i >= 0 {
			return i
		}
		return len(domain.Lanes)
	}
	sort.Slice(tasks, func(i, j int) bool {
		if ri, rj := rank(tasks[i].Status), rank(tasks[j].Status); ri != rj {
			return ri < rj
		}
		return tasks[i].Less(tasks[j])
	})
}

func (s *Tables) GetTask(ctx context.Context, id string) (domain.Task, error) {
	ent, err := findByRowKey[taskEntity](ctx, s.tasks, "task", id)
	if err != nil {
		return domain.Task{}, err
	}
	return ent.task(), nil
}

func (s *Tables) CreateTask(ctx context.Context, boardID, title string, lane domain.Lane) (domain.Task, error) {
	return s.InsertTask(ctx, domain.Task{BoardID: boardID, Title: title, Status: lane})
}

func (s *Tables) nextPosition(ctx context.Context, boardID string, lane domain.Lane) (int, error) {
	tasks, err := s.ListTasks(ctx, boardID)
	if err != nil {
		return 0, err
	}
	pos := 0
	for _, t := range tasks {
		if t.Status == lane && t.Position >= pos {
			pos = t.Position + 1
		}
	}
	return pos, nil
}

func (s *Tables) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	t, err := prepareTask(t)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.GetBoard(ctx, t.BoardID); err != nil {
		return domain.Task{}, err
	}
	if t.Position, err = s.nextPosition(ctx, t.BoardID, t.Status); err != nil {
		return domain.Task{}, err
	}
	if err := addEntity(ctx, s.tasks, newTaskEntity(t), "task", t.ID); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (s *Tables) UpdateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	cur, err := s.GetTask(ctx, t.ID)
	if err != nil {
		return domain.Task{}, err
	}
	cur.Title, cur.Description = t.Title, t.Description
	if t.Status != "" && t.Status != cur.Status {
		if !t.Status.Valid() {
			return domain.Task{}, fmt.Errorf("%w: %q", domain.ErrInvalidLane, t.Status)
		}
		cur.Status = t.Status
		if cur.Position, err = s.nextPosition(ctx, cur.BoardID, cur.Status); err != nil {
			return domain.Task{}, err
		}
	}
	if err := mergeEntity(ctx, s.tasks, newTaskEntity(cur), "task", cur.ID); err != nil {
		return domain.Task{}, err
	}
	return cur, nil
}

func (s *Tables) DeleteTask(ctx context.Context, id string) error {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	return deleteEntity(ctx, s.tasks, t.BoardID, t.ID, "task")
}

// BulkReposition merges the new lane and position of every task in one
// entity-group transaction on the board partition.
func (s *Tables) BulkReposition(ctx context.Context, boardID string, changes []domain.Change) error {
	if err := validateChanges(changes); err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}
	if len(changes) > MaxTransactionActions {
		return fmt.Errorf("%d changes, at most %d allowed: %w", len(changes), MaxTransactionActions, ErrBatchTooLarge)
	}
	et := azcore.ETagAny
	actions := make([]aztables.TransactionAction, 0, len(changes))
	for _, c := range changes {
		payload, err := sonic.Marshal(placementUpdate{
			entityKeys: entityKeys{PartitionKey: boardID, RowKey: c.ID},
			Status:     string(c.Status),
			Position:   c.Position,
		})
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeUpdateMerge,
			Entity:     payload,
			IfMatch:    &et,
		})
	}
	if _, err := s.tasks.SubmitTransaction(ctx, actions, nil); err != nil {
		return translate(err, "board", boardID)
	}
	return nil
}
