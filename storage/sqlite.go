package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/eishaa-e/flowboard/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS workspaces (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	owner_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS workspaces_owner ON workspaces(owner_id, created_at);
CREATE TABLE IF NOT EXISTS boards (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
	position     INTEGER NOT NULL,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS boards_workspace ON boards(workspace_id, position);
CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	board_id    TEXT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	position    INTEGER NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS tasks_board ON tasks(board_id, status, position);
`

var _ Backend = (*SQLite)(nil)

// SQLite is a Backend over a local SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:"
// opens a private in-memory database.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := "file::memory:?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps the in-memory database alive and serialises
	// writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

type rowScanner interface {
	Scan(dest ...any) error
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && (se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY)
}

func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, domain.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", what, id, err)
}

func expectOne(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, domain.ErrNotFound)
	}
	return nil
}

// users

func scanUser(r rowScanner) (domain.User, error) {
	var (
		u  domain.User
		ms int64
	)
	if err := r.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &ms); err != nil {
		return domain.User{}, err
	}
	u.CreatedAt = fromMillis(ms)
	return u, nil
}

func (s *SQLite) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	u.Email = normalizeEmail(u.Email)
	if u.ID == "" {
		u.ID = newID()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.CreatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return domain.User{}, fmt.Errorf("user %s: %w", u.Email, domain.ErrConflict)
		}
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *SQLite) UserByEmail(ctx context.Context, email string) (domain.User, error) {
	email = normalizeEmail(email)
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, created_at FROM users WHERE email = ?`, email))
	if err != nil {
		return domain.User{}, notFound(err, "user", email)
	}
	return u, nil
}

func (s *SQLite) UserByID(ctx context.Context, id string) (domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, created_at FROM users WHERE id = ?`, id))
	if err != nil {
		return domain.User{}, notFound(err, "user", id)
	}
	return u, nil
}

// workspaces

func scanWorkspace(r rowScanner) (domain.Workspace, error) {
	var (
		ws domain.Workspace
		ms int64
	)
	if err := r.Scan(&ws.ID, &ws.Name, &ws.Description, &ws.OwnerID, &ms); err != nil {
		return domain.Workspace{}, err
	}
	ws.CreatedAt = fromMillis(ms)
	return ws, nil
}

func (s *SQLite) ListWorkspaces(ctx context.Context, ownerID string) ([]domain.Workspace, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, owner_id, created_at FROM workspaces
		 WHERE owner_id = ? ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()
	out := []domain.Workspace{}
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

func (s *SQLite) GetWorkspace(ctx context.Context, id string) (domain.Workspace, error) {
	ws, err := scanWorkspace(s.db.QueryRowContext(ctx,
		`SELECT id, name, description, owner_id, created_at FROM workspaces WHERE id = ?`, id))
	if err != nil {
		return domain.Workspace{}, notFound(err, "workspace", id)
	}
	return ws, nil
}

func (s *SQLite) CreateWorkspace(ctx context.Context, ws domain.Workspace) (domain.Workspace, error) {
	if ws.ID == "" {
		ws.ID = newID()
	}
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workspaces (id, name, description, owner_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		ws.ID, ws.Name, ws.Description, ws.OwnerID, ws.CreatedAt.UnixMilli())
	if err != nil {
		return domain.Workspace{}, fmt.Errorf("insert workspace: %w", err)
	}
	return ws, nil
}

func (s *SQLite) UpdateWorkspace(ctx context.Context, ws domain.Workspace) (domain.Workspace, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workspaces SET name = ?, description = ? WHERE id = ?`, ws.Name, ws.Description, ws.ID)
	if err != nil {
		return domain.Workspace{}, fmt.Errorf("update workspace: %w", err)
	}
	if err := expectOne(res, "workspace", ws.ID); err != nil {
		return domain.Workspace{}, err
	}
	return s.GetWorkspace(ctx, ws.ID)
}

func (s *SQLite) DeleteWorkspace(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	return expectOne(res, "workspace", id)
}

// boards

func scanBoard(r rowScanner) (domain.Board, error) {
	var (
		b  domain.Board
		ms int64
	)
	if err := r.Scan(&b.ID, &b.Title, &b.WorkspaceID, &b.Position, &ms); err != nil {
		return domain.Board{}, err
	}
	b.CreatedAt = fromMillis(ms)
	return b, nil
}

func (s *SQLite) ListBoards(ctx context.Context, workspaceID string) ([]domain.Board, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, workspace_id, position, created_at FROM boards
		 WHERE workspace_id = ? ORDER BY position, id`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()
	out := []domain.Board{}
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLite) GetBoard(ctx context.Context, id string) (domain.Board, error) {
	b, err := scanBoard(s.db.QueryRowContext(ctx,
		`SELECT id, title, workspace_id, position, created_at FROM boards WHERE id = ?`, id))
	if err != nil {
		return domain.Board{}, notFound(err, "board", id)
	}
	return b, nil
}

func (s *SQLite) CreateBoard(ctx context.Context, b domain.Board) (domain.Board, error) {
	if b.ID == "" {
		b.ID = newID()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Board{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM workspaces WHERE id = ?`, b.WorkspaceID).Scan(&exists); err != nil {
		return domain.Board{}, err
	}
	if exists == 0 {
		return domain.Board{}, fmt.Errorf("workspace %s: %w", b.WorkspaceID, domain.ErrNotFound)
	}
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position) + 1, 0) FROM boards WHERE workspace_id = ?`, b.WorkspaceID).Scan(&b.Position); err != nil {
		return domain.Board{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO boards (id, title, workspace_id, position, created_at) VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.Title, b.WorkspaceID, b.Position, b.CreatedAt.UnixMilli()); err != nil {
		return domain.Board{}, fmt.Errorf("insert board: %w", err)
	}
	return b, tx.Commit()
}

func (s *SQLite) UpdateBoard(ctx context.Context, b domain.Board) (domain.Board, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE boards SET title = ? WHERE id = ?`, b.Title, b.ID)
	if err != nil {
		return domain.Board{}, fmt.Errorf("update board: %w", err)
	}
	if err := expectOne(res, "board", b.ID); err != nil {
		return domain.Board{}, err
	}
	return s.GetBoard(ctx, b.ID)
}

func (s *SQLite) DeleteBoard(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM boards WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete board: %w", err)
	}
	return expectOne(res, "board", id)
}

// tasks

const taskColumns = `id, board_id, title, description, status, position, created_at`

func scanTask(r rowScanner) (domain.Task, error) {
	var (
		t      domain.Task
		status string
		ms     int64
	)
	if err := r.Scan(&t.ID, &t.BoardID, &t.Title, &t.Description, &status, &t.Position, &ms); err != nil {
		return domain.Task{}, err
	}
	t.Status = domain.Lane(status)
	t.CreatedAt = fromMillis(ms)
	return t, nil
}

// ListTasks returns the board's tasks grouped by lane, each lane ordered by
// position then id.
func (s *SQLite) ListTasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE board_id = ?
		 ORDER BY CASE status WHEN 'todo' THEN 0 WHEN 'inProgress' THEN 1 WHEN 'done' THEN 2 ELSE 3 END, position, id`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	out := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err != nil {
		return domain.Task{}, notFound(err, "task", id)
	}
	return t, nil
}

func (s *SQLite) CreateTask(ctx context.Context, boardID, title string, lane domain.Lane) (domain.Task, error) {
	return s.InsertTask(ctx, domain.Task{BoardID: boardID, Title: title, Status: lane})
}

// InsertTask stores a new task at the end of its lane.
func (s *SQLite) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	t, err := prepareTask(t)
	if err != nil {
		return domain.Task{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM boards WHERE id = ?`, t.BoardID).Scan(&exists); err != nil {
		return domain.Task{}, err
	}
	if exists == 0 {
		return domain.Task{}, fmt.Errorf("board %s: %w", t.BoardID, domain.ErrNotFound)
	}
	if t.Position, err = nextTaskPosition(ctx, tx, t.BoardID, t.Status); err != nil {
		return domain.Task{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.BoardID, t.Title, t.Description, string(t.Status), t.Position, t.CreatedAt.UnixMilli()); err != nil {
		if isUniqueViolation(err) {
			return domain.Task{}, fmt.Errorf("task %s: %w", t.ID, domain.ErrConflict)
		}
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return t, tx.Commit()
}

func nextTaskPosition(ctx context.Context, tx *sql.Tx, boardID string, lane domain.Lane) (int, error) {
	var pos int
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position) + 1, 0) FROM tasks WHERE board_id = ? AND status = ?`,
		boardID, string(lane)).Scan(&pos)
	return pos, err
}

// UpdateTask edits title and description. A different, non-empty status
// moves the task to the end of that lane.
func (s *SQLite) UpdateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, t.ID))
	if err != nil {
		return domain.Task{}, notFound(err, "task", t.ID)
	}
	cur.Title, cur.Description = t.Title, t.Description
	if t.Status != "" && t.Status != cur.Status {
		if !t.Status.Valid() {
			return domain.Task{}, fmt.Errorf("%w: %q", domain.ErrInvalidLane, t.Status)
		}
		cur.Status = t.Status
		if cur.Position, err = nextTaskPosition(ctx, tx, cur.BoardID, cur.Status); err != nil {
			return domain.Task{}, err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, status = ?, position = ? WHERE id = ?`,
		cur.Title, cur.Description, string(cur.Status), cur.Position, cur.ID); err != nil {
		return domain.Task{}, fmt.Errorf("update task: %w", err)
	}
	return cur, tx.Commit()
}

func (s *SQLite) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return expectOne(res, "task", id)
}

// BulkReposition applies every change inside one transaction. A change for
// a task that does not belong to the board aborts the whole set.
func (s *SQLite) BulkReposition(ctx context.Context, boardID string, changes []domain.Change) error {
	if err := validateChanges(changes); err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `UPDATE tasks SET status = ?, position = ? WHERE id = ? AND board_id = ?`)
	if err != nil {
		return fmt.Errorf("prepare reposition: %w", err)
	}
	defer stmt.Close()
	for _, c := range changes {
		res, err := stmt.ExecContext(ctx, string(c.Status), c.Position, c.ID, boardID)
		if err != nil {
			return fmt.Errorf("reposition task %s: %w", c.ID, err)
		}
		if err := expectOne(res, "task", c.ID); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reposition: %w", err)
	}
	return nil
}
