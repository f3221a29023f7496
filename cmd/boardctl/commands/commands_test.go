package commands

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/fatih/color"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eishaa-e/flowboard/api"
	"github.com/eishaa-e/flowboard/client"
	"github.com/eishaa-e/flowboard/domain"
	"github.com/eishaa-e/flowboard/storage"
)

func init() {
	color.NoColor = true
}

// resetFlags restores every flag to its default so runs do not leak into
// each other through the package level command tree.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	if args == nil {
		args = []string{}
	}
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

type testEnv struct {
	url           string
	config        string
	rejectReorder atomic.Bool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger, _ := test.NewNullLogger()
	e := echo.New()
	api.Register(e, api.Config{
		Store:  store,
		Auth:   api.NewAuth(api.AuthConfig{Secret: []byte("test-secret")}),
		Logger: logger,
	})
	env := &testEnv{config: filepath.Join(t.TempDir(), "boardctl", "config.yaml")}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if env.rejectReorder.Load() && r.Method == http.MethodPatch {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"Internal Server Error"}`))
			return
		}
		e.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	env.url = srv.URL
	return env
}

func (env *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return run(t, append([]string{"--config", env.config, "--server", env.url}, args...)...)
}

// seed logs in through the CLI and creates a board with three todo tasks.
func (env *testEnv) seed(t *testing.T) (*client.Client, domain.Board, []domain.Task) {
	t.Helper()
	_, err := env.run(t, "signup", "--name", "Ada", "--email", "ada@example.com", "--password", "secret")
	require.NoError(t, err)
	out, err := env.run(t, "login", "--email", "ada@example.com", "--password", "secret")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as ada@example.com")

	cfg, err := LoadConfig(env.config)
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Token)

	ctx := context.Background()
	c := client.New(env.url, cfg.Token)
	ws, err := c.CreateWorkspace(ctx, "Home", "")
	require.NoError(t, err)
	b, err := c.CreateBoard(ctx, ws.ID, "Sprint")
	require.NoError(t, err)
	for _, title := range []string{"A", "B", "C"} {
		out, err := env.run(t, "tasks", "add", b.ID, title)
		require.NoError(t, err)
		assert.Contains(t, out, "Added \""+title+"\" to To Do")
	}
	tasks, err := c.ListTasks(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	return c, b, tasks
}

func lane(t *testing.T, c *client.Client, boardID string, l domain.Lane) []string {
	t.Helper()
	tasks, err := c.ListTasks(context.Background(), boardID)
	require.NoError(t, err)
	var titles []string
	for _, task := range tasks {
		if task.Status == l {
			titles = append(titles, task.Title)
		}
	}
	return titles
}

func TestRootCommand_ShowsHelpWhenNoSubcommand(t *testing.T) {
	out, err := run(t)
	assert.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "boardctl")
}

func TestRootCommand_RejectsUnknownFlags(t *testing.T) {
	_, err := run(t, "--unknown-flag", "value")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag")
}

func TestConfig_DefaultPathUsesXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	path, err := DefaultConfigPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "boardctl", "config.yaml"), path)
}

func TestConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, defaultServer, cfg.Server)

	require.NoError(t, SaveConfig(path, Config{Server: "http://example:1", Token: "tok", Email: "a@b"}))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, Config{Server: "http://example:1", Token: "tok", Email: "a@b"}, cfg)

	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestCommands_RequireLogin(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "tasks", "b1")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestLoginWhoamiLogout(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "login", "--email", "nobody@example.com", "--password", "x")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	env.seed(t)
	out, err := env.run(t, "whoami")
	require.NoError(t, err)
	assert.Equal(t, "Ada <ada@example.com>\n", out)

	_, err = env.run(t, "logout")
	require.NoError(t, err)
	cfg, err := LoadConfig(env.config)
	require.NoError(t, err)
	assert.Empty(t, cfg.Token)
	assert.Equal(t, env.url, cfg.Server)
}

func TestWorkspacesAndBoards(t *testing.T) {
	env := newTestEnv(t)
	_, b, _ := env.seed(t)

	out, err := env.run(t, "workspaces")
	require.NoError(t, err)
	assert.Contains(t, out, b.WorkspaceID)
	assert.Contains(t, out, "Home")

	out, err = env.run(t, "boards", "create", b.WorkspaceID, "Backlog")
	require.NoError(t, err)
	assert.Contains(t, out, "Created board Backlog")

	out, err = env.run(t, "boards", b.WorkspaceID)
	require.NoError(t, err)
	assert.Contains(t, out, "Sprint")
	assert.Contains(t, out, "Backlog")

	_, err = env.run(t, "boards", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTasksPrintsLanes(t *testing.T) {
	env := newTestEnv(t)
	_, b, tasks := env.seed(t)

	out, err := env.run(t, "tasks", b.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "To Do (3)")
	assert.Contains(t, out, "In Progress (0)")
	assert.Contains(t, out, "Done (0)")
	assert.Contains(t, out, tasks[0].ID)

	_, err = env.run(t, "tasks", "add", b.ID, "X", "--lane", "blocked")
	assert.ErrorIs(t, err, domain.ErrInvalidLane)
}

func TestMove(t *testing.T) {
	env := newTestEnv(t)
	c, b, tasks := env.seed(t)

	out, err := env.run(t, "move", b.ID, tasks[2].ID, "--lane", "inProgress")
	require.NoError(t, err)
	assert.Contains(t, out, "Rollback enabled")
	assert.Contains(t, out, "Moved task "+tasks[2].ID)
	assert.Equal(t, []string{"A", "B"}, lane(t, c, b.ID, domain.LaneTodo))
	assert.Equal(t, []string{"C"}, lane(t, c, b.ID, domain.LaneInProgress))

	_, err = env.run(t, "move", b.ID, tasks[1].ID, "--lane", "todo", "--index", "0")
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, lane(t, c, b.ID, domain.LaneTodo))

	out, err = env.run(t, "move", b.ID, tasks[1].ID, "--lane", "todo", "--index", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing sent")

	_, err = env.run(t, "move", b.ID, "missing", "--lane", "done")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = env.run(t, "move", b.ID, tasks[0].ID, "--lane", "later")
	assert.ErrorIs(t, err, domain.ErrInvalidLane)
}

func TestNudge(t *testing.T) {
	env := newTestEnv(t)
	c, b, tasks := env.seed(t)

	_, err := env.run(t, "nudge", b.ID, tasks[0].ID, "right", "right", "right")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, lane(t, c, b.ID, domain.LaneDone))

	_, err = env.run(t, "nudge", b.ID, tasks[2].ID, "up", "k")
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "B"}, lane(t, c, b.ID, domain.LaneTodo))

	_, err = env.run(t, "nudge", b.ID, tasks[2].ID, "sideways")
	assert.ErrorContains(t, err, "unknown direction")
}

func TestMoveRollsBackOnServerError(t *testing.T) {
	env := newTestEnv(t)
	c, b, tasks := env.seed(t)
	env.rejectReorder.Store(true)

	out, err := env.run(t, "move", b.ID, tasks[0].ID, "--lane", "done", "--timeout", "10s")
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Contains(t, out, "Board restored")
	assert.Contains(t, out, "Done (0)")
	assert.Equal(t, []string{"A", "B", "C"}, lane(t, c, b.ID, domain.LaneTodo))
}
