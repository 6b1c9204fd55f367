package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser/browsertest"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser/cdp"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser/pw"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/config"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/ledger"
)

// isolate runs the test in an empty directory with none of the bot's
// variables inherited from the developer's shell.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, name := range []string{"SLACK_EMAIL", "SLACK_PASSWORD", "HEADLESS", "ALLOW_INTERACTIVE_LOGIN", "DATABASE_URL", "SESSION_PROFILE_DIR", "SLACK_WORKSPACE"} {
		t.Setenv(name, "")
	}
	t.Setenv("SESSION_FILE", filepath.Join(dir, "slack_auth.json"))
	return dir
}

type harness struct {
	app      *app
	launcher *browsertest.Launcher
	root     *cobra.Command
	out      *bytes.Buffer
	errOut   *bytes.Buffer
}

func newHarness() *harness {
	h := &harness{launcher: &browsertest.Launcher{}, out: &bytes.Buffer{}, errOut: &bytes.Buffer{}}
	h.app = newApp()
	h.app.newLauncher = func(config.Interface, *zap.Logger) (browser.Launcher, error) { return h.launcher, nil }
	h.app.openLedger = func(context.Context, string, *zap.Logger) (*ledger.Store, func(), error) {
		return nil, nil, errors.New("no database in tests")
	}
	h.root = newRootCommand(h.app)
	h.root.SetOut(h.out)
	h.root.SetErr(h.errOut)
	return h
}

func (h *harness) execute(args ...string) int {
	return execute(context.Background(), h.root, args)
}

func TestVersion(t *testing.T) {
	isolate(t)

	h := newHarness()
	assert.Equal(t, 0, h.execute("version"))
	assert.Equal(t, Version+"\n", h.out.String())

	h = newHarness()
	assert.Equal(t, 0, h.execute("--version"))
	assert.Contains(t, h.out.String(), Version)
}

func TestNoArgsPrintsHelp(t *testing.T) {
	isolate(t)
	h := newHarness()
	assert.Equal(t, 0, h.execute())
	assert.Contains(t, h.out.String(), "attendance-bot login")
}

func TestRun_NoSessionWithoutInteractiveLogin(t *testing.T) {
	isolate(t)
	h := newHarness()

	code := h.execute("run")
	assert.Equal(t, 2, code)
	assert.Contains(t, h.out.String(), "NO_USABLE_SESSION")
	assert.Empty(t, h.launcher.Launches, "a missing artifact is rejected before any browser starts")
}

func TestRun_AllowInteractiveAttemptsLogin(t *testing.T) {
	isolate(t)
	h := newHarness()
	page := browsertest.NewPage()
	h.launcher.Pages = []*browsertest.Page{page}

	code := h.execute("run", "--allow-interactive")
	assert.Equal(t, 2, code, "credentials are missing, so the login fails")
	require.Len(t, h.launcher.Launches, 1)
	assert.Empty(t, h.launcher.Launches[0].StatePath, "a login starts from a clean context")
	assert.True(t, page.Closed)
}

func TestLogin_AlwaysLogsIn(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, browsertest.WriteArtifact(filepath.Join(dir, "slack_auth.json")))
	h := newHarness()
	page := browsertest.NewPage()
	h.launcher.Pages = []*browsertest.Page{page}

	code := h.execute("login")
	assert.Equal(t, 2, code)
	assert.True(t, h.app.cfg.Auth().AllowInteractive)
	require.Len(t, h.launcher.Launches, 1)
	assert.True(t, page.Closed)
}

func TestCheck(t *testing.T) {
	t.Run("missing artifact", func(t *testing.T) {
		isolate(t)
		h := newHarness()
		assert.Equal(t, 2, h.execute("check"))
	})

	t.Run("browser fails to start", func(t *testing.T) {
		dir := isolate(t)
		require.NoError(t, browsertest.WriteArtifact(filepath.Join(dir, "slack_auth.json")))
		h := newHarness()
		h.launcher.Err = errors.New("chrome not found")

		assert.Equal(t, 2, h.execute("check"))
		require.Len(t, h.launcher.Launches, 1)
		assert.Equal(t, filepath.Join(dir, "slack_auth.json"), h.launcher.Launches[0].StatePath)
	})
}

func TestHeadlessFlag(t *testing.T) {
	isolate(t)
	h := newHarness()
	h.execute("check", "--headless")
	require.NotNil(t, h.app.cfg)
	assert.True(t, h.app.cfg.Browser().Headless)
}

func TestInvalidConfig(t *testing.T) {
	isolate(t)
	t.Setenv("ATTENDANCE_BROWSER_ENGINE", "firefox")
	h := newHarness()

	assert.Equal(t, 1, h.execute("check"))
	assert.Contains(t, h.errOut.String(), "browser.engine")
}

func TestConfigFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "bot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("slack:\n  workspace: Acme\ntimeouts:\n  settle: 4s\n"), 0o600))

	h := newHarness()
	h.execute("check", "--config", path)
	require.NotNil(t, h.app.cfg)
	assert.Equal(t, "Acme", h.app.cfg.Slack().Workspace)
	assert.Equal(t, 4*time.Second, h.app.cfg.Timeouts().Settle)

	h = newHarness()
	assert.Equal(t, 1, h.execute("check", "--config", filepath.Join(dir, "missing.yaml")))
}

func TestDotEnv(t *testing.T) {
	dir := isolate(t)
	t.Cleanup(func() { os.Unsetenv("ATTENDANCE_SLACK_WORKSPACE") })
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ATTENDANCE_SLACK_WORKSPACE=fromdotenv\n"), 0o600))

	h := newHarness()
	h.execute("check")
	require.NotNil(t, h.app.cfg)
	assert.Equal(t, "fromdotenv", h.app.cfg.Slack().Workspace)

	h = newHarness()
	assert.Equal(t, 1, h.execute("check", "--env-file", filepath.Join(dir, "other.env")))
}

func TestHistory(t *testing.T) {
	t.Run("requires a database", func(t *testing.T) {
		isolate(t)
		h := newHarness()
		assert.Equal(t, 1, h.execute("history"))
		assert.Contains(t, h.errOut.String(), "database.url is not configured")
	})

	t.Run("prints recent runs", func(t *testing.T) {
		isolate(t)
		t.Setenv("DATABASE_URL", "postgres://bot@localhost/attendance")
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		t0 := time.Date(2025, 9, 2, 7, 0, 0, 0, time.UTC)
		mockPool.ExpectPing()
		mockPool.ExpectQuery("SELECT run_id").WithArgs(5).WillReturnRows(
			pgxmock.NewRows([]string{"run_id", "command", "started_at", "finished_at", "status", "outcome", "exit_code", "error"}).
				AddRow("run-1", "run", t0, t0.Add(40*time.Second), "SUCCEEDED", "PRESENT_RECORDED", 0, ""))

		h := newHarness()
		var gotURL string
		h.app.openLedger = func(ctx context.Context, url string, logger *zap.Logger) (*ledger.Store, func(), error) {
			gotURL = url
			s, err := ledger.New(ctx, mockPool, logger)
			return s, func() {}, err
		}

		assert.Equal(t, 0, h.execute("history", "-n", "5", "--json"))
		assert.Equal(t, "postgres://bot@localhost/attendance", gotURL)
		assert.Contains(t, h.out.String(), `"PRESENT_RECORDED"`)
		assert.Contains(t, h.out.String(), `"run-1"`)
		assert.Contains(t, h.out.String(), `"exit_code"`)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestRun_RecordsInLedger(t *testing.T) {
	isolate(t)
	t.Setenv("DATABASE_URL", "postgres://bot@localhost/attendance")
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing()
	mockPool.ExpectExec("INSERT INTO attendance_runs").
		WithArgs(pgxmock.AnyArg(), "run", pgxmock.AnyArg(), pgxmock.AnyArg(), "NO_USABLE_SESSION", "", 2, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	h := newHarness()
	closed := false
	h.app.openLedger = func(ctx context.Context, url string, logger *zap.Logger) (*ledger.Store, func(), error) {
		s, err := ledger.New(ctx, mockPool, logger)
		return s, func() { closed = true }, err
	}

	assert.Equal(t, 2, h.execute("run"))
	assert.True(t, closed)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRun_LedgerUnavailable(t *testing.T) {
	isolate(t)
	t.Setenv("DATABASE_URL", "postgres://bot@localhost/attendance")
	h := newHarness()

	assert.Equal(t, 2, h.execute("run"), "the run proceeds without the ledger")
}

func TestNewLauncher(t *testing.T) {
	cfg := config.NewDefaultConfig()

	l, err := newLauncher(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &cdp.Launcher{}, l)

	cfg.BrowserCfg.Engine = config.EnginePlaywright
	l, err = newLauncher(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &pw.Launcher{}, l)

	cfg.BrowserCfg.Engine = "webkit"
	_, err = newLauncher(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestExitError(t *testing.T) {
	inner := errors.New("boom")
	err := error(&ExitError{Code: 3, Err: inner})
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "boom", err.Error())
	assert.Equal(t, "exit status 2", (&ExitError{Code: 2}).Error())
}

func TestWriteTable(t *testing.T) {
	t0 := time.Date(2025, 9, 2, 7, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	require.NoError(t, writeTable(&buf, []ledger.Entry{
		{RunID: "a", Command: "run", StartedAt: t0, FinishedAt: t0.Add(42 * time.Second), Status: "SUCCEEDED", Outcome: "SURVEY_CLOSED"},
		{RunID: "b", Command: "check", StartedAt: t0, FinishedAt: t0.Add(3 * time.Second), Status: "NO_USABLE_SESSION", ExitCode: 2},
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "STARTED"))
	assert.Contains(t, lines[1], "SURVEY_CLOSED")
	assert.Contains(t, lines[1], "42s")
	assert.Contains(t, lines[2], "NO_USABLE_SESSION")
	assert.Contains(t, lines[2], " - ")
}
