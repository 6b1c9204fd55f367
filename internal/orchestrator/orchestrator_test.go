package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/jaywee92/Slack-Attendance-Bot/internal/attendance"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/auth"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser/browsertest"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/ledger"
)

// -- Mock Implementations for Testing --

// mockValidator answers from a script, repeating the last verdict.
type mockValidator struct {
	verdicts []bool
	calls    int
}

func (m *mockValidator) IsSessionUsable(context.Context) bool {
	i := m.calls
	if i >= len(m.verdicts) {
		i = len(m.verdicts) - 1
	}
	m.calls++
	return m.verdicts[i]
}

type mockAuth struct {
	err      error
	calls    int
	attempts *auth.Attempts
	// spend consumes attempts to prove the counter is reset per run.
	spend int
}

func (m *mockAuth) Authenticate(_ context.Context, attempts *auth.Attempts) error {
	m.calls++
	m.attempts = attempts
	for i := 0; i < m.spend; i++ {
		_ = attempts.Acquire()
	}
	return m.err
}

type mockAttendance struct {
	outcome attendance.Outcome
	err     error
	calls   int
	opts    browser.LaunchOptions
}

func (m *mockAttendance) Run(_ context.Context, _ browser.Launcher, opts browser.LaunchOptions) (attendance.Outcome, error) {
	m.calls++
	m.opts = opts
	return m.outcome, m.err
}

type mockRecorder struct {
	mu      sync.Mutex
	entries []ledger.Entry
	err     error
}

func (m *mockRecorder) Record(_ context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return m.err
}

type fixture struct {
	orch     *Orchestrator
	val      *mockValidator
	auth     *mockAuth
	att      *mockAttendance
	rec      *mockRecorder
	attempts *auth.Attempts
}

func newFixture(t *testing.T, allowInteractive bool, verdicts ...bool) *fixture {
	t.Helper()
	f := &fixture{
		val:      &mockValidator{verdicts: verdicts},
		auth:     &mockAuth{},
		att:      &mockAttendance{outcome: attendance.PresentRecorded},
		rec:      &mockRecorder{},
		attempts: auth.NewAttempts(3),
	}
	s := Settings{AllowInteractive: allowInteractive, LaunchOptions: browser.LaunchOptions{StatePath: "slack_auth.json"}}
	orch, err := New(s, f.val, f.auth, f.att, &browsertest.Launcher{}, f.attempts, f.rec, zaptest.NewLogger(t))
	require.NoError(t, err)
	f.orch = orch
	return f
}

// -- Test Cases --

func TestNew_NilDependencies(t *testing.T) {
	_, err := New(Settings{}, nil, &mockAuth{}, &mockAttendance{}, &browsertest.Launcher{}, auth.NewAttempts(1), nil, zap.NewNop())
	assert.Error(t, err)

	o, err := New(Settings{}, &mockValidator{verdicts: []bool{true}}, &mockAuth{}, &mockAttendance{}, &browsertest.Launcher{}, auth.NewAttempts(1), nil, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, ledger.Nop{}, o.recorder)
}

func TestRunOnce_ValidSession(t *testing.T) {
	f := newFixture(t, false, true)

	res := f.orch.RunOnce(context.Background())
	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, attendance.PresentRecorded, res.Outcome)
	assert.NoError(t, res.Err)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 0, f.auth.calls)
	assert.Equal(t, 1, f.att.calls)
	assert.Equal(t, "slack_auth.json", f.att.opts.StatePath)
	assert.Equal(t, 0, res.Status.ExitCode())
}

func TestRunOnce_SurveyClosedIsSuccess(t *testing.T) {
	f := newFixture(t, false, true)
	f.att.outcome = attendance.SurveyClosed

	res := f.orch.RunOnce(context.Background())
	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, attendance.SurveyClosed, res.Outcome)
}

func TestRunOnce_InvalidSessionInteractiveDisabled(t *testing.T) {
	f := newFixture(t, false, false)

	res := f.orch.RunOnce(context.Background())
	assert.Equal(t, StatusNoSession, res.Status)
	assert.Equal(t, 2, res.Status.ExitCode())
	assert.ErrorIs(t, res.Err, ErrInteractiveLoginDisabled)
	assert.ErrorIs(t, res.Err, auth.ErrSessionInvalid)
	assert.Equal(t, 0, f.auth.calls, "no silent degraded login attempt")
	assert.Equal(t, 0, f.att.calls)
}

func TestRunOnce_LoginThenRevalidate(t *testing.T) {
	f := newFixture(t, true, false, true)

	res := f.orch.RunOnce(context.Background())
	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, 1, f.auth.calls)
	assert.Same(t, f.attempts, f.auth.attempts)
	assert.Equal(t, 2, f.val.calls)
	assert.Equal(t, 1, f.att.calls)
}

func TestRunOnce_SecondInvalidityIsFatal(t *testing.T) {
	f := newFixture(t, true, false, false)

	res := f.orch.RunOnce(context.Background())
	assert.Equal(t, StatusNoSession, res.Status)
	assert.ErrorIs(t, res.Err, auth.ErrSessionInvalid)
	assert.Equal(t, 1, f.auth.calls, "login is attempted once per run")
	assert.Equal(t, 2, f.val.calls)
	assert.Equal(t, 0, f.att.calls)
}

func TestRunOnce_LoginFailure(t *testing.T) {
	f := newFixture(t, true, false)
	f.auth.err = auth.ErrSecurityCodeInteractiveDisabled

	res := f.orch.RunOnce(context.Background())
	assert.Equal(t, StatusNoSession, res.Status)
	assert.ErrorIs(t, res.Err, auth.ErrSecurityCodeInteractiveDisabled)
	assert.Equal(t, 1, f.val.calls, "no revalidation after a failed login")
	assert.Equal(t, 0, f.att.calls)
}

func TestRunOnce_AttendanceFailure(t *testing.T) {
	outcomes := []attendance.Outcome{
		attendance.PresentOptionNotFound,
		attendance.NoConfirmationAfterClick,
		attendance.ChannelContentNotAvailable,
		attendance.SessionReauthRequired,
		attendance.ChannelGlitchPage,
	}
	for _, outcome := range outcomes {
		t.Run(outcome.String(), func(t *testing.T) {
			f := newFixture(t, false, true)
			f.att.outcome = outcome

			res := f.orch.RunOnce(context.Background())
			assert.Equal(t, StatusAttendanceFailed, res.Status)
			assert.Equal(t, 3, res.Status.ExitCode())
			assert.Equal(t, outcome, res.Outcome)
			assert.ErrorContains(t, res.Err, outcome.String())
			assert.Equal(t, 1, f.att.calls, "no retry of the pipeline")
		})
	}
}

func TestRunOnce_LaunchFailure(t *testing.T) {
	f := newFixture(t, false, true)
	f.att.err = errors.New("chrome not found")
	f.att.outcome = attendance.Unknown

	res := f.orch.RunOnce(context.Background())
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, 1, res.Status.ExitCode())
}

func TestRunOnce_Cancelled(t *testing.T) {
	f := newFixture(t, true, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.orch.RunOnce(ctx)
	assert.Equal(t, StatusError, res.Status)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 0, f.auth.calls)
	require.Len(t, f.rec.entries, 1, "cancelled runs are still recorded")
}

func TestRunOnce_ResetsAttempts(t *testing.T) {
	f := newFixture(t, true, false, true)
	f.auth.spend = 3

	f.orch.RunOnce(context.Background())
	assert.Equal(t, 3, f.attempts.Used())

	f.val.calls = 0
	f.orch.RunOnce(context.Background())
	assert.Equal(t, 3, f.attempts.Used(), "a new run starts from zero")
}

func TestRunOnce_RecordsLedger(t *testing.T) {
	f := newFixture(t, false, true)
	f.att.outcome = attendance.NoConfirmationAfterClick

	res := f.orch.RunOnce(context.Background())
	require.Len(t, f.rec.entries, 1)
	e := f.rec.entries[0]
	assert.Equal(t, res.RunID, e.RunID)
	assert.Equal(t, "run", e.Command)
	assert.Equal(t, "ATTENDANCE_FAILED", e.Status)
	assert.Equal(t, "NO_CONFIRMATION_AFTER_CLICK", e.Outcome)
	assert.Equal(t, 3, e.ExitCode)
	assert.NotEmpty(t, e.Error)
	assert.False(t, e.FinishedAt.Before(e.StartedAt))
}

func TestRunOnce_LedgerErrorDoesNotFailRun(t *testing.T) {
	f := newFixture(t, false, true)
	f.rec.err = errors.New("database down")

	res := f.orch.RunOnce(context.Background())
	assert.Equal(t, StatusSucceeded, res.Status)
}

func TestCheck(t *testing.T) {
	f := newFixture(t, true, true)
	assert.Equal(t, StatusSucceeded, f.orch.Check(context.Background()).Status)

	f = newFixture(t, true, false)
	res := f.orch.Check(context.Background())
	assert.Equal(t, StatusNoSession, res.Status)
	assert.Equal(t, 0, f.auth.calls, "check never logs in")
	assert.Equal(t, "check", f.rec.entries[0].Command)
}

func TestBootstrap(t *testing.T) {
	f := newFixture(t, false, true)

	res := f.orch.Bootstrap(context.Background())
	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, 1, f.auth.calls, "bootstrap logs in even with a usable session")
	assert.Equal(t, 0, f.att.calls)

	f.auth.err = auth.ErrCredentialsMissing
	res = f.orch.Bootstrap(context.Background())
	assert.Equal(t, StatusNoSession, res.Status)
	assert.ErrorIs(t, res.Err, auth.ErrCredentialsMissing)
}

func TestStatus(t *testing.T) {
	tests := []struct {
		status Status
		name   string
		code   int
	}{
		{StatusSucceeded, "SUCCEEDED", 0},
		{StatusError, "ERROR", 1},
		{StatusNoSession, "NO_USABLE_SESSION", 2},
		{StatusAttendanceFailed, "ATTENDANCE_FAILED", 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.status.String())
		assert.Equal(t, tt.code, tt.status.ExitCode())
	}
}
