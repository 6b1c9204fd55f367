package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jaywee92/Slack-Attendance-Bot/internal/attendance"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/auth"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser/browsertest"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/config"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/locator"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/poll/polltest"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/readiness"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/session"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/slack"
)

var wiredTarget = slack.Target{TeamID: "T1", ChannelID: "C1", Workspace: "acme", Domain: "slack.com", AppHost: "app.slack.com"}

var wiredTimeouts = config.TimeoutsConfig{
	Validation:    10 * time.Second,
	Content:       5 * time.Second,
	PresentSearch: 6 * time.Second,
	Confirmation:  3 * time.Second,
	Grace:         2 * time.Second,
	Settle:        2 * time.Second,
	Tick:          time.Second,
	ConfirmTick:   500 * time.Millisecond,
}

// loginPage accepts the password form and lands on the client.
func loginPage() *browsertest.Page {
	p := browsertest.NewPage()
	p.SetCount(locator.EmailField()[0].Query, "email", 1)
	p.SetCount(locator.PasswordField()[0].Query, "password", 1)
	p.SetCount(locator.AuthSubmit()[0].Query, "submit", 1)
	submit := browsertest.Elements("submit", 1)[0].Handle
	p.OnAction = func(p *browsertest.Page, a browsertest.Action) error {
		if a.Op == "click" && a.Handle == submit {
			p.SetURL(wiredTarget.ClientURL())
		}
		return nil
	}
	return p
}

// channelPage renders the channel; checking the radio posts the acknowledgement.
func channelPage() *browsertest.Page {
	p := browsertest.NewPage()
	p.SetCount(locator.ContentMarkers()[0].Query, "pane", 1)
	p.SetCount(locator.PresentOption()[0].Query, "radio", 1)
	radio := browsertest.Elements("radio", 1)[0].Handle
	ack := locator.Confirmation()[0].Query
	p.OnAction = func(p *browsertest.Page, a browsertest.Action) error {
		if a.Op == "check" && a.Handle == radio {
			p.SetCount(ack, "ack", p.Count(ack)+1)
		}
		return nil
	}
	return p
}

func TestRunOnce_FreshEnvironmentEndToEnd(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	clock := polltest.NewClock()
	path := filepath.Join(t.TempDir(), "slack_auth.json")

	login, validate, channel := loginPage(), channelPage(), channelPage()
	launcher := &browsertest.Launcher{Pages: []*browsertest.Page{login, validate, channel}}

	store := session.NewStore(config.SessionConfig{File: path}, wiredTarget.Domain, logger)
	base := browser.LaunchOptions{Headless: true}
	validator := session.NewValidator(store, launcher, base, wiredTarget, wiredTimeouts, logger, session.WithClock(clock))
	machine := auth.NewMachine(auth.Settings{
		Target:      wiredTarget,
		Credentials: config.CredentialsConfig{Email: "me@example.com", Password: "hunter2"},
		Auth: config.AuthConfig{
			AllowInteractive:     true,
			MaxWorkspaceAttempts: 3,
			StabilityWindow:      3 * time.Second,
			Timeout:              30 * time.Second,
			FormTimeout:          5 * time.Second,
		},
		Tick: wiredTimeouts.Tick,
	}, store, launcher, base, logger, auth.WithClock(clock))
	attempts := auth.NewAttempts(3)
	poller := readiness.NewPoller(wiredTarget, wiredTimeouts.Tick, logger,
		readiness.WithClock(clock), readiness.WithResolver(machine.Resolver(attempts)))
	engine := attendance.NewEngine(wiredTarget, `(?i)attendance`, poller, wiredTimeouts, logger, attendance.WithClock(clock))

	o, err := New(Settings{AllowInteractive: true, LaunchOptions: store.LaunchOptions(base)},
		validator, machine, engine, launcher, attempts, nil, logger)
	require.NoError(t, err)

	require.NoFileExists(t, path)
	res := o.RunOnce(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, attendance.PresentRecorded, res.Outcome)
	assert.Equal(t, 0, res.Status.ExitCode())

	assert.Equal(t, 1, logs.FilterMessage("LOGIN_AUTHENTICATED").Len())
	assert.FileExists(t, path)
	assert.Len(t, login.Saved, 1)
	ok, reason := store.Usable()
	assert.True(t, ok, reason)

	// No browser for the missing artifact, then login, re-validation and attendance.
	require.Len(t, launcher.Launches, 3)
	assert.Empty(t, launcher.Launches[0].StatePath, "login starts from a clean context")
	assert.Equal(t, path, launcher.Launches[1].StatePath)
	assert.Equal(t, path, launcher.Launches[2].StatePath)
	assert.True(t, login.Closed)
	assert.True(t, validate.Closed)
	assert.True(t, channel.Closed)
	assert.Len(t, channel.ActionsOf("check"), 1)
	assert.Equal(t, 0, attempts.Used())
}
