// Package auth drives Slack's password sign-in to a confirmed, stable
// session and persists it.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/config"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/locator"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/poll"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/readiness"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/session"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/slack"
	"go.uber.org/zap"
)

// State is a step of the login flow.
type State string

const (
	StateLoginRequired       State = "LOGIN_REQUIRED"
	StatePasswordSubmitted   State = "PASSWORD_SUBMITTED"
	StateOTPChallenge        State = "OTP_CHALLENGE"
	StateWorkspaceResolution State = "WORKSPACE_RESOLUTION"
	StateAuthenticating      State = "AUTHENTICATING"
	StateStableAuthenticated State = "STABLE_AUTHENTICATED"
	StateFailed              State = "FAILED"
)

// resolveWaitTicks is how long a submitted workspace candidate gets to
// leave the disambiguation screen.
const resolveWaitTicks = 5

// LoginCapturer records the page when a login is not confirmed.
type LoginCapturer interface {
	CaptureLogin(ctx context.Context, page browser.Page)
}

// Settings groups the values a Machine reads from configuration.
type Settings struct {
	Target      slack.Target
	Credentials config.CredentialsConfig
	Auth        config.AuthConfig
	Tick        time.Duration
}

// Machine runs the login state machine.
type Machine struct {
	settings Settings
	store    *session.Store
	launcher browser.Launcher
	base     browser.LaunchOptions
	prompter CodePrompter
	capturer LoginCapturer
	clock    poll.Clock
	logger   *zap.Logger
}

// Option customises a Machine.
type Option func(*Machine)

func WithPrompter(p CodePrompter) Option  { return func(m *Machine) { m.prompter = p } }
func WithCapturer(c LoginCapturer) Option { return func(m *Machine) { m.capturer = c } }
func WithClock(c poll.Clock) Option       { return func(m *Machine) { m.clock = c } }

// NewMachine creates a login machine. The prompter defaults to the
// terminal.
func NewMachine(s Settings, store *session.Store, launcher browser.Launcher, base browser.LaunchOptions, logger *zap.Logger, opts ...Option) *Machine {
	m := &Machine{
		settings: s,
		store:    store,
		launcher: launcher,
		base:     base,
		prompter: NewTerminalPrompter(),
		clock:    poll.Real,
		logger:   logger.Named("auth"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// flow carries the per-login state.
type flow struct {
	m        *Machine
	page     browser.Page
	attempts *Attempts
	state    State
	// authSince is when the URL last became authenticated; zero while it is not.
	authSince time.Time
	code      string
	codeSent  bool
}

func (f *flow) to(next State, fields ...zap.Field) {
	if f.state == next {
		return
	}
	f.m.logger.Info("Login state transition",
		append([]zap.Field{zap.String("state", string(next)), zap.String("from", string(f.state))}, fields...)...)
	f.state = next
}

// Authenticate launches a browser for a login and always closes it.
func (m *Machine) Authenticate(ctx context.Context, attempts *Attempts) error {
	return browser.Use(ctx, m.launcher, m.store.LoginOptions(m.base), m.logger, func(ctx context.Context, page browser.Page) error {
		return m.Login(ctx, page, attempts)
	})
}

// Login signs in on page and saves the session once the client URL has
// held for the stability window. Nothing is saved on any failure.
func (m *Machine) Login(ctx context.Context, page browser.Page, attempts *Attempts) error {
	f := &flow{m: m, page: page, attempts: attempts}
	f.to(StateLoginRequired)

	err := f.run(ctx)
	if err != nil {
		f.to(StateFailed, zap.String("tag", string(TagOf(err))))
		if errors.Is(err, ErrLoginNotConfirmed) && m.capturer != nil {
			m.capturer.CaptureLogin(ctx, page)
		}
		return err
	}

	m.logger.Info("LOGIN_AUTHENTICATED", zap.String("state", string(StateStableAuthenticated)))
	if err := m.store.Save(ctx, page); err != nil {
		return fmt.Errorf("persisting session: %w", err)
	}
	return nil
}

func (f *flow) run(ctx context.Context) error {
	creds := f.m.settings.Credentials
	if creds.Email == "" || creds.Password == "" {
		return ErrCredentialsMissing
	}

	if err := f.page.Navigate(ctx, f.m.settings.Target.SignInURL()); err != nil {
		f.m.logger.Debug("Sign-in navigation error, continuing", zap.Error(err))
	}
	if err := f.submitPassword(ctx); err != nil {
		return err
	}
	return f.awaitStable(ctx)
}

// submitPassword fills the sign-in form. A profile that is still signed in
// lands on the client instead, which skips the form.
func (f *flow) submitPassword(ctx context.Context) error {
	target := f.m.settings.Target
	creds := f.m.settings.Credentials
	submitted := false

	err := poll.Until(ctx, f.m.pollOptions(f.m.settings.Auth.FormTimeout), func(ctx context.Context, _ poll.Tick) (bool, error) {
		if u, _ := f.page.URL(ctx); target.IsAuthenticatedURL(u) {
			return true, nil
		}
		_, emails, _ := locator.EmailField().First(ctx, f.page, "")
		_, passwords, _ := locator.PasswordField().First(ctx, f.page, "")
		email, okE := emails.MostRecent()
		password, okP := passwords.MostRecent()
		if !okE || !okP {
			return false, nil
		}
		if f.page.Fill(ctx, email, creds.Email) != nil || f.page.Fill(ctx, password, creds.Password) != nil {
			return false, nil
		}
		submit(ctx, f.page)
		submitted = true
		return true, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, poll.ErrTimeout):
		return fmt.Errorf("%w: sign-in form never appeared", ErrLoginNotConfirmed)
	default:
		return err
	}
	if submitted {
		f.to(StatePasswordSubmitted)
	}
	return nil
}

// submit clicks the newest visible submit control, or presses Enter when
// none is actionable.
func submit(ctx context.Context, page browser.Page) {
	if _, set, err := locator.AuthSubmit().First(ctx, page, ""); err == nil {
		if el, ok := set.Actionable().MostRecent(); ok {
			if page.Click(ctx, el, false) == nil {
				return
			}
		}
	}
	_ = page.Press(ctx, browser.KeyEnter)
}

// awaitStable drives the page until the client URL holds for the
// stability window, handling code and workspace screens on the way.
func (f *flow) awaitStable(ctx context.Context) error {
	s := f.m.settings
	err := poll.Until(ctx, f.m.pollOptions(s.Auth.Timeout), func(ctx context.Context, tick poll.Tick) (bool, error) {
		u, _ := f.page.URL(ctx)

		if s.Target.IsAuthenticatedURL(u) {
			now := f.m.clock.Now()
			if f.authSince.IsZero() {
				f.authSince = now
				f.to(StateAuthenticating, zap.String("url", u))
			}
			if now.Sub(f.authSince) >= s.Auth.StabilityWindow {
				f.to(StateStableAuthenticated)
				return true, nil
			}
			return false, nil
		}
		if !f.authSince.IsZero() {
			f.m.logger.Debug("Authenticated URL did not hold, restarting stability window", zap.String("url", u))
			f.authSince = time.Time{}
		}

		if handled, err := f.handleCode(ctx); handled || err != nil {
			return false, err
		}

		if onWorkspaceScreen(ctx, f.page, u) {
			f.to(StateWorkspaceResolution, zap.String("url", u))
			if _, err := f.m.resolveWorkspace(ctx, f.page, f.attempts, tick.Remaining); err != nil {
				return false, err
			}
			return false, nil
		}

		if slack.IsSignInURL(u) {
			submit(ctx, f.page)
		} else {
			_ = f.page.Navigate(ctx, s.Target.ClientURL())
		}
		f.m.logger.Debug("Waiting for authenticated client", zap.Int("tick", tick.N), zap.String("url", u))
		return false, nil
	})
	if errors.Is(err, poll.ErrTimeout) {
		return fmt.Errorf("%w within %s", ErrLoginNotConfirmed, s.Auth.Timeout)
	}
	return err
}

func onWorkspaceScreen(ctx context.Context, page browser.Page, u string) bool {
	if slack.IsWorkspaceResolutionURL(u) {
		return true
	}
	_, set, err := locator.WorkspaceScreen().First(ctx, page, "")
	return err == nil && !set.Empty()
}

// handleCode answers a one-time code challenge once. handled is true when
// the challenge was on screen this tick.
func (f *flow) handleCode(ctx context.Context) (handled bool, err error) {
	fields, err := f.page.Query(ctx, locator.CodeFields())
	if err != nil || fields.Empty() {
		return false, nil
	}
	if f.codeSent {
		// Still verifying, or the code was rejected; keep submitting.
		submit(ctx, f.page)
		return true, nil
	}

	if f.code == "" {
		f.to(StateOTPChallenge, zap.Int("fields", fields.Count()))
		if !f.m.settings.Auth.AllowInteractive {
			return true, ErrSecurityCodeInteractiveDisabled
		}
		if f.m.prompter == nil || !f.m.prompter.Interactive() {
			return true, ErrSecurityCodeNonInteractiveStdin
		}
		code, err := f.m.prompter.PromptCode(ctx)
		if err != nil {
			return true, err
		}
		if code == "" {
			return true, ErrSecurityCodeEmpty
		}
		f.code = code
	}

	// A failed fill is retried next tick with the same code.
	if err := f.enterCode(ctx, fields, f.code); err != nil {
		return true, nil
	}
	f.codeSent = true
	submit(ctx, f.page)
	return true, nil
}

// enterCode fills one field with the whole code, or one character per
// field when the widget has exactly one box per character. Anything else
// gets the whole code in the first box, which works on the variants seen
// so far but is not guaranteed.
func (f *flow) enterCode(ctx context.Context, fields locator.MatchSet, code string) error {
	chars := []rune(code)
	switch {
	case fields.Count() == 1:
		return f.page.Fill(ctx, fields.Elements[0], code)
	case fields.Count() == len(chars):
		for i, el := range fields.Elements {
			if err := f.page.Fill(ctx, el, string(chars[i])); err != nil {
				return err
			}
		}
		return nil
	default:
		f.m.logger.Warn("Code field count does not match code length, pasting into first field",
			zap.Int("fields", fields.Count()), zap.Int("length", len(chars)))
		return f.page.Fill(ctx, fields.Elements[0], code)
	}
}

func (m *Machine) pollOptions(timeout time.Duration) poll.Options {
	return poll.Options{Timeout: timeout, Interval: m.settings.Tick, Clock: m.clock}
}

// resolveWorkspace spends one attempt escaping the workspace screen: a
// direct link to the workspace first, then each candidate in order. It
// returns once budget has passed, even with candidates left untried.
func (m *Machine) resolveWorkspace(ctx context.Context, page browser.Page, attempts *Attempts, budget time.Duration) (bool, error) {
	if budget <= 0 {
		return false, nil
	}
	if err := attempts.Acquire(); err != nil {
		m.logger.Error("Workspace resolution refused", zap.String("tag", string(TagWorkspaceResolutionExhausted)), zap.Int("max", attempts.Max()))
		return false, err
	}
	t := m.settings.Target
	deadline := m.clock.Now().Add(budget)
	m.logger.Info("Resolving workspace", zap.Int("attempt", attempts.Used()), zap.Int("max", attempts.Max()), zap.Duration("budget", budget))

	if st, set, err := locator.WorkspaceLink(t.Workspace, t.WorkspaceHost()).First(ctx, page, ""); err == nil {
		if el, ok := set.MostRecent(); ok && page.Click(ctx, el, false) == nil {
			if m.leftWorkspaceScreen(ctx, page, deadline) {
				m.logger.Info("Workspace resolved", zap.String("via", st.Name))
				return true, nil
			}
		}
	}

	for _, candidate := range t.WorkspaceCandidates(m.settings.Credentials.Email) {
		if !m.clock.Now().Before(deadline) {
			m.logger.Debug("Workspace resolution budget spent", zap.String("next_candidate", candidate))
			break
		}
		_, inputs, err := locator.WorkspaceInput().First(ctx, page, "")
		if err != nil {
			continue
		}
		input, ok := inputs.MostRecent()
		if !ok {
			break
		}
		if page.Fill(ctx, input, candidate) != nil {
			continue
		}
		submit(ctx, page)
		if m.leftWorkspaceScreen(ctx, page, deadline) {
			m.logger.Info("Workspace resolved", zap.String("via", "candidate"), zap.String("candidate", candidate))
			return true, nil
		}
	}
	m.logger.Warn("Workspace screen not left", zap.Int("attempt", attempts.Used()))
	return false, nil
}

// leftWorkspaceScreen waits up to resolveWaitTicks ticks, cut short at
// deadline, for the page to leave the workspace screen.
func (m *Machine) leftWorkspaceScreen(ctx context.Context, page browser.Page, deadline time.Time) bool {
	wait := min(resolveWaitTicks*m.settings.Tick, deadline.Sub(m.clock.Now()))
	if wait <= 0 {
		return false
	}
	err := poll.Until(ctx, m.pollOptions(wait), func(ctx context.Context, _ poll.Tick) (bool, error) {
		u, err := page.URL(ctx)
		if err != nil {
			return false, nil
		}
		return !onWorkspaceScreen(ctx, page, u), nil
	})
	return err == nil
}

// Resolver adapts the machine for inline use by the readiness poller.
func (m *Machine) Resolver(attempts *Attempts) readiness.WorkspaceResolver {
	return resolver{m: m, attempts: attempts}
}

type resolver struct {
	m        *Machine
	attempts *Attempts
}

// ResolveWorkspace leaves plain sign-in pages alone: only the workspace
// screen is worth an attempt.
func (r resolver) ResolveWorkspace(ctx context.Context, page browser.Page, budget time.Duration) (bool, error) {
	u, err := page.URL(ctx)
	if err != nil || !onWorkspaceScreen(ctx, page, u) {
		r.m.logger.Debug("Not on the workspace screen, skipping resolution", zap.String("url", u))
		return false, nil
	}
	return r.m.resolveWorkspace(ctx, page, r.attempts, budget)
}
