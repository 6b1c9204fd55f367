// Package readiness waits for Slack's channel view to render. Slack builds
// the view lazily, so every tick also clears overlays and nudges the
// virtual list before checking again.
package readiness

import (
	"context"
	"errors"
	"time"

	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/locator"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/poll"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/slack"
	"go.uber.org/zap"
)

// Status classifies how a wait ended.
type Status int

const (
	// Unavailable means the deadline passed without any content marker.
	Unavailable Status = iota
	Ready
	// Glitch means Slack served its transient error page.
	Glitch
	// SignInRequired means the deadline passed on a sign-in surface.
	SignInRequired
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "READY"
	case Glitch:
		return "GLITCH_PAGE_DETECTED"
	case SignInRequired:
		return "SIGN_IN_REQUIRED"
	default:
		return "CHANNEL_CONTENT_UNAVAILABLE"
	}
}

// WorkspaceResolver escapes a workspace-disambiguation screen. It must
// return within budget. ok reports whether the screen was left; a non-nil
// error is fatal for the run.
type WorkspaceResolver interface {
	ResolveWorkspace(ctx context.Context, page browser.Page, budget time.Duration) (ok bool, err error)
}

// Observation is one look at the page.
type Observation struct {
	URL     string
	Markers bool
	Glitch  bool
}

// Poller runs the readiness loop.
type Poller struct {
	target   slack.Target
	resolver WorkspaceResolver
	tick     time.Duration
	clock    poll.Clock
	logger   *zap.Logger
}

// Option customises a Poller.
type Option func(*Poller)

// WithResolver enables inline workspace resolution when Slack reroutes to a
// sign-in surface.
func WithResolver(r WorkspaceResolver) Option {
	return func(p *Poller) { p.resolver = r }
}

// WithClock replaces the wall clock.
func WithClock(c poll.Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// NewPoller creates a Poller that ticks every tick.
func NewPoller(target slack.Target, tick time.Duration, logger *zap.Logger, opts ...Option) *Poller {
	p := &Poller{
		target: target,
		tick:   tick,
		clock:  poll.Real,
		logger: logger.Named("readiness"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Observe reads URL, content markers and the glitch signal once. Driver
// errors leave the corresponding field at its zero value.
func Observe(ctx context.Context, page browser.Page) Observation {
	var obs Observation
	obs.URL, _ = page.URL(ctx)

	if _, set, err := locator.ContentMarkers().First(ctx, page, ""); err == nil && !set.Empty() {
		obs.Markers = true
	}

	title, _ := page.Title(ctx)
	body, _ := page.BodyText(ctx)
	obs.Glitch = slack.IsGlitch(title, body)
	return obs
}

// DismissOverlays clicks the newest visible consent or interstitial button,
// searching every same-origin frame.
func DismissOverlays(ctx context.Context, page browser.Page, logger *zap.Logger) bool {
	st, set, err := locator.ConsentOverlays().First(ctx, page, "")
	if err != nil || set.Empty() {
		return false
	}
	el, _ := set.MostRecent()
	if err := page.Click(ctx, el, false); err != nil {
		if err := page.Click(ctx, el, true); err != nil {
			return false
		}
	}
	logger.Debug("Dismissed overlay", zap.String("strategy", st.Name))
	return true
}

// Nudge coaxes the virtual list into rendering its newest rows.
func Nudge(ctx context.Context, page browser.Page) {
	_ = page.ScrollToEnd(ctx)
	_ = page.Press(ctx, browser.KeyEnd)
}

// WaitForChannelContent polls until content markers appear. It returns
// Ready on the first marker hit, Glitch as soon as the error page shows,
// and Unavailable or SignInRequired once timeout has passed. Only context
// cancellation and fatal resolver errors are returned as errors.
func (p *Poller) WaitForChannelContent(ctx context.Context, page browser.Page, timeout time.Duration) (Status, error) {
	status := Unavailable
	err := poll.Until(ctx, poll.Options{Timeout: timeout, Interval: p.tick, Clock: p.clock}, func(ctx context.Context, tick poll.Tick) (bool, error) {
		DismissOverlays(ctx, page, p.logger)

		obs := Observe(ctx, page)
		if obs.Markers && !slack.IsSignInURL(obs.URL) {
			status = Ready
			return true, nil
		}
		if obs.Glitch {
			status = Glitch
			return true, nil
		}

		if slack.IsSignInURL(obs.URL) || slack.IsWorkspaceResolutionURL(obs.URL) {
			status = SignInRequired
			if p.resolver != nil {
				p.logger.Info("Rerouted to sign-in, resolving workspace", zap.String("url", obs.URL))
				ok, err := p.resolver.ResolveWorkspace(ctx, page, tick.Remaining)
				if err != nil {
					return false, err
				}
				if ok {
					_ = page.Navigate(ctx, p.target.ClientURL())
				}
			}
			return false, nil
		}

		status = Unavailable
		Nudge(ctx, page)
		p.logger.Debug("Channel content not ready", zap.Int("tick", tick.N), zap.Duration("remaining", tick.Remaining))
		return false, nil
	})

	switch {
	case err == nil:
		return status, nil
	case errors.Is(err, poll.ErrTimeout):
		p.logger.Warn("Channel content did not appear", zap.String("tag", status.String()), zap.Duration("timeout", timeout))
		return status, nil
	default:
		return Unavailable, err
	}
}
