// Package attendance opens the channel, answers the newest survey with
// "present" and proves the answer landed by counting acknowledgements.
package attendance

import (
	"context"
	"errors"

	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/config"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/locator"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/poll"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/readiness"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/slack"
	"go.uber.org/zap"
)

// Capturer records the page when a run does not succeed.
type Capturer interface {
	Capture(ctx context.Context, page browser.Page, reason string)
}

// Engine marks the account present.
type Engine struct {
	target   slack.Target
	poller   *readiness.Poller
	finder   *Finder
	capturer Capturer
	timeouts config.TimeoutsConfig
	clock    poll.Clock
	logger   *zap.Logger
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithClock replaces the wall clock for every loop the engine runs.
func WithClock(c poll.Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithCapturer sets where debug artifacts go on failure.
func WithCapturer(c Capturer) EngineOption {
	return func(e *Engine) { e.capturer = c }
}

// NewEngine wires an engine. The poller decides how sign-in reroutes are
// handled; the engine only reads its verdict.
func NewEngine(target slack.Target, prompt string, poller *readiness.Poller, t config.TimeoutsConfig, logger *zap.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		target:   target,
		poller:   poller,
		timeouts: t,
		clock:    poll.Real,
		logger:   logger.Named("attendance"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.finder = NewFinder(prompt, t.Tick, e.clock, e.logger)
	return e
}

// Run launches a browser with opts, marks present and always closes the
// browser. Only a failed launch is returned as an error.
func (e *Engine) Run(ctx context.Context, launcher browser.Launcher, opts browser.LaunchOptions) (Outcome, error) {
	outcome := Unknown
	err := browser.Use(ctx, launcher, opts, e.logger, func(ctx context.Context, page browser.Page) error {
		outcome = e.MarkPresent(ctx, page)
		return nil
	})
	return outcome, err
}

// MarkPresent runs the whole attendance sequence on page. Every outcome
// other than success leaves a screenshot and markup dump behind.
func (e *Engine) MarkPresent(ctx context.Context, page browser.Page) Outcome {
	outcome := e.markPresent(ctx, page)
	log := e.logger.With(zap.String("tag", outcome.String()))
	if outcome.Success() {
		log.Info("Attendance run finished")
		return outcome
	}
	log.Error("Attendance run failed")
	if e.capturer != nil {
		e.capturer.Capture(context.WithoutCancel(ctx), page, outcome.String())
	}
	return outcome
}

func (e *Engine) markPresent(ctx context.Context, page browser.Page) Outcome {
	if outcome, ok := e.openChannel(ctx, page); !ok {
		return outcome
	}

	// A closed banner only decides the run when no present control exists;
	// an older closed survey can sit above a newer open one.
	closed := e.surveyClosed(ctx, page)

	kind, set, count := e.finder.FindPresentOption(ctx, page, e.timeouts.PresentSearch)
	if count == 0 {
		if closed || e.surveyClosed(ctx, page) {
			e.logger.Info("Survey is closed and offers no present option")
			return SurveyClosed
		}
		return PresentOptionNotFound
	}
	if closed {
		e.logger.Info("Ignoring closed banner, a present option is on screen")
	}

	el, _ := set.MostRecent()
	baseline := locator.Confirmation().Counts(ctx, page, "")
	e.logger.Info("Activating present option",
		zap.String("strategy", set.Strategy),
		zap.Stringer("kind", kind),
		zap.Int("matches", count),
		zap.Int("index", el.Index),
		zap.Ints("baseline", baseline))

	if err := e.activate(ctx, page, kind, el); err != nil {
		e.logger.Warn("Present option could not be activated", zap.Error(err))
		return NoConfirmationAfterClick
	}

	if !e.confirmed(ctx, page, baseline) {
		return NoConfirmationAfterClick
	}
	e.logger.Info("Confirmation message detected")

	// Give the client a moment to flush the answer before the browser closes.
	_ = poll.Sleep(ctx, e.clock, e.timeouts.Settle)
	return PresentRecorded
}

// openChannel tries each channel URL until the view renders. The worst
// verdict seen decides the failure: a sign-in reroute outranks a glitch
// page, which outranks plain absence of content.
func (e *Engine) openChannel(ctx context.Context, page browser.Page) (Outcome, bool) {
	worst := ChannelContentNotAvailable
	for i, u := range e.target.ChannelURLs() {
		if err := ctx.Err(); err != nil {
			return worst, false
		}
		if i > 0 {
			e.logger.Info("Retrying channel through fallback URL", zap.String("url", u))
		}
		if err := page.Navigate(ctx, u); err != nil {
			e.logger.Debug("Channel navigation error, waiting anyway", zap.String("url", u), zap.Error(err))
		}

		status, err := e.poller.WaitForChannelContent(ctx, page, e.timeouts.Content)
		if err != nil {
			e.logger.Warn("Channel readiness aborted", zap.Error(err))
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return worst, false
			}
			return SessionReauthRequired, false
		}
		switch status {
		case readiness.Ready:
			return Unknown, true
		case readiness.SignInRequired:
			worst = SessionReauthRequired
		case readiness.Glitch:
			if worst != SessionReauthRequired {
				worst = ChannelGlitchPage
			}
		}
		e.logger.Info("Channel view not ready", zap.String("url", u), zap.Stringer("status", status))
	}
	return worst, false
}

func (e *Engine) surveyClosed(ctx context.Context, page browser.Page) bool {
	_, set, err := locator.ClosedSurvey().First(ctx, page, "")
	return err == nil && !set.Empty()
}

// activate uses the normal gesture and retries once with the forced variant.
func (e *Engine) activate(ctx context.Context, page browser.Page, kind locator.Kind, el locator.Element) error {
	err := browser.Activate(ctx, page, kind, el, false)
	if err == nil {
		return nil
	}
	e.logger.Info("Activation failed, retrying forced", zap.Error(err))
	return browser.Activate(ctx, page, kind, el, true)
}

// confirmed polls until some confirmation strategy counts strictly more
// matches than before the activation.
func (e *Engine) confirmed(ctx context.Context, page browser.Page, baseline []int) bool {
	opts := poll.Options{Timeout: e.timeouts.Confirmation, Interval: e.timeouts.ConfirmTick, Clock: e.clock}
	err := poll.Until(ctx, opts, func(ctx context.Context, _ poll.Tick) (bool, error) {
		return locator.Increased(baseline, locator.Confirmation().Counts(ctx, page, "")), nil
	})
	if err != nil {
		e.logger.Warn("No confirmation after activation", zap.Error(err), zap.Duration("timeout", e.timeouts.Confirmation))
		return false
	}
	return true
}
