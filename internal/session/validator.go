package session

import (
	"context"
	"errors"
	"time"

	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/config"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/poll"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/readiness"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/slack"
	"go.uber.org/zap"
)

// Validator decides whether the stored artifact still opens the channel.
// It never logs in and never persists anything.
type Validator struct {
	store    *Store
	launcher browser.Launcher
	base     browser.LaunchOptions
	target   slack.Target
	timeout  time.Duration
	grace    time.Duration
	tick     time.Duration
	clock    poll.Clock
	logger   *zap.Logger
}

// ValidatorOption customises a Validator.
type ValidatorOption func(*Validator)

// WithClock replaces the wall clock.
func WithClock(c poll.Clock) ValidatorOption {
	return func(v *Validator) { v.clock = c }
}

// NewValidator creates a validator using the validation, grace and tick
// budgets from t.
func NewValidator(store *Store, launcher browser.Launcher, base browser.LaunchOptions, target slack.Target, t config.TimeoutsConfig, logger *zap.Logger, opts ...ValidatorOption) *Validator {
	v := &Validator{
		store:    store,
		launcher: launcher,
		base:     base,
		target:   target,
		timeout:  t.Validation,
		grace:    t.Grace,
		tick:     t.Tick,
		clock:    poll.Real,
		logger:   logger.Named("session_validator"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// verdict is the result of checking one channel URL.
type verdict int

const (
	verdictInvalid verdict = iota
	verdictValid
	verdictGlitch
)

func (v verdict) String() string {
	switch v {
	case verdictValid:
		return "valid"
	case verdictGlitch:
		return "glitch"
	default:
		return "invalid"
	}
}

// IsSessionUsable opens the channel with the stored artifact and reports
// whether it lands on the authenticated client. Every failure, panics
// included, means "not usable".
func (v *Validator) IsSessionUsable(ctx context.Context) (usable bool) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("Session validation panicked", zap.Any("panic", r))
			usable = false
		}
	}()

	if ok, reason := v.store.Usable(); !ok {
		v.logger.Info("Stored session not usable", zap.String("reason", reason), zap.String("path", v.store.Path()))
		return false
	}

	err := browser.Use(ctx, v.launcher, v.store.LaunchOptions(v.base), v.logger, func(ctx context.Context, page browser.Page) error {
		for _, u := range v.target.ChannelURLs() {
			switch v.check(ctx, page, u) {
			case verdictValid:
				usable = true
				return nil
			case verdictGlitch:
				v.logger.Warn("Glitch page during validation", zap.String("url", u))
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		return errNotAuthenticated
	})
	if err != nil {
		v.logger.Warn("Session validation failed, will re-login", zap.Error(err))
		return false
	}
	v.logger.Info("Existing Slack session is usable")
	return usable
}

var errNotAuthenticated = errors.New("channel never reached the authenticated client")

// check navigates to u and watches it for the validation budget. The URL
// must match the authenticated client on the expected host, and either the
// channel content renders or the URL holds for the grace period.
func (v *Validator) check(ctx context.Context, page browser.Page, u string) verdict {
	if err := page.Navigate(ctx, u); err != nil {
		v.logger.Debug("Navigation error, continuing to poll", zap.String("url", u), zap.Error(err))
	}

	result := verdictInvalid
	var authSince time.Time
	err := poll.Until(ctx, poll.Options{Timeout: v.timeout, Interval: v.tick, Clock: v.clock}, func(ctx context.Context, tick poll.Tick) (bool, error) {
		readiness.DismissOverlays(ctx, page, v.logger)
		obs := readiness.Observe(ctx, page)
		if obs.Glitch {
			result = verdictGlitch
			return true, nil
		}
		if !v.target.IsAuthenticatedURL(obs.URL) {
			authSince = time.Time{}
			return false, nil
		}
		if obs.Markers {
			result = verdictValid
			return true, nil
		}

		now := v.clock.Now()
		if authSince.IsZero() {
			authSince = now
		}
		if now.Sub(authSince) >= v.grace {
			v.logger.Info("Authenticated URL held for grace period without content markers", zap.Duration("grace", v.grace))
			result = verdictValid
			return true, nil
		}
		readiness.Nudge(ctx, page)
		return false, nil
	})
	if err != nil && !errors.Is(err, poll.ErrTimeout) {
		v.logger.Debug("Validation loop ended", zap.Error(err))
	}
	v.logger.Debug("Validated channel URL", zap.String("url", u), zap.Stringer("verdict", result))
	return result
}
