package attendance

import (
	"context"
	"errors"
	"time"

	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/locator"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/poll"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/readiness"
	"go.uber.org/zap"
)

// Finder locates the "present" control of the newest survey.
type Finder struct {
	prompt string
	tick   time.Duration
	clock  poll.Clock
	logger *zap.Logger
}

// NewFinder creates a Finder. prompt is the regular expression that
// identifies a survey card by its text.
func NewFinder(prompt string, tick time.Duration, clock poll.Clock, logger *zap.Logger) *Finder {
	if clock == nil {
		clock = poll.Real
	}
	return &Finder{prompt: prompt, tick: tick, clock: clock, logger: logger}
}

// FindPresentOption searches until a strategy matches or timeout passes.
// The search is scoped to the newest survey card when one is rendered,
// because the channel may still show older surveys; a card without a
// present option falls back to the whole page in the same tick. During the first half
// of the budget it pulls the newest messages into view; after that it pages
// upward in case the card scrolled away. count is zero only after the
// whole budget was spent.
func (f *Finder) FindPresentOption(ctx context.Context, page browser.Page, timeout time.Duration) (kind locator.Kind, set locator.MatchSet, count int) {
	err := poll.Until(ctx, poll.Options{Timeout: timeout, Interval: f.tick, Clock: f.clock}, func(ctx context.Context, tick poll.Tick) (bool, error) {
		within := f.newestCard(ctx, page)
		st, found, err := locator.PresentOption().First(ctx, page, within)
		if (err != nil || found.Empty()) && within != "" {
			f.logger.Debug("Newest card has no present option, searching the whole page", zap.String("card", within))
			within = ""
			st, found, err = locator.PresentOption().First(ctx, page, within)
		}
		if err == nil && !found.Empty() {
			kind, set, count = st.Kind, found, found.Count()
			f.logger.Debug("Present option found",
				zap.String("strategy", st.Name),
				zap.Int("matches", count),
				zap.Bool("scoped", within != ""))
			return true, nil
		}

		if tick.FirstHalf() {
			readiness.Nudge(ctx, page)
		} else {
			_ = page.Press(ctx, browser.KeyPageUp)
		}
		return false, nil
	})
	if err != nil && !errors.Is(err, poll.ErrTimeout) {
		f.logger.Debug("Present option search interrupted", zap.Error(err))
	}
	return kind, set, count
}

// newestCard returns the handle of the most recent survey card, or "" to
// search the whole page.
func (f *Finder) newestCard(ctx context.Context, page browser.Page) string {
	if f.prompt == "" {
		return ""
	}
	cards, err := page.Query(ctx, locator.SurveyCard(f.prompt))
	if err != nil {
		return ""
	}
	card, ok := cards.MostRecent()
	if !ok {
		return ""
	}
	return card.Handle
}
