// File: internal/browser/page.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jaywee92/Slack-Attendance-Bot/internal/locator"
	"go.uber.org/zap"
)

// Key names a keyboard key understood by every driver.
type Key string

const (
	KeyEnter  Key = "Enter"
	KeyEnd    Key = "End"
	KeyPageUp Key = "PageUp"
	KeyEscape Key = "Escape"
)

// ErrElementGone is returned when a handle no longer resolves, usually
// because Slack re-rendered the list.
var ErrElementGone = errors.New("element no longer attached")

// Page is the automation surface the engines are written against. Every
// method is a single bounded driver call; callers running inside poll loops
// treat errors as "not ready yet".
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	BodyText(ctx context.Context) (string, error)

	// Query returns matches in document order.
	Query(ctx context.Context, q locator.Query) (locator.MatchSet, error)
	// Click activates an element. force skips actionability checks and
	// dispatches the click from inside the page.
	Click(ctx context.Context, el locator.Element, force bool) error
	// Check selects a radio or checkbox.
	Check(ctx context.Context, el locator.Element, force bool) error
	Fill(ctx context.Context, el locator.Element, value string) error
	Press(ctx context.Context, key Key) error
	// ScrollToEnd scrolls every scrollable container to its bottom.
	ScrollToEnd(ctx context.Context) error

	// Screenshot returns a full-page PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	HTML(ctx context.Context) (string, error)
	// SaveState writes cookies and local storage as storage-state JSON.
	SaveState(ctx context.Context, path string) error
}

// Session is a launched browser with one page. Close releases everything the
// launch acquired.
type Session interface {
	Page
	Close(ctx context.Context) error
}

// Mode selects how session state reaches the browser.
type Mode int

const (
	// ModeFresh starts a clean context, optionally restoring storage-state JSON.
	ModeFresh Mode = iota
	// ModePersistent reuses an on-disk browser profile.
	ModePersistent
)

func (m Mode) String() string {
	if m == ModePersistent {
		return "persistent"
	}
	return "fresh"
}

// LaunchOptions configures a launch.
type LaunchOptions struct {
	Mode     Mode
	Headless bool
	// StatePath is restored into a fresh context when non-empty.
	StatePath string
	// ProfileDir backs a persistent launch.
	ProfileDir        string
	Args              []string
	UserAgent         string
	Locale            string
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
}

// Launcher opens browser sessions.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Session, error)
}

// Use launches a session, runs fn, and always closes the session. The close
// runs on a detached context so cancellation of ctx never leaks a browser.
func Use(ctx context.Context, l Launcher, opts LaunchOptions, logger *zap.Logger, fn func(ctx context.Context, page Page) error) (err error) {
	session, err := l.Launch(ctx, opts)
	if err != nil {
		return fmt.Errorf("launching browser: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if cerr := session.Close(closeCtx); cerr != nil && logger != nil {
			logger.Warn("Browser did not close cleanly", zap.Error(cerr))
		}
	}()
	return fn(ctx, session)
}

// Activate runs the interaction a strategy calls for on el.
func Activate(ctx context.Context, page Page, kind locator.Kind, el locator.Element, force bool) error {
	if kind == locator.Check {
		return page.Check(ctx, el, force)
	}
	return page.Click(ctx, el, force)
}
