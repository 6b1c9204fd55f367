// Package pw drives Chromium through playwright-go. It is the alternative to
// the chromedp driver and reads and writes the same storage-state files.
package pw

import (
	"context"
	"fmt"
	"time"

	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser/stealth"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

const (
	installTimeout = 5 * time.Minute
	launchTimeout  = 60 * time.Second
)

// Launcher starts a playwright driver and Chromium per session.
type Launcher struct {
	logger  *zap.Logger
	persona stealth.Persona
	install bool
}

// NewLauncher creates a playwright launcher. When install is set the
// Chromium build is downloaded on first use.
func NewLauncher(logger *zap.Logger, persona stealth.Persona, install bool) *Launcher {
	return &Launcher{logger: logger.Named("playwright"), persona: persona, install: install}
}

// await runs a blocking playwright call and gives up when ctx ends. The call
// itself is bounded by the timeouts passed to playwright.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	return awaitReleasing(ctx, fn, nil)
}

// awaitReleasing is await for calls that start something. A value that
// arrives after ctx ended is handed to release, when set, so nothing it
// started outlives the caller.
func awaitReleasing[T any](ctx context.Context, fn func() (T, error), release func(T)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		if release != nil {
			go func() {
				if r := <-ch; r.err == nil {
					release(r.v)
				}
			}()
		}
		var zero T
		return zero, ctx.Err()
	}
}

func (l *Launcher) ensureInstallation(ctx context.Context) error {
	l.logger.Info("Verifying Playwright browser installation")
	installCtx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()

	_, err := await(installCtx, func() (struct{}, error) {
		return struct{}{}, playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}})
	})
	if err != nil {
		return fmt.Errorf("installing playwright browsers: %w", err)
	}
	return nil
}

// Launch starts the driver and opens one page in a fresh or persistent
// context.
func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Session, error) {
	if l.install {
		if err := l.ensureInstallation(ctx); err != nil {
			return nil, err
		}
	}
	persona := l.persona.WithOverrides(opts.UserAgent, opts.Locale)

	pw, err := awaitReleasing(ctx, func() (*playwright.Playwright, error) {
		return playwright.Run(&playwright.RunOptions{Browsers: []string{"chromium"}, SkipInstallBrowsers: true})
	}, func(late *playwright.Playwright) {
		if err := late.Stop(); err != nil {
			l.logger.Debug("Stopping abandoned playwright driver", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("starting playwright driver: %w", err)
	}

	p := &Page{
		pw:            pw,
		navTimeout:    orDefault(opts.NavigationTimeout, 30*time.Second),
		actionTimeout: orDefault(opts.ActionTimeout, 5*time.Second),
		logger:        l.logger,
	}

	if err := l.open(ctx, p, opts, persona); err != nil {
		p.shutdown()
		return nil, err
	}
	p.bc.SetDefaultTimeout(ms(p.actionTimeout))
	p.bc.SetDefaultNavigationTimeout(ms(p.navTimeout))

	l.logger.Debug("Browser ready",
		zap.String("mode", opts.Mode.String()),
		zap.Bool("headless", opts.Headless),
	)
	return p, nil
}

func (l *Launcher) open(ctx context.Context, p *Page, opts browser.LaunchOptions, persona stealth.Persona) error {
	args := launchArgs(opts.Args)
	viewport := &playwright.Size{Width: 1440, Height: 900}

	if opts.Mode == browser.ModePersistent {
		bc, err := awaitReleasing(ctx, func() (playwright.BrowserContext, error) {
			return p.pw.Chromium.LaunchPersistentContext(opts.ProfileDir, playwright.BrowserTypeLaunchPersistentContextOptions{
				Headless:  playwright.Bool(opts.Headless),
				Args:      args,
				Timeout:   playwright.Float(ms(launchTimeout)),
				UserAgent: playwright.String(persona.UserAgent),
				Locale:    optional(persona.Locale),
				Viewport:  viewport,
			})
		}, func(late playwright.BrowserContext) { _ = late.Close() })
		if err != nil {
			return fmt.Errorf("launching persistent context: %w", err)
		}
		p.bc = bc
	} else {
		b, err := awaitReleasing(ctx, func() (playwright.Browser, error) {
			return p.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
				Headless: playwright.Bool(opts.Headless),
				Args:     args,
				Timeout:  playwright.Float(ms(launchTimeout)),
			})
		}, func(late playwright.Browser) { _ = late.Close() })
		if err != nil {
			return fmt.Errorf("launching browser: %w", err)
		}
		p.browser = b

		contextOpts := playwright.BrowserNewContextOptions{
			UserAgent: playwright.String(persona.UserAgent),
			Locale:    optional(persona.Locale),
			Viewport:  viewport,
		}
		if opts.StatePath != "" {
			if _, err := browser.ReadState(opts.StatePath); err != nil {
				return fmt.Errorf("reading session state: %w", err)
			}
			contextOpts.StorageStatePath = playwright.String(opts.StatePath)
		}
		bc, err := b.NewContext(contextOpts)
		if err != nil {
			return fmt.Errorf("creating browser context: %w", err)
		}
		p.bc = bc
	}

	if lang := persona.AcceptLanguage(); lang != "" {
		if err := p.bc.SetExtraHTTPHeaders(map[string]string{"Accept-Language": lang}); err != nil {
			return fmt.Errorf("setting headers: %w", err)
		}
	}

	if pages := p.bc.Pages(); len(pages) > 0 {
		p.page = pages[0]
		return nil
	}
	page, err := p.bc.NewPage()
	if err != nil {
		return fmt.Errorf("opening page: %w", err)
	}
	p.page = page
	return nil
}

// launchArgs hides the automation banner and appends configured flags.
func launchArgs(extra []string) []string {
	args := []string{
		"--disable-blink-features=AutomationControlled",
		"--disable-dev-shm-usage",
		"--no-sandbox",
	}
	return append(args, extra...)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return playwright.String(s)
}

func ms(d time.Duration) float64 {
	return float64(d.Milliseconds())
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
