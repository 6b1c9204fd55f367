// Package cdp drives Chrome through the DevTools protocol with chromedp.
package cdp

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser/dom"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser/stealth"
	"go.uber.org/zap"
)

const startupTimeout = 45 * time.Second

// Launcher starts a dedicated Chrome process per session.
type Launcher struct {
	logger  *zap.Logger
	persona stealth.Persona
}

// NewLauncher creates a chromedp launcher presenting persona.
func NewLauncher(logger *zap.Logger, persona stealth.Persona) *Launcher {
	return &Launcher{logger: logger.Named("cdp"), persona: persona}
}

// Launch starts Chrome, applies the persona and restores session state.
func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Session, error) {
	persona := l.persona.WithOverrides(opts.UserAgent, opts.Locale)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocatorOptions(opts, persona)...)
	sugar := l.logger.Sugar()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)

	p := &Page{
		tabCtx:        tabCtx,
		cancelTab:     cancelTab,
		cancelAlloc:   cancelAlloc,
		navTimeout:    orDefault(opts.NavigationTimeout, 30*time.Second),
		actionTimeout: orDefault(opts.ActionTimeout, 5*time.Second),
		logger:        l.logger,
	}

	// The first Run must use the tab context itself; it owns the process.
	if err := chromedp.Run(tabCtx); err != nil {
		p.shutdown()
		return nil, fmt.Errorf("starting chrome: %w", err)
	}

	setup := chromedp.Tasks{network.Enable(), stealth.Apply(persona, l.logger)}
	if opts.Mode == browser.ModeFresh && opts.StatePath != "" {
		restore, err := restoreState(opts.StatePath)
		if err != nil {
			p.shutdown()
			return nil, err
		}
		setup = append(setup, restore...)
	}
	if err := p.run(ctx, startupTimeout, setup); err != nil {
		p.shutdown()
		return nil, fmt.Errorf("preparing tab: %w", err)
	}

	l.logger.Debug("Browser ready",
		zap.String("mode", opts.Mode.String()),
		zap.Bool("headless", opts.Headless),
	)
	return p, nil
}

// allocatorOptions starts from chromedp's defaults. A false boolean flag is
// omitted from the command line, which drops enable-automation.
func allocatorOptions(opts browser.LaunchOptions, persona stealth.Persona) []chromedp.ExecAllocatorOption {
	out := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	out = append(out,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", opts.Headless),
		chromedp.WindowSize(1440, 900),
		chromedp.UserAgent(persona.UserAgent),
	)
	if opts.Mode == browser.ModePersistent && opts.ProfileDir != "" {
		out = append(out, chromedp.UserDataDir(opts.ProfileDir))
	}

	for _, f := range parseArgs(opts.Args) {
		out = append(out, chromedp.Flag(f.name, f.value))
	}

	if runtime.GOOS == "linux" {
		out = append(out,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	return out
}

type flagArg struct {
	name  string
	value interface{}
}

// parseArgs turns "--name=value" and "--name" into chromedp flags.
func parseArgs(args []string) []flagArg {
	var out []flagArg
	for _, arg := range args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if name == "" {
			continue
		}
		if len(parts) == 2 {
			out = append(out, flagArg{name: name, value: parts[1]})
		} else {
			out = append(out, flagArg{name: name, value: true})
		}
	}
	return out
}

// restoreState loads a storage-state file into CDP actions: cookies are set
// directly, local storage is seeded by a script on every new document.
func restoreState(path string) (chromedp.Tasks, error) {
	state, err := browser.ReadState(path)
	if err != nil {
		return nil, fmt.Errorf("reading session state: %w", err)
	}

	var tasks chromedp.Tasks
	if params := cookieParams(state.Cookies); len(params) > 0 {
		tasks = append(tasks, network.SetCookies(params))
	}
	script, err := dom.RestoreLocalStorageScript(state.Origins)
	if err != nil {
		return nil, err
	}
	if script != "" {
		tasks = append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			return err
		}))
	}
	return tasks, nil
}

func cookieParams(cookies []browser.Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.SameSite != "" {
			p.SameSite = network.CookieSameSite(c.SameSite)
		}
		if !c.IsSession() {
			expires := cdp.TimeSinceEpoch(c.ExpiresAt())
			p.Expires = &expires
		}
		params = append(params, p)
	}
	return params
}

func stateCookies(cookies []*network.Cookie) []browser.Cookie {
	out := make([]browser.Cookie, 0, len(cookies))
	for _, c := range cookies {
		expires := c.Expires
		if c.Session {
			expires = -1
		}
		out = append(out, browser.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return out
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
