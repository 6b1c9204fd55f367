package cdp

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser/dom"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/locator"
	"go.uber.org/zap"
)

var keys = map[browser.Key]string{
	browser.KeyEnter:  kb.Enter,
	browser.KeyEnd:    kb.End,
	browser.KeyPageUp: kb.PageUp,
	browser.KeyEscape: kb.Escape,
}

// Page is a single chromedp tab. It implements browser.Session.
type Page struct {
	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc

	navTimeout    time.Duration
	actionTimeout time.Duration
	logger        *zap.Logger
}

// combine derives from the tab context, so CDP values are preserved, and is
// also cancelled when op is.
func combine(tab, op context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(tab)
	stop := context.AfterFunc(op, cancel)
	if deadline, ok := op.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		ctx, cancelDeadline = context.WithDeadline(ctx, deadline)
		return ctx, func() { stop(); cancelDeadline(); cancel() }
	}
	return ctx, func() { stop(); cancel() }
}

func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, cancel := combine(p.tabCtx, ctx)
	defer cancel()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		opCtx, cancelTimeout = context.WithTimeout(opCtx, timeout)
		defer cancelTimeout()
	}
	return chromedp.Run(opCtx, actions...)
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, p.navTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	var u string
	err := p.run(ctx, p.actionTimeout, chromedp.Location(&u))
	return u, err
}

func (p *Page) Title(ctx context.Context) (string, error) {
	var t string
	err := p.run(ctx, p.actionTimeout, chromedp.Title(&t))
	return t, err
}

func (p *Page) BodyText(ctx context.Context) (string, error) {
	var text string
	err := p.run(ctx, p.actionTimeout, chromedp.Evaluate(dom.BodyTextExpression, &text))
	return text, err
}

func (p *Page) Query(ctx context.Context, q locator.Query) (locator.MatchSet, error) {
	expr, err := dom.QueryExpression(q, dom.NewToken())
	if err != nil {
		return locator.MatchSet{}, err
	}
	var res dom.Result
	if err := p.run(ctx, p.actionTimeout, chromedp.Evaluate(expr, &res)); err != nil {
		return locator.MatchSet{}, err
	}
	return res.MatchSet()
}

func (p *Page) evalTrue(ctx context.Context, expr string) error {
	var ok bool
	if err := p.run(ctx, p.actionTimeout, chromedp.Evaluate(expr, &ok)); err != nil {
		return err
	}
	if !ok {
		return browser.ErrElementGone
	}
	return nil
}

func (p *Page) Click(ctx context.Context, el locator.Element, force bool) error {
	if force || el.InFrame {
		return p.evalTrue(ctx, dom.ForceClickExpression(el.Handle))
	}
	return p.run(ctx, p.actionTimeout,
		chromedp.ScrollIntoView(el.Handle, chromedp.ByQuery),
		chromedp.Click(el.Handle, chromedp.ByQuery, chromedp.NodeVisible),
	)
}

func (p *Page) Check(ctx context.Context, el locator.Element, force bool) error {
	if force || el.InFrame {
		return p.evalTrue(ctx, dom.ForceCheckExpression(el.Handle))
	}
	if el.Checked {
		return nil
	}
	return p.run(ctx, p.actionTimeout,
		chromedp.ScrollIntoView(el.Handle, chromedp.ByQuery),
		chromedp.Click(el.Handle, chromedp.ByQuery, chromedp.NodeVisible),
	)
}

func (p *Page) Fill(ctx context.Context, el locator.Element, value string) error {
	return p.run(ctx, p.actionTimeout,
		chromedp.Focus(el.Handle, chromedp.ByQuery),
		chromedp.SetValue(el.Handle, "", chromedp.ByQuery),
		chromedp.SendKeys(el.Handle, value, chromedp.ByQuery),
	)
}

func (p *Page) Press(ctx context.Context, key browser.Key) error {
	code, ok := keys[key]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	return p.run(ctx, p.actionTimeout, chromedp.KeyEvent(code))
}

func (p *Page) ScrollToEnd(ctx context.Context) error {
	return p.run(ctx, p.actionTimeout, chromedp.Evaluate(dom.ScrollToEndExpression, nil))
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, p.navTimeout, chromedp.FullScreenshot(&buf, 100))
	return buf, err
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	var markup string
	err := p.run(ctx, p.actionTimeout, chromedp.OuterHTML("html", &markup, chromedp.ByQuery))
	return markup, err
}

// SaveState captures every browser cookie and the current origin's local
// storage.
func (p *Page) SaveState(ctx context.Context, path string) error {
	var (
		cookies []*network.Cookie
		origin  browser.OriginState
	)
	err := p.run(ctx, p.actionTimeout,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = storage.GetCookies().Do(ctx)
			return err
		}),
		chromedp.Evaluate(dom.LocalStorageExpression, &origin),
	)
	if err != nil {
		return fmt.Errorf("capturing session state: %w", err)
	}

	state := browser.StorageState{Cookies: stateCookies(cookies), Origins: []browser.OriginState{}}
	if len(origin.LocalStorage) > 0 {
		state.Origins = append(state.Origins, origin)
	}
	return browser.WriteState(path, state)
}

// Close shuts the tab and the browser process.
func (p *Page) Close(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(p.tabCtx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	p.shutdown()
	return err
}

func (p *Page) shutdown() {
	p.cancelTab()
	p.cancelAlloc()
}
