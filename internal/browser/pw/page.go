package pw

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser/dom"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/locator"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

// Page is one playwright page. It implements browser.Session.
type Page struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	bc      playwright.BrowserContext
	page    playwright.Page

	navTimeout    time.Duration
	actionTimeout time.Duration
	logger        *zap.Logger
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	_, err := await(ctx, func() (playwright.Response, error) {
		return p.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(ms(p.navTimeout)),
		})
	})
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.page.URL(), nil
}

func (p *Page) Title(ctx context.Context) (string, error) {
	return await(ctx, p.page.Title)
}

func (p *Page) evaluate(ctx context.Context, expr string) (interface{}, error) {
	return await(ctx, func() (interface{}, error) { return p.page.Evaluate(expr) })
}

func (p *Page) BodyText(ctx context.Context) (string, error) {
	raw, err := p.evaluate(ctx, dom.BodyTextExpression)
	if err != nil {
		return "", err
	}
	text, _ := raw.(string)
	return text, nil
}

func (p *Page) Query(ctx context.Context, q locator.Query) (locator.MatchSet, error) {
	expr, err := dom.QueryExpression(q, dom.NewToken())
	if err != nil {
		return locator.MatchSet{}, err
	}
	raw, err := p.evaluate(ctx, expr)
	if err != nil {
		return locator.MatchSet{}, err
	}
	res, err := dom.DecodeResult(raw)
	if err != nil {
		return locator.MatchSet{}, err
	}
	return res.MatchSet()
}

func (p *Page) evalTrue(ctx context.Context, expr string) error {
	raw, err := p.evaluate(ctx, expr)
	if err != nil {
		return err
	}
	if ok, _ := raw.(bool); !ok {
		return browser.ErrElementGone
	}
	return nil
}

func (p *Page) locate(el locator.Element) playwright.Locator {
	return p.page.Locator(el.Handle).First()
}

// Click uses playwright's actionability checks unless forced. Elements inside
// frames are clicked from the page because the handle is not frame-aware.
func (p *Page) Click(ctx context.Context, el locator.Element, force bool) error {
	if el.InFrame {
		return p.evalTrue(ctx, dom.ForceClickExpression(el.Handle))
	}
	_, err := await(ctx, func() (struct{}, error) {
		return struct{}{}, p.locate(el).Click(playwright.LocatorClickOptions{
			Force:   playwright.Bool(force),
			Timeout: playwright.Float(ms(p.actionTimeout)),
		})
	})
	return translate(err)
}

func (p *Page) Check(ctx context.Context, el locator.Element, force bool) error {
	if el.InFrame {
		return p.evalTrue(ctx, dom.ForceCheckExpression(el.Handle))
	}
	_, err := await(ctx, func() (struct{}, error) {
		return struct{}{}, p.locate(el).Check(playwright.LocatorCheckOptions{
			Force:   playwright.Bool(force),
			Timeout: playwright.Float(ms(p.actionTimeout)),
		})
	})
	return translate(err)
}

func (p *Page) Fill(ctx context.Context, el locator.Element, value string) error {
	_, err := await(ctx, func() (struct{}, error) {
		return struct{}{}, p.locate(el).Fill(value, playwright.LocatorFillOptions{
			Timeout: playwright.Float(ms(p.actionTimeout)),
		})
	})
	return translate(err)
}

func (p *Page) Press(ctx context.Context, key browser.Key) error {
	_, err := await(ctx, func() (struct{}, error) {
		return struct{}{}, p.page.Keyboard().Press(string(key))
	})
	return err
}

func (p *Page) ScrollToEnd(ctx context.Context) error {
	_, err := p.evaluate(ctx, dom.ScrollToEndExpression)
	return err
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	return await(ctx, func() ([]byte, error) {
		return p.page.Screenshot(playwright.PageScreenshotOptions{
			FullPage: playwright.Bool(true),
			Timeout:  playwright.Float(ms(p.navTimeout)),
		})
	})
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	return await(ctx, p.page.Content)
}

// SaveState uses playwright's own storage-state export, which already
// writes the shared file layout.
func (p *Page) SaveState(ctx context.Context, path string) error {
	_, err := await(ctx, func() (*playwright.StorageState, error) {
		return p.bc.StorageState(path)
	})
	if err != nil {
		return fmt.Errorf("capturing session state: %w", err)
	}
	return nil
}

// Close shuts the context, the browser and the driver.
func (p *Page) Close(ctx context.Context) error {
	_, err := await(ctx, func() (struct{}, error) {
		return struct{}{}, p.shutdown()
	})
	return err
}

func (p *Page) shutdown() error {
	var errs []error
	if p.bc != nil {
		errs = append(errs, p.bc.Close())
	}
	if p.browser != nil {
		errs = append(errs, p.browser.Close())
	}
	if p.pw != nil {
		errs = append(errs, p.pw.Stop())
	}
	return errors.Join(errs...)
}

// translate maps a detached target to ErrElementGone so callers retry with
// a fresh query.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTargetClosed) {
		return fmt.Errorf("%w: %v", browser.ErrElementGone, err)
	}
	return err
}
