// Package browsertest provides a scripted, in-memory browser.Page for
// exercising the engines without a real browser.
package browsertest

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/locator"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/poll/polltest"
)

// Action records an interaction.
type Action struct {
	Op     string
	Handle string
	Force  bool
	Value  string
}

// Page is a fake browser.Page. Query results are looked up by the query's
// content, so tests register the exact catalog queries the engines use.
// Hooks run without the lock held and may mutate the page.
type Page struct {
	mu sync.Mutex

	// Clock, when set, advances by CallCost on every call.
	Clock    *polltest.Clock
	CallCost time.Duration

	url   string
	title string
	body  string
	html  string

	matches map[string][]locator.Element
	errs    map[string]error
	// forceErrs fails only non-forced click/check.
	unforcedErr error

	// OnCall runs at the start of every method with the method name.
	OnCall func(p *Page, method string)
	// OnNavigate runs after the URL has been set to the target.
	OnNavigate func(p *Page, url string)
	// OnAction runs after an interaction is recorded; a non-nil error is returned to the caller.
	OnAction func(p *Page, a Action) error

	Navigations []string
	Actions     []Action
	Keys        []browser.Key
	Scrolls     int
	Queries     []locator.Query
	Saved       []string
	Closed      bool
}

// NewPage returns an empty page at about:blank.
func NewPage() *Page {
	return &Page{
		url:     "about:blank",
		matches: map[string][]locator.Element{},
		errs:    map[string]error{},
		html:    "<html><body></body></html>",
	}
}

// Key derives the lookup key for a query.
func Key(q locator.Query) string {
	within := q.Within
	name, aria, text := textKey(q.Name), textKey(q.AriaLabel), textKey(q.Text)
	q.Within = ""
	q.Name, q.AriaLabel, q.Text = nil, nil, nil
	return fmt.Sprintf("%s|%#v|%s|%s|%s", within, q, name, aria, text)
}

func textKey(t *locator.Text) string {
	if t == nil {
		return "-"
	}
	return fmt.Sprintf("%d:%s", t.Mode, t.Value)
}

// Elements builds n actionable elements with handles prefixed by name.
func Elements(name string, n int) []locator.Element {
	out := make([]locator.Element, n)
	for i := range out {
		out[i] = locator.Element{
			Handle:  fmt.Sprintf(`[data-fake="%s-%d"]`, name, i),
			Index:   i,
			Text:    name,
			Visible: true,
			Enabled: true,
		}
	}
	return out
}

// SetMatches registers the result for q. A Within on q scopes the entry.
func (p *Page) SetMatches(q locator.Query, els []locator.Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.matches[Key(q)] = els
}

// SetCount registers n generic elements for q.
func (p *Page) SetCount(q locator.Query, name string, n int) {
	p.SetMatches(q, Elements(name, n))
}

// Count returns the registered number of matches for q.
func (p *Page) Count(q locator.Query) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.matches[Key(q)])
}

// SetURL, SetTitle, SetBody and SetHTML change page content.
func (p *Page) SetURL(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = u
}

func (p *Page) SetTitle(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.title = s
}

func (p *Page) SetBody(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.body = s
}

func (p *Page) SetHTML(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.html = s
}

// Fail makes method return err until cleared with a nil error.
func (p *Page) Fail(method string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.errs, method)
		return
	}
	p.errs[method] = err
}

// FailUnforced makes non-forced Click and Check return err.
func (p *Page) FailUnforced(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unforcedErr = err
}

func (p *Page) enter(ctx context.Context, method string) error {
	if p.OnCall != nil {
		p.OnCall(p, method)
	}
	if p.Clock != nil && p.CallCost > 0 {
		p.Clock.Advance(p.CallCost)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errs[method]
}

func (p *Page) Navigate(ctx context.Context, u string) error {
	if err := p.enter(ctx, "Navigate"); err != nil {
		p.mu.Lock()
		p.Navigations = append(p.Navigations, u)
		p.mu.Unlock()
		return err
	}
	p.mu.Lock()
	p.Navigations = append(p.Navigations, u)
	p.url = u
	p.mu.Unlock()
	if p.OnNavigate != nil {
		p.OnNavigate(p, u)
	}
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	if err := p.enter(ctx, "URL"); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) Title(ctx context.Context) (string, error) {
	if err := p.enter(ctx, "Title"); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title, nil
}

func (p *Page) BodyText(ctx context.Context) (string, error) {
	if err := p.enter(ctx, "BodyText"); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.body, nil
}

func (p *Page) Query(ctx context.Context, q locator.Query) (locator.MatchSet, error) {
	if err := p.enter(ctx, "Query"); err != nil {
		return locator.MatchSet{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Queries = append(p.Queries, q)
	els, ok := p.matches[Key(q)]
	if !ok && q.Within != "" {
		unscoped := q
		unscoped.Within = ""
		els = p.matches[Key(unscoped)]
	}
	out := make([]locator.Element, 0, len(els))
	for _, el := range els {
		if q.VisibleOnly && !el.Visible {
			continue
		}
		out = append(out, el)
	}
	return locator.MatchSet{Elements: out}, nil
}

func (p *Page) interact(ctx context.Context, method string, a Action) error {
	if err := p.enter(ctx, method); err != nil {
		return err
	}
	p.mu.Lock()
	p.Actions = append(p.Actions, a)
	unforced := p.unforcedErr
	p.mu.Unlock()
	if !a.Force && unforced != nil && (a.Op == "click" || a.Op == "check") {
		return unforced
	}
	if p.OnAction != nil {
		return p.OnAction(p, a)
	}
	return nil
}

func (p *Page) Click(ctx context.Context, el locator.Element, force bool) error {
	return p.interact(ctx, "Click", Action{Op: "click", Handle: el.Handle, Force: force})
}

func (p *Page) Check(ctx context.Context, el locator.Element, force bool) error {
	return p.interact(ctx, "Check", Action{Op: "check", Handle: el.Handle, Force: force})
}

func (p *Page) Fill(ctx context.Context, el locator.Element, value string) error {
	return p.interact(ctx, "Fill", Action{Op: "fill", Handle: el.Handle, Value: value})
}

func (p *Page) Press(ctx context.Context, key browser.Key) error {
	if err := p.enter(ctx, "Press"); err != nil {
		return err
	}
	p.mu.Lock()
	p.Keys = append(p.Keys, key)
	p.mu.Unlock()
	if p.OnAction != nil {
		return p.OnAction(p, Action{Op: "press", Value: string(key)})
	}
	return nil
}

func (p *Page) ScrollToEnd(ctx context.Context) error {
	if err := p.enter(ctx, "ScrollToEnd"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Scrolls++
	return nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := p.enter(ctx, "Screenshot"); err != nil {
		return nil, err
	}
	return []byte("\x89PNG fake"), nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	if err := p.enter(ctx, "HTML"); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

// SaveState writes a minimal storage-state file so store tests see a real artifact.
func (p *Page) SaveState(ctx context.Context, path string) error {
	if err := p.enter(ctx, "SaveState"); err != nil {
		return err
	}
	p.mu.Lock()
	p.Saved = append(p.Saved, path)
	p.mu.Unlock()
	state := browser.StorageState{Cookies: []browser.Cookie{{Name: "d", Value: "fake", Domain: ".slack.com", Path: "/", Expires: -1}}}
	return browser.WriteState(path, state)
}

func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// ActionsOf returns recorded actions with the given op.
func (p *Page) ActionsOf(op string) []Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Action
	for _, a := range p.Actions {
		if a.Op == op {
			out = append(out, a)
		}
	}
	return out
}

// Launcher hands out pages in order and records every launch.
type Launcher struct {
	mu       sync.Mutex
	Pages    []*Page
	Launches []browser.LaunchOptions
	Err      error
	// Next builds a page when Pages is exhausted.
	Next func(opts browser.LaunchOptions) *Page
}

func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Launches = append(l.Launches, opts)
	if l.Err != nil {
		return nil, l.Err
	}
	if len(l.Pages) > 0 {
		p := l.Pages[0]
		l.Pages = l.Pages[1:]
		return p, nil
	}
	if l.Next != nil {
		return l.Next(opts), nil
	}
	return nil, fmt.Errorf("browsertest: no page for launch %d", len(l.Launches))
}

// WriteArtifact writes a storage-state file with one live cookie.
func WriteArtifact(path string) error {
	return browser.WriteState(path, browser.StorageState{Cookies: []browser.Cookie{{Name: "d", Value: "x", Domain: ".slack.com", Path: "/", Expires: -1}}})
}

// WriteEmpty creates a zero-byte file.
func WriteEmpty(path string) error {
	return os.WriteFile(path, nil, 0o600)
}
