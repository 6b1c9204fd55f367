// Package dom holds the in-page scripts shared by every driver. Queries run
// as one script evaluation that filters candidates and tags each match with
// a data attribute; the tag doubles as the element's handle.
package dom

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/locator"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

//go:embed matcher.js
var matcherScript string

// MarkAttr carries match tokens on tagged elements.
const MarkAttr = "data-attn-mark"

type textSpec struct {
	Value string `json:"value"`
	Mode  string `json:"mode"`
}

type querySpec struct {
	Token       string    `json:"token"`
	Selector    string    `json:"selector,omitempty"`
	Role        string    `json:"role,omitempty"`
	Name        *textSpec `json:"name,omitempty"`
	AriaLabel   *textSpec `json:"ariaLabel,omitempty"`
	Text        *textSpec `json:"text,omitempty"`
	Has         string    `json:"has,omitempty"`
	Leaf        bool      `json:"leaf,omitempty"`
	VisibleOnly bool      `json:"visibleOnly,omitempty"`
	Frames      bool      `json:"frames,omitempty"`
	Within      string    `json:"within,omitempty"`
}

func toTextSpec(t *locator.Text) *textSpec {
	if t == nil {
		return nil
	}
	return &textSpec{Value: t.Value, Mode: t.Mode.String()}
}

// NewToken returns a short identifier unique to one query evaluation.
func NewToken() string {
	return "m" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// QueryExpression builds a self-contained JavaScript expression that runs q.
func QueryExpression(q locator.Query, token string) (string, error) {
	if err := q.Validate(); err != nil {
		return "", err
	}
	spec := querySpec{
		Token:       token,
		Selector:    q.Selector,
		Role:        q.Role,
		Name:        toTextSpec(q.Name),
		AriaLabel:   toTextSpec(q.AriaLabel),
		Text:        toTextSpec(q.Text),
		Has:         q.Has,
		Leaf:        q.Leaf,
		VisibleOnly: q.VisibleOnly,
		Frames:      q.Frames,
		Within:      q.Within,
	}
	arg, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("encoding query: %w", err)
	}
	return "(" + strings.TrimSpace(matcherScript) + ")(" + string(arg) + ")", nil
}

// Result is the raw matcher output.
type Result struct {
	Error    string        `json:"error,omitempty"`
	Elements []MatchResult `json:"elements"`
}

// MatchResult describes one tagged element.
type MatchResult struct {
	Mark    string `json:"mark"`
	Text    string `json:"text"`
	Visible bool   `json:"visible"`
	Enabled bool   `json:"enabled"`
	Checked bool   `json:"checked"`
	InFrame bool   `json:"inFrame"`
}

// ErrBadSelector is returned when the page rejects a selector.
var ErrBadSelector = errors.New("selector rejected by page")

// MatchSet converts a matcher result into document-ordered elements.
func (r Result) MatchSet() (locator.MatchSet, error) {
	if r.Error != "" {
		return locator.MatchSet{}, fmt.Errorf("%w: %s", ErrBadSelector, r.Error)
	}
	set := locator.MatchSet{Elements: make([]locator.Element, 0, len(r.Elements))}
	for i, m := range r.Elements {
		set.Elements = append(set.Elements, locator.Element{
			Handle:  Handle(m.Mark),
			Index:   i,
			Text:    m.Text,
			Visible: m.Visible,
			Enabled: m.Enabled,
			Checked: m.Checked,
			InFrame: m.InFrame,
		})
	}
	return set, nil
}

// DecodeResult converts a driver's generic evaluation result (maps and
// slices) into a Result.
func DecodeResult(raw interface{}) (Result, error) {
	var r Result
	data, err := json.Marshal(raw)
	if err != nil {
		return r, fmt.Errorf("re-encoding matcher result: %w", err)
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decoding matcher result: %w", err)
	}
	return r, nil
}

// Handle is the CSS selector for a mark.
func Handle(mark string) string {
	return fmt.Sprintf(`[%s~="%s"]`, MarkAttr, mark)
}

// findScript resolves a handle across the document and same-origin frames.
const findScript = `(handle) => {
  const docs = [document];
  for (let i = 0; i < docs.length; i++) {
    for (const f of docs[i].querySelectorAll('iframe, frame')) {
      try { if (f.contentDocument) docs.push(f.contentDocument); } catch (e) {}
    }
  }
  for (const d of docs) {
    const el = d.querySelector(handle);
    if (el) return el;
  }
  return null;
}`

func withElement(handle, body string) string {
	arg, _ := json.Marshal(handle)
	return fmt.Sprintf(`(() => { const el = (%s)(%s); if (!el) return false; %s })()`, findScript, arg, body)
}

// ForceClickExpression clicks the element from inside the page, bypassing
// visibility and overlap checks. Evaluates to false when the handle is gone.
func ForceClickExpression(handle string) string {
	return withElement(handle, `el.scrollIntoView({block: 'center'}); el.click(); return true;`)
}

// ForceCheckExpression selects a radio or checkbox from inside the page.
func ForceCheckExpression(handle string) string {
	return withElement(handle, `
  el.scrollIntoView({block: 'center'});
  if (!el.checked) el.click();
  if ('checked' in el && !el.checked) {
    el.checked = true;
    el.dispatchEvent(new Event('input', {bubbles: true}));
    el.dispatchEvent(new Event('change', {bubbles: true}));
  }
  return true;`)
}

// ScrollIntoViewExpression brings the element to the middle of the viewport.
func ScrollIntoViewExpression(handle string) string {
	return withElement(handle, `el.scrollIntoView({block: 'center'}); return true;`)
}

// ScrollToEndExpression scrolls every scrollable container to its bottom and
// evaluates to the number of containers moved.
const ScrollToEndExpression = `(() => {
  let moved = 0;
  for (const el of document.querySelectorAll('*')) {
    if (el.scrollHeight <= el.clientHeight + 4) continue;
    const overflow = getComputedStyle(el).overflowY;
    if (overflow !== 'auto' && overflow !== 'scroll') continue;
    el.scrollTop = el.scrollHeight;
    moved++;
  }
  window.scrollTo(0, document.body ? document.body.scrollHeight : 0);
  return moved;
})()`

// BodyTextExpression evaluates to the visible text of the page.
const BodyTextExpression = `document.body ? document.body.innerText : ''`

// LocalStorageExpression captures local storage for the current origin.
const LocalStorageExpression = `(() => {
  const items = [];
  try {
    for (let i = 0; i < localStorage.length; i++) {
      const name = localStorage.key(i);
      items.push({name, value: localStorage.getItem(name)});
    }
  } catch (e) {}
  return {origin: location.origin, localStorage: items};
})()`

// RestoreLocalStorageScript returns a script for every new document that
// seeds local storage for the saved origins without overwriting live values.
func RestoreLocalStorageScript(origins []browser.OriginState) (string, error) {
	if len(origins) == 0 {
		return "", nil
	}
	data, err := json.Marshal(origins)
	if err != nil {
		return "", fmt.Errorf("encoding origins: %w", err)
	}
	return fmt.Sprintf(`(() => {
  const origins = %s;
  for (const o of origins) {
    if (o.origin !== location.origin) continue;
    try {
      for (const item of o.localStorage || []) {
        if (localStorage.getItem(item.name) === null) localStorage.setItem(item.name, item.value);
      }
    } catch (e) {}
  }
})()`, data), nil
}
