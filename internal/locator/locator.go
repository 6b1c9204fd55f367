// Package locator describes page elements declaratively. A Query is handed to
// a driver, which returns an ordered MatchSet; a List of Strategies is tried in
// fixed order until one of them produces a match.
package locator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Kind is the interaction a matched element needs.
type Kind int

const (
	KindNone Kind = iota
	// Activate clicks the element.
	Activate
	// Check selects a radio or checkbox input.
	Check
)

func (k Kind) String() string {
	switch k {
	case Activate:
		return "activate"
	case Check:
		return "check"
	default:
		return "none"
	}
}

// MatchMode selects how Text compares against element text.
type MatchMode int

const (
	Contains MatchMode = iota
	Exact
	Pattern
)

func (m MatchMode) String() string {
	switch m {
	case Exact:
		return "exact"
	case Pattern:
		return "pattern"
	default:
		return "contains"
	}
}

// Text is a text predicate. Contains and Exact compare case-insensitively
// after collapsing whitespace. Pattern is a regular expression written in the
// subset shared by Go and JavaScript; an (?i) prefix makes it
// case-insensitive in both.
type Text struct {
	Value string    `json:"value"`
	Mode  MatchMode `json:"mode"`
}

func ContainsText(s string) *Text { return &Text{Value: s, Mode: Contains} }
func ExactText(s string) *Text    { return &Text{Value: s, Mode: Exact} }
func PatternText(s string) *Text  { return &Text{Value: s, Mode: Pattern} }

// Matches applies the predicate in Go. Drivers evaluate the same predicate in
// the page; this twin is used by tests and by fakes.
func (t *Text) Matches(s string) bool {
	if t == nil {
		return true
	}
	normalized := NormalizeSpace(s)
	switch t.Mode {
	case Exact:
		return strings.EqualFold(normalized, NormalizeSpace(t.Value))
	case Pattern:
		re, err := regexp.Compile(t.Value)
		if err != nil {
			return false
		}
		return re.MatchString(normalized)
	default:
		return strings.Contains(strings.ToLower(normalized), strings.ToLower(NormalizeSpace(t.Value)))
	}
}

// Validate reports an unusable pattern.
func (t *Text) Validate() error {
	if t == nil || t.Mode != Pattern {
		return nil
	}
	if _, err := regexp.Compile(t.Value); err != nil {
		return fmt.Errorf("invalid text pattern %q: %w", t.Value, err)
	}
	return nil
}

// NormalizeSpace trims and collapses runs of whitespace.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Query selects elements. Every non-empty field must hold for an element to match.
type Query struct {
	// Selector is a CSS selector; empty means every element.
	Selector string `json:"selector,omitempty"`
	// Role matches the explicit role attribute or the implicit role of
	// buttons, links, radios and checkboxes.
	Role string `json:"role,omitempty"`
	// Name matches the accessible name: aria-label, labelling elements, then text.
	Name      *Text `json:"name,omitempty"`
	AriaLabel *Text `json:"ariaLabel,omitempty"`
	Text      *Text `json:"text,omitempty"`
	// Has requires a descendant matching this CSS selector.
	Has string `json:"has,omitempty"`
	// Leaf keeps only the innermost matches, so a text predicate hits the
	// element owning the text rather than all of its ancestors.
	Leaf bool `json:"leaf,omitempty"`
	// VisibleOnly drops elements without a rendered box.
	VisibleOnly bool `json:"visibleOnly,omitempty"`
	// Frames extends the search into same-origin iframes.
	Frames bool `json:"frames,omitempty"`
	// Within restricts the search to descendants of an element handle.
	Within string `json:"within,omitempty"`
}

// Scoped returns a copy of q restricted to the element behind handle.
func (q Query) Scoped(handle string) Query {
	q.Within = handle
	return q
}

// Validate checks the text predicates.
func (q Query) Validate() error {
	for _, t := range []*Text{q.Name, q.AriaLabel, q.Text} {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Element is one match. Handle is a CSS selector that addresses the element
// for as long as the current render survives.
type Element struct {
	Handle  string `json:"handle"`
	Index   int    `json:"index"`
	Text    string `json:"text"`
	Visible bool   `json:"visible"`
	Enabled bool   `json:"enabled"`
	Checked bool   `json:"checked"`
	InFrame bool   `json:"inFrame"`
}

// MatchSet is ordered oldest to newest, following document order.
type MatchSet struct {
	Strategy string
	Elements []Element
}

func (m MatchSet) Count() int  { return len(m.Elements) }
func (m MatchSet) Empty() bool { return len(m.Elements) == 0 }

// MostRecent returns the element with the highest index.
func (m MatchSet) MostRecent() (Element, bool) {
	if len(m.Elements) == 0 {
		return Element{}, false
	}
	return m.Elements[len(m.Elements)-1], true
}

// Visible returns the subset with a rendered box, order preserved.
func (m MatchSet) Visible() MatchSet {
	out := MatchSet{Strategy: m.Strategy}
	for _, el := range m.Elements {
		if el.Visible {
			out.Elements = append(out.Elements, el)
		}
	}
	return out
}

// Actionable returns visible, enabled elements, order preserved.
func (m MatchSet) Actionable() MatchSet {
	out := MatchSet{Strategy: m.Strategy}
	for _, el := range m.Elements {
		if el.Visible && el.Enabled {
			out.Elements = append(out.Elements, el)
		}
	}
	return out
}

// Searcher runs queries against a page.
type Searcher interface {
	Query(ctx context.Context, q Query) (MatchSet, error)
}

// Strategy is one named way of finding something.
type Strategy struct {
	Name  string
	Kind  Kind
	Query Query
}

// List is an ordered set of strategies.
type List []Strategy

// First tries each strategy in order and returns the first with at least one
// match. Query errors count as "no match" for that strategy; the last error
// is returned only when nothing matched.
func (l List) First(ctx context.Context, s Searcher, within string) (Strategy, MatchSet, error) {
	var lastErr error
	for _, st := range l {
		if err := ctx.Err(); err != nil {
			return Strategy{}, MatchSet{}, err
		}
		q := st.Query
		if within != "" {
			q = q.Scoped(within)
		}
		set, err := s.Query(ctx, q)
		if err != nil {
			lastErr = fmt.Errorf("strategy %s: %w", st.Name, err)
			continue
		}
		if !set.Empty() {
			set.Strategy = st.Name
			return st, set, nil
		}
	}
	return Strategy{}, MatchSet{}, lastErr
}

// Counts returns the match count of every strategy, in list order. A failed
// query counts as -1 so it never reads as an increase.
func (l List) Counts(ctx context.Context, s Searcher, within string) []int {
	counts := make([]int, len(l))
	for i, st := range l {
		q := st.Query
		if within != "" {
			q = q.Scoped(within)
		}
		set, err := s.Query(ctx, q)
		if err != nil {
			counts[i] = -1
			continue
		}
		counts[i] = set.Count()
	}
	return counts
}

// Increased reports whether any strategy's count strictly exceeds its
// baseline. Failed queries on either side never count.
func Increased(baseline, current []int) bool {
	for i := range current {
		if i >= len(baseline) || baseline[i] < 0 || current[i] < 0 {
			continue
		}
		if current[i] > baseline[i] {
			return true
		}
	}
	return false
}

// Names lists the strategy names, in order.
func (l List) Names() []string {
	names := make([]string, len(l))
	for i, st := range l {
		names[i] = st.Name
	}
	return names
}
