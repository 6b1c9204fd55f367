// Package diagnostics writes the screenshot and markup dump left behind by
// a run that did not succeed. The files are for humans only; nothing reads
// them back.
package diagnostics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/config"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Redacted replaces secret attribute values in dumps.
const Redacted = "[REDACTED]"

// Capturer writes debug artifacts to the configured paths. Failures are
// logged and never change the run's outcome.
type Capturer struct {
	cfg    config.DebugConfig
	logger *zap.Logger
}

// New creates a Capturer. Empty paths disable the matching artifact.
func New(cfg config.DebugConfig, logger *zap.Logger) *Capturer {
	return &Capturer{cfg: cfg, logger: logger.Named("diagnostics")}
}

// Capture dumps a screenshot and the redacted page markup for a failed
// attendance run.
func (c *Capturer) Capture(ctx context.Context, page browser.Page, reason string) {
	log := c.logger.With(zap.String("reason", reason))
	var errs []error
	if err := c.screenshot(ctx, page, c.cfg.Screenshot); err != nil {
		errs = append(errs, err)
	}
	if err := c.markup(ctx, page, c.cfg.Markup); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn("Debug capture incomplete", zap.Error(err))
		return
	}
	log.Info("Saved debug artifacts", zap.String("screenshot", c.cfg.Screenshot), zap.String("markup", c.cfg.Markup))
}

// CaptureLogin saves a screenshot of a login that never stabilised.
func (c *Capturer) CaptureLogin(ctx context.Context, page browser.Page) {
	if err := c.screenshot(ctx, page, c.cfg.LoginScreenshot); err != nil {
		c.logger.Warn("Login screenshot failed", zap.Error(err))
		return
	}
	c.logger.Info("Saved login debug screenshot", zap.String("path", c.cfg.LoginScreenshot))
}

func (c *Capturer) screenshot(ctx context.Context, page browser.Page, path string) error {
	if path == "" {
		return nil
	}
	png, err := page.Screenshot(ctx)
	if err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	if err := browser.WriteFileAtomic(path, png, 0o600); err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	return nil
}

func (c *Capturer) markup(ctx context.Context, page browser.Page, path string) error {
	if path == "" {
		return nil
	}
	raw, err := page.HTML(ctx)
	if err != nil {
		return fmt.Errorf("markup: %w", err)
	}
	clean, err := Redact(raw)
	if err != nil {
		// An unparseable page is still worth keeping, minus anything secret.
		c.logger.Debug("Markup did not parse, writing placeholder", zap.Error(err))
		clean = "<!-- markup withheld: " + html.EscapeString(err.Error()) + " -->"
	}
	if err := browser.WriteFileAtomic(path, []byte(clean), 0o600); err != nil {
		return fmt.Errorf("markup: %w", err)
	}
	return nil
}

// Redact strips what should never land on disk: values of password, code
// and hidden inputs, text typed into textareas, and inline script bodies.
// The credential fields are still filled when a login fails, so the dump
// would otherwise contain the password.
func Redact(markup string) (string, error) {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("parsing markup: %w", err)
	}
	redactNode(doc)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "", fmt.Errorf("rendering markup: %w", err)
	}
	return buf.String(), nil
}

func redactNode(n *html.Node) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Input:
			if sensitiveInput(n) {
				setAttr(n, "value", Redacted)
			}
		case atom.Textarea:
			clearChildren(n, Redacted)
		case atom.Script:
			clearChildren(n, "")
		}
		for i, a := range n.Attr {
			if strings.HasPrefix(strings.ToLower(a.Key), "data-") && secretName(a.Key) {
				n.Attr[i].Val = Redacted
			}
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		redactNode(child)
	}
}

func sensitiveInput(n *html.Node) bool {
	if _, ok := attr(n, "value"); !ok {
		return false
	}
	typ, _ := attr(n, "type")
	switch strings.ToLower(typ) {
	case "password", "hidden", "email":
		return true
	}
	if ac, _ := attr(n, "autocomplete"); strings.EqualFold(ac, "one-time-code") {
		return true
	}
	name, _ := attr(n, "name")
	id, _ := attr(n, "id")
	return secretName(name) || secretName(id)
}

func secretName(s string) bool {
	s = strings.ToLower(s)
	for _, word := range []string{"password", "passwd", "code", "token", "secret", "crumb"} {
		if strings.Contains(s, word) {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			n.Attr[i].Val = val
		}
	}
}

func clearChildren(n *html.Node, replacement string) {
	for child := n.FirstChild; child != nil; {
		next := child.NextSibling
		n.RemoveChild(child)
		child = next
	}
	if replacement != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: replacement})
	}
}
