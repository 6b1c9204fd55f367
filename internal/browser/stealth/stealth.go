// Package stealth makes an automated Chrome tab look like the desktop browser
// Slack supports. Slack serves an "unsupported browser" page to user agents
// that advertise HeadlessChrome, so headless runs need the override.
package stealth

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

//go:embed evasions.js
var evasionsScript string

// Persona defines the browser characteristics to present.
type Persona struct {
	UserAgent string
	Platform  string
	Languages []string
	Locale    string
	Timezone  string
}

// DefaultPersona is a current desktop Chrome on Linux.
var DefaultPersona = Persona{
	UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	Platform:  "Linux x86_64",
	Languages: []string{"en-US", "en"},
	Locale:    "en-US",
}

// WithOverrides returns a copy of p with non-empty values replaced.
func (p Persona) WithOverrides(userAgent, locale string) Persona {
	if userAgent != "" {
		p.UserAgent = userAgent
	}
	if locale != "" {
		p.Locale = locale
		lang := strings.SplitN(locale, "-", 2)[0]
		p.Languages = []string{locale}
		if lang != locale {
			p.Languages = append(p.Languages, lang)
		}
	}
	return p
}

// AcceptLanguage renders the Accept-Language header for the persona.
func (p Persona) AcceptLanguage() string {
	if len(p.Languages) == 0 {
		return ""
	}
	parts := []string{p.Languages[0]}
	for i, lang := range p.Languages[1:] {
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", lang, 0.9-float64(i)*0.1))
	}
	return strings.Join(parts, ",")
}

// personaScript seeds the values evasions.js reads.
func (p Persona) personaScript() string {
	langs := make([]string, len(p.Languages))
	for i, l := range p.Languages {
		langs[i] = fmt.Sprintf("%q", l)
	}
	return fmt.Sprintf(`window.__attendancePersona = {platform: %q, languages: [%s]};`, p.Platform, strings.Join(langs, ","))
}

// Apply returns the CDP actions that install the persona on the current tab.
// It must run before the first navigation.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Applying browser persona",
		zap.String("userAgent", p.UserAgent),
		zap.String("locale", p.Locale),
	)

	tasks := chromedp.Tasks{
		emulation.SetUserAgentOverride(p.UserAgent).
			WithAcceptLanguage(p.AcceptLanguage()).
			WithPlatform(p.Platform),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(p.personaScript() + "\n" + evasionsScript).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),
	}
	if p.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(p.Locale))
	}
	if p.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(p.Timezone))
	}
	if lang := p.AcceptLanguage(); lang != "" {
		tasks = append(tasks, network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": lang}))
	}
	return tasks
}
