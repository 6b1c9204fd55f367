// Package slack knows the handful of Slack URLs a run touches and how to
// classify where the browser has ended up.
package slack

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/jaywee92/Slack-Attendance-Bot/internal/config"
	"golang.org/x/net/publicsuffix"
)

// Target is the single workspace and channel a run works against.
type Target struct {
	TeamID    string
	ChannelID string
	Workspace string
	Domain    string
	AppHost   string
}

// NewTarget builds a Target from configuration.
func NewTarget(cfg config.SlackConfig) Target {
	return Target{
		TeamID:    cfg.TeamID,
		ChannelID: cfg.ChannelID,
		Workspace: strings.ToLower(cfg.Workspace),
		Domain:    strings.ToLower(cfg.Domain),
		AppHost:   strings.ToLower(cfg.AppHost),
	}
}

// WorkspaceHost is the workspace's own subdomain, e.g. acme.slack.com.
func (t Target) WorkspaceHost() string {
	return t.Workspace + "." + t.Domain
}

// ClientURL is the primary channel URL in the web client.
func (t Target) ClientURL() string {
	return fmt.Sprintf("https://%s/client/%s/%s", t.AppHost, t.TeamID, t.ChannelID)
}

// ArchiveURL is the workspace-scoped channel URL. Slack redirects it into
// the client, which sometimes succeeds where the direct client URL stalls.
func (t Target) ArchiveURL() string {
	return fmt.Sprintf("https://%s/archives/%s", t.WorkspaceHost(), t.ChannelID)
}

// SignInURL is the password sign-in form of the workspace.
func (t Target) SignInURL() string {
	return fmt.Sprintf("https://%s/sign_in_with_password", t.WorkspaceHost())
}

// ChannelURLs lists equivalent channel URLs, primary first.
func (t Target) ChannelURLs() []string {
	return []string{t.ClientURL(), t.ArchiveURL()}
}

// IsSignInURL reports whether raw points at any sign-in surface.
func IsSignInURL(raw string) bool {
	v := strings.ToLower(raw)
	return strings.Contains(v, "signin") || strings.Contains(v, "sign_in")
}

// IsAuthenticatedURL reports whether raw is the web client on the expected
// host. Lookalike hosts ("app.slack.com.evil.test") and sign-in redirects
// that merely embed the client path never count.
func (t Target) IsAuthenticatedURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" {
		return false
	}
	if !strings.EqualFold(u.Hostname(), t.AppHost) {
		return false
	}
	if !t.inDomain(u.Hostname()) {
		return false
	}
	onClient := u.Path == "/client" || strings.HasPrefix(u.Path, "/client/")
	return onClient && !IsSignInURL(raw)
}

// inDomain checks the organisational domain of host with the public suffix
// list instead of a suffix match.
func (t Target) inDomain(host string) bool {
	etld1, err := publicsuffix.EffectiveTLDPlusOne(strings.ToLower(host))
	if err != nil {
		return false
	}
	return etld1 == t.Domain
}

// IsWorkspaceResolutionURL reports whether raw is one of the "find your
// workspace" steps.
func IsWorkspaceResolutionURL(raw string) bool {
	v := strings.ToLower(raw)
	return strings.Contains(v, "workspace-signin") ||
		strings.Contains(v, "signin/find") ||
		strings.Contains(v, "get-started")
}

// WorkspaceCandidates lists what to type into the workspace field, in the
// order the screen variants expect: slug, slug with domain, full URL, then
// the account email. Blank and duplicate entries are dropped.
func (t Target) WorkspaceCandidates(email string) []string {
	var raw []string
	if t.Workspace != "" {
		raw = append(raw, t.Workspace, t.WorkspaceHost(), "https://"+t.WorkspaceHost())
	}
	raw = append(raw, strings.TrimSpace(email))

	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, c := range raw {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

var glitchPattern = regexp.MustCompile(`(?i)there.?s been a glitch|something went wrong|trouble loading`)

// IsGlitch reports whether a page title or body is Slack's transient error page.
func IsGlitch(title, body string) bool {
	return glitchPattern.MatchString(title) || glitchPattern.MatchString(body)
}
