package slack

import (
	"testing"

	"github.com/jaywee92/Slack-Attendance-Bot/internal/config"
	"github.com/stretchr/testify/assert"
)

func testTarget() Target {
	return NewTarget(config.SlackConfig{
		TeamID:    "T1",
		ChannelID: "C1",
		Workspace: "Acme",
		Domain:    "slack.com",
		AppHost:   "app.slack.com",
	})
}

func TestTarget_URLs(t *testing.T) {
	tg := testTarget()
	assert.Equal(t, "https://app.slack.com/client/T1/C1", tg.ClientURL())
	assert.Equal(t, "https://acme.slack.com/archives/C1", tg.ArchiveURL())
	assert.Equal(t, "https://acme.slack.com/sign_in_with_password", tg.SignInURL())
	assert.Equal(t, []string{tg.ClientURL(), tg.ArchiveURL()}, tg.ChannelURLs())
}

func TestTarget_IsAuthenticatedURL(t *testing.T) {
	tg := testTarget()
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{"client channel", "https://app.slack.com/client/T1/C1", true},
		{"client root", "https://app.slack.com/client", true},
		{"uppercase host", "https://APP.slack.com/client/T1", true},
		{"lookalike suffix host", "https://app.slack.com.evil.test/client/T1", false},
		{"lookalike prefix host", "https://evilapp.slack.com/client/T1", false},
		{"plain http", "http://app.slack.com/client/T1", false},
		{"sign-in redirect", "https://app.slack.com/client/signin?redir=/client/T1", false},
		{"workspace sign-in", "https://acme.slack.com/sign_in_with_password", false},
		{"other path", "https://app.slack.com/ssb/redirect", false},
		{"client prefix of longer segment", "https://app.slack.com/clientele", false},
		{"client with trailing slash", "https://app.slack.com/client/", true},
		{"garbage", "::not a url", false},
		{"blank", "about:blank", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tg.IsAuthenticatedURL(tt.url))
		})
	}
}

func TestIsSignInURL(t *testing.T) {
	assert.True(t, IsSignInURL("https://acme.slack.com/sign_in_with_password"))
	assert.True(t, IsSignInURL("https://slack.com/signin/find"))
	assert.False(t, IsSignInURL("https://app.slack.com/client/T1/C1"))
}

func TestIsWorkspaceResolutionURL(t *testing.T) {
	assert.True(t, IsWorkspaceResolutionURL("https://slack.com/workspace-signin"))
	assert.True(t, IsWorkspaceResolutionURL("https://slack.com/signin/find"))
	assert.False(t, IsWorkspaceResolutionURL("https://acme.slack.com/sign_in_with_password"))
}

func TestWorkspaceCandidates(t *testing.T) {
	tg := testTarget()
	assert.Equal(t, []string{
		"acme",
		"acme.slack.com",
		"https://acme.slack.com",
		"me@example.com",
	}, tg.WorkspaceCandidates(" me@example.com "))

	assert.Equal(t, []string{"acme", "acme.slack.com", "https://acme.slack.com"}, tg.WorkspaceCandidates(""))

	tg.Workspace = ""
	assert.Equal(t, []string{"me@example.com"}, tg.WorkspaceCandidates("me@example.com"))
}

func TestIsGlitch(t *testing.T) {
	assert.True(t, IsGlitch("There's been a glitch…", ""))
	assert.True(t, IsGlitch("Slack", "Oops, something went wrong. Try again."))
	assert.True(t, IsGlitch("", "We're having trouble loading Slack"))
	assert.False(t, IsGlitch("general (Channel) - Acme - Slack", "Daily attendance"))
}
