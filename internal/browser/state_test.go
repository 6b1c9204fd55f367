// File: internal/browser/state_test.go
package browser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jaywee92/Slack-Attendance-Bot/internal/locator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStorageState_RoundTripFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "slack_auth.json")
	state := StorageState{
		Cookies: []Cookie{{Name: "d", Value: "xoxd-1", Domain: ".slack.com", Path: "/", Expires: 1893456000, HTTPOnly: true, Secure: true, SameSite: "Lax"}},
		Origins: []OriginState{{Origin: "https://app.slack.com", LocalStorage: []NameValue{{Name: "localConfig_v2", Value: "{}"}}}},
	}
	require.NoError(t, WriteState(path, state))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := ReadState(path)
	require.NoError(t, err)
	assert.Equal(t, state, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestReadState_PlaywrightLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	raw := `{"cookies":[{"name":"d","value":"v","domain":".slack.com","path":"/","expires":-1,"httpOnly":true,"secure":true,"sameSite":"None"}],"origins":[]}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	state, err := ReadState(path)
	require.NoError(t, err)
	require.Len(t, state.Cookies, 1)
	assert.True(t, state.Cookies[0].IsSession())
}

func TestReadState_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := ReadState(path)
	assert.Error(t, err)
}

func TestLiveCookies(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	state := StorageState{Cookies: []Cookie{
		{Name: "expired", Domain: ".slack.com", Expires: float64(now.Add(-time.Hour).Unix())},
		{Name: "live", Domain: "app.slack.com", Expires: float64(now.Add(time.Hour).Unix())},
		{Name: "session", Domain: ".slack.com", Expires: -1},
		{Name: "other", Domain: ".example.com", Expires: float64(now.Add(time.Hour).Unix())},
		{Name: "lookalike", Domain: "notslack.com", Expires: -1},
	}}
	var names []string
	for _, c := range state.LiveCookies("slack.com", now) {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"live", "session"}, names)
}

type stubSession struct {
	Page
	closed bool
}

func (s *stubSession) Close(ctx context.Context) error {
	s.closed = true
	return ctx.Err()
}

type stubLauncher struct {
	session *stubSession
	err     error
}

func (l *stubLauncher) Launch(ctx context.Context, opts LaunchOptions) (Session, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.session, nil
}

func TestUse_AlwaysCloses(t *testing.T) {
	s := &stubSession{}
	boom := errors.New("boom")
	ctx, cancel := context.WithCancel(context.Background())

	err := Use(ctx, &stubLauncher{session: s}, LaunchOptions{}, zap.NewNop(), func(ctx context.Context, page Page) error {
		cancel()
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, s.closed)
}

func TestUse_LaunchFailure(t *testing.T) {
	err := Use(context.Background(), &stubLauncher{err: errors.New("no chrome")}, LaunchOptions{}, zap.NewNop(), func(ctx context.Context, page Page) error {
		t.Fatal("fn must not run")
		return nil
	})
	assert.ErrorContains(t, err, "no chrome")
}

type recordingPage struct {
	Page
	calls []string
}

func (p *recordingPage) Click(ctx context.Context, el locator.Element, force bool) error {
	p.calls = append(p.calls, "click")
	return nil
}

func (p *recordingPage) Check(ctx context.Context, el locator.Element, force bool) error {
	p.calls = append(p.calls, "check")
	return nil
}

func TestActivate_DispatchesOnKind(t *testing.T) {
	p := &recordingPage{}
	require.NoError(t, Activate(context.Background(), p, locator.Check, locator.Element{}, false))
	require.NoError(t, Activate(context.Background(), p, locator.Activate, locator.Element{}, false))
	assert.Equal(t, []string{"check", "click"}, p.calls)
}
