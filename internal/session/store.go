// Package session owns the persisted authentication artifact: either a
// storage-state JSON file or a persistent browser profile directory.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/config"
	"go.uber.org/zap"
)

// MarkerFile is written into a profile directory once a login has been
// confirmed there. A profile without it has never held a session.
const MarkerFile = ".attendance-authenticated"

// Store reads and writes the session artifact.
type Store struct {
	file       string
	profileDir string
	maxAge     time.Duration
	domain     string
	now        func() time.Time
	logger     *zap.Logger
}

// NewStore creates a store for cfg. domain selects the cookies that count
// as a live session.
func NewStore(cfg config.SessionConfig, domain string, logger *zap.Logger) *Store {
	return &Store{
		file:       cfg.File,
		profileDir: cfg.ProfileDir,
		maxAge:     cfg.MaxAge,
		domain:     domain,
		now:        time.Now,
		logger:     logger.Named("session_store"),
	}
}

// ProfileMode reports whether the artifact is a persistent profile.
func (s *Store) ProfileMode() bool { return s.profileDir != "" }

// Path is the file or directory holding the artifact.
func (s *Store) Path() string {
	if s.ProfileMode() {
		return s.profileDir
	}
	return s.file
}

func (s *Store) markerPath() string { return filepath.Join(s.profileDir, MarkerFile) }

// Exists reports whether an artifact is present. An empty state file does
// not count.
func (s *Store) Exists() bool {
	path := s.file
	if s.ProfileMode() {
		path = s.markerPath()
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return s.ProfileMode() || info.Size() > 0
}

// Usable runs the offline checks: the artifact exists, is younger than the
// configured maximum age, and (in file mode) still carries an unexpired
// cookie for the Slack domain. An empty reason means the artifact is worth a
// live check.
func (s *Store) Usable() (ok bool, reason string) {
	if !s.Exists() {
		return false, "artifact missing"
	}
	path := s.file
	if s.ProfileMode() {
		path = s.markerPath()
	}
	info, err := os.Stat(path)
	if err != nil {
		return false, err.Error()
	}
	if s.maxAge > 0 && s.now().Sub(info.ModTime()) > s.maxAge {
		return false, "artifact older than max age"
	}
	if s.ProfileMode() {
		return true, ""
	}

	state, err := browser.ReadState(s.file)
	if err != nil {
		return false, "artifact unreadable"
	}
	if len(state.LiveCookies(s.domain, s.now())) == 0 {
		return false, "no live cookies"
	}
	return true, ""
}

// LaunchOptions loads the artifact into base.
func (s *Store) LaunchOptions(base browser.LaunchOptions) browser.LaunchOptions {
	if s.ProfileMode() {
		base.Mode = browser.ModePersistent
		base.ProfileDir = s.profileDir
		base.StatePath = ""
		return base
	}
	base.Mode = browser.ModeFresh
	base.StatePath = s.file
	return base
}

// LoginOptions is base prepared for a login: a clean context in file mode,
// the profile itself in profile mode.
func (s *Store) LoginOptions(base browser.LaunchOptions) browser.LaunchOptions {
	opts := s.LaunchOptions(base)
	opts.StatePath = ""
	return opts
}

// Save persists the page's session. In file mode the state is written to a
// sibling temp file, checked, and renamed over the artifact, so a failed
// save leaves any previous artifact untouched.
func (s *Store) Save(ctx context.Context, page browser.Page) error {
	if s.ProfileMode() {
		if err := os.MkdirAll(s.profileDir, 0o700); err != nil {
			return fmt.Errorf("creating profile dir: %w", err)
		}
		stamp := []byte(s.now().UTC().Format(time.RFC3339) + "\n")
		if err := browser.WriteFileAtomic(s.markerPath(), stamp, 0o600); err != nil {
			return fmt.Errorf("writing profile marker: %w", err)
		}
		s.logger.Info("Slack session saved", zap.String("profile", s.profileDir))
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.file), 0o700); err != nil {
		return fmt.Errorf("creating session dir: %w", err)
	}
	tmp := fmt.Sprintf("%s.%s.tmp", s.file, uuid.NewString()[:8])
	defer os.Remove(tmp)

	if err := page.SaveState(ctx, tmp); err != nil {
		return fmt.Errorf("saving session state: %w", err)
	}
	state, err := browser.ReadState(tmp)
	if err != nil {
		return fmt.Errorf("verifying session state: %w", err)
	}
	if len(state.Cookies) == 0 {
		return errors.New("verifying session state: no cookies captured")
	}
	if err := os.Rename(tmp, s.file); err != nil {
		return fmt.Errorf("replacing session file: %w", err)
	}
	s.logger.Info("Slack session saved", zap.String("file", s.file), zap.Int("cookies", len(state.Cookies)))
	return nil
}
