// File: internal/browser/state.go
package browser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StorageState is the storage-state JSON layout. Both drivers read and write
// the same file, so an artifact saved by one engine restores in the other.
type StorageState struct {
	Cookies []Cookie      `json:"cookies"`
	Origins []OriginState `json:"origins"`
}

// Cookie is one browser cookie. Expires is seconds since the epoch; -1 marks
// a session cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// OriginState holds local storage for one origin.
type OriginState struct {
	Origin       string      `json:"origin"`
	LocalStorage []NameValue `json:"localStorage"`
}

// NameValue is a local storage entry.
type NameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// IsSession reports whether the cookie dies with the browser.
func (c Cookie) IsSession() bool { return c.Expires <= 0 }

// ExpiresAt converts Expires to a time. Session cookies return the zero time.
func (c Cookie) ExpiresAt() time.Time {
	if c.IsSession() {
		return time.Time{}
	}
	sec := int64(c.Expires)
	nsec := int64((c.Expires - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// MatchesDomain reports whether the cookie is sent to hosts under domain.
func (c Cookie) MatchesDomain(domain string) bool {
	d := strings.TrimPrefix(strings.ToLower(c.Domain), ".")
	domain = strings.ToLower(domain)
	return d == domain || strings.HasSuffix(d, "."+domain)
}

// LiveCookies returns the cookies for domain that are unexpired at now.
// Session cookies count as live.
func (s StorageState) LiveCookies(domain string, now time.Time) []Cookie {
	var out []Cookie
	for _, c := range s.Cookies {
		if !c.MatchesDomain(domain) {
			continue
		}
		if c.IsSession() || c.ExpiresAt().After(now) {
			out = append(out, c)
		}
	}
	return out
}

// ReadState decodes a storage-state file.
func ReadState(path string) (StorageState, error) {
	var state StorageState
	data, err := os.ReadFile(path)
	if err != nil {
		return state, err
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("decoding storage state %s: %w", path, err)
	}
	return state, nil
}

// WriteState encodes state to path through a temporary file in the same
// directory, so a failed write never replaces an existing artifact.
func WriteState(path string, state StorageState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding storage state: %w", err)
	}
	return WriteFileAtomic(path, data, 0o600)
}

// WriteFileAtomic writes data to a sibling temp file and renames it over path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
