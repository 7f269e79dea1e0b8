package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ============================================================================
// Persistent cookie jar
// ============================================================================

// The session credential lives in an HTTP-only cookie set by the server, so
// the CLI keeps it across invocations by persisting the jar to
// ~/.carexpert/cookies.json. Only the jar file carries the credential; it is
// never written into the config or the session record.

// storedCookie is the on-disk shape of one cookie.
type storedCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Path    string    `json:"path,omitempty"`
	Expires time.Time `json:"expires,omitempty"`
}

// persistentJar wraps the standard jar and mirrors every SetCookies call to
// disk, keyed by origin.
type persistentJar struct {
	mu      sync.Mutex
	inner   *cookiejar.Jar
	path    string
	origins map[string][]storedCookie
}

func newPersistentJar() (*persistentJar, error) {
	dir, err := configDir()
	if err != nil {
		return nil, err
	}
	inner, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	j := &persistentJar{
		inner:   inner,
		path:    filepath.Join(dir, "cookies.json"),
		origins: make(map[string][]storedCookie),
	}
	if err := j.load(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *persistentJar) load() error {
	data, err := os.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cannot read cookie jar: %w", err)
	}
	if err := json.Unmarshal(data, &j.origins); err != nil {
		// A corrupt jar means logging in again, not a hard failure.
		j.origins = make(map[string][]storedCookie)
		return nil
	}

	now := time.Now()
	for origin, cookies := range j.origins {
		u, err := url.Parse(origin)
		if err != nil {
			continue
		}
		live := make([]*http.Cookie, 0, len(cookies))
		for _, c := range cookies {
			if !c.Expires.IsZero() && c.Expires.Before(now) {
				continue
			}
			live = append(live, &http.Cookie{Name: c.Name, Value: c.Value, Path: c.Path, Expires: c.Expires})
		}
		j.inner.SetCookies(u, live)
	}
	return nil
}

func (j *persistentJar) save() {
	data, err := json.Marshal(j.origins)
	if err != nil {
		return
	}
	_ = os.WriteFile(j.path, data, 0o600)
}

func (j *persistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.inner.SetCookies(u, cookies)

	origin := u.Scheme + "://" + u.Host
	stored := j.origins[origin]
	for _, c := range cookies {
		// Replace by name so a refreshed session cookie does not accumulate.
		kept := stored[:0]
		for _, s := range stored {
			if s.Name != c.Name {
				kept = append(kept, s)
			}
		}
		stored = kept
		if c.MaxAge < 0 || (c.Value == "" && !c.Expires.IsZero() && c.Expires.Before(time.Now())) {
			continue
		}
		stored = append(stored, storedCookie{Name: c.Name, Value: c.Value, Path: c.Path, Expires: c.Expires})
	}
	j.origins[origin] = stored
	j.save()
}

func (j *persistentJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.inner.Cookies(u)
}

// clear drops every stored cookie, in memory and on disk.
func (j *persistentJar) clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	inner, err := cookiejar.New(nil)
	if err == nil {
		j.inner = inner
	}
	j.origins = make(map[string][]storedCookie)
	_ = os.Remove(j.path)
}
