// Package session owns the authenticated context (cookies/tokens) shared
// by download workers. Workers only ever see read-only snapshots; all
// mutation happens inside the Manager.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Session is an opaque credential bundle for one upstream source.
type Session struct {
	// Cookies holds the authentication cookies by name.
	Cookies map[string]string `json:"cookies,omitempty"`
	// Token holds a bearer/API token for token-authenticated sources.
	Token string `json:"token,omitempty"`
	// CreatedAt records when the session was established.
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns an independent copy safe to hand to a worker.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := &Session{
		Token:     s.Token,
		CreatedAt: s.CreatedAt,
	}
	if s.Cookies != nil {
		cp.Cookies = make(map[string]string, len(s.Cookies))
		for k, v := range s.Cookies {
			cp.Cookies[k] = v
		}
	}
	return cp
}

// Save writes the session to a JSON file so a later run can skip
// re-authentication. Credentials never go into the file, only the
// resulting cookies/token.
func Save(s *Session, path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create session cache directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write session cache: %w", err)
	}
	return nil
}

// Load reads a previously saved session. A missing or corrupt cache file
// is an error; callers treat any load failure as "refresh instead".
func Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session cache: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse session cache: %w", err)
	}
	if len(s.Cookies) == 0 && s.Token == "" {
		return nil, fmt.Errorf("session cache %s holds no credentials", path)
	}
	return &s, nil
}
