package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/justsurfingit/applicant-timeline/internal/portal"
)

// ErrNoSession is returned when an operation needs a logged-in user.
var ErrNoSession = errors.New("no active session")

// User is the logged-in portal user.
type User struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Email string      `json:"email"`
	Role  portal.Role `json:"role"`
	Token string      `json:"token"`
}

// Store holds the current user and persists it across restarts.
// An empty path keeps the session in memory only.
type Store struct {
	mu      sync.RWMutex
	path    string
	current *User
}

// Open loads a previously saved session from path, if any.
func Open(path string) (*Store, error) {
	s := &Store{path: strings.TrimSpace(path)}
	if s.path == "" {
		return s, nil
	}
	u, err := userFromFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	s.current = u
	return s, nil
}

// Login replaces the current user.
func (s *Store) Login(u User) error {
	if strings.TrimSpace(u.Token) == "" {
		return errors.New("token is required")
	}
	role, err := portal.ParseRole(string(u.Role))
	if err != nil {
		return err
	}
	u.Role = role
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path != "" {
		if err := saveUser(s.path, u); err != nil {
			return err
		}
	}
	s.current = &u
	return nil
}

// Logout forgets the current user and removes the saved session.
func (s *Store) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

func (s *Store) Current() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return User{}, false
	}
	return *s.current, true
}

// Token implements portal.TokenSource.
func (s *Store) Token() string {
	u, ok := s.Current()
	if !ok {
		return ""
	}
	return u.Token
}

func userFromFile(path string) (*User, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	u := &User{}
	if err := json.NewDecoder(f).Decode(u); err != nil {
		return nil, err
	}
	return u, nil
}

func saveUser(path string, u User) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create session dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(u)
}
