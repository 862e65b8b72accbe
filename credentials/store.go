// Package credentials holds the process-local view of the current session
// credentials: the short-lived access token, its paired CSRF token, and the
// user identity snapshot they were issued for. Nothing here touches disk or
// network; the store is created empty and wiped on logout or any hard
// failure.
package credentials

import (
	"sync"

	"github.com/rutvikpatel14/session-intelligence-go/wire"
)

// Store is the single mutable holder of auth credentials. All fields rotate
// together on a successful login or refresh and are cleared together; Clear
// is atomic relative to every reader, so no caller can observe one field
// cleared while another is stale.
type Store struct {
	mu     sync.RWMutex
	access string
	csrf   string
	user   *wire.User
}

// New returns an empty store.
func New() *Store {
	return &Store{}
}

// SetAccessToken replaces the access token. Empty string means absent.
func (s *Store) SetAccessToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = token
}

// AccessToken returns the current access token, or "" when unauthenticated.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

// SetCSRFToken replaces the anti-forgery token. Empty string means absent.
func (s *Store) SetCSRFToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.csrf = token
}

// CSRFToken returns the current anti-forgery token, or "" when absent.
func (s *Store) CSRFToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.csrf
}

// SetPair replaces both tokens in one critical section. Login and refresh
// rotate the pair together; updating them separately would let a reader see
// a fresh access token with a stale CSRF token.
func (s *Store) SetPair(access, csrf string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = access
	s.csrf = csrf
}

// Pair returns both tokens from one critical section, so callers attaching
// credentials to a request see a consistent pair even while Clear or SetPair
// runs concurrently.
func (s *Store) Pair() (access, csrf string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access, s.csrf
}

// SetUser replaces the identity snapshot wholesale. A nil user means
// unauthenticated.
func (s *Store) SetUser(u *wire.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u == nil {
		s.user = nil
		return
	}
	cp := *u
	s.user = &cp
}

// User returns a copy of the current identity snapshot, or nil.
func (s *Store) User() *wire.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	cp := *s.user
	return &cp
}

// Clear wipes tokens and identity in one critical section.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = ""
	s.csrf = ""
	s.user = nil
}
