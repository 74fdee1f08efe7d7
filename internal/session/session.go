// Package session holds the authenticated identity of the device user.
//
// Components that need identity receive a *Session explicitly and either read
// Current or subscribe to changes; there is no package-level current user.
package session

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the signed-in user as seen by the client.
type Identity struct {
	UserID      string
	AccessToken string
	ExpiresAt   time.Time // zero means no expiry claim
}

// Valid reports whether the identity is usable at now.
func (i Identity) Valid(now time.Time) bool {
	if i.UserID == "" {
		return false
	}
	return i.ExpiresAt.IsZero() || now.Before(i.ExpiresAt)
}

// Change is delivered to subscribers whenever the identity is set or cleared.
type Change struct {
	Identity Identity
	SignedIn bool
}

// Session is a concurrency-safe holder for the current identity.
type Session struct {
	now func() time.Time

	mu      sync.RWMutex
	current *Identity
	subs    map[chan Change]struct{}
}

// New returns an empty (signed-out) session.
func New() *Session {
	return &Session{now: time.Now, subs: make(map[chan Change]struct{})}
}

// Current returns the identity if one is set and not expired.
func (s *Session) Current() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil || !s.current.Valid(s.now()) {
		return Identity{}, false
	}
	return *s.current, true
}

// Set replaces the identity and notifies subscribers.
func (s *Session) Set(id Identity) {
	s.mu.Lock()
	s.current = &id
	s.broadcastLocked(Change{Identity: id, SignedIn: true})
	s.mu.Unlock()
}

// SetToken parses an access token and sets the identity it carries.
func (s *Session) SetToken(token string) (Identity, error) {
	id, err := ParseToken(token)
	if err != nil {
		return Identity{}, err
	}
	if !id.Valid(s.now()) {
		return Identity{}, errors.New("session: token expired")
	}
	s.Set(id)
	return id, nil
}

// Clear signs the user out.
func (s *Session) Clear() {
	s.mu.Lock()
	s.current = nil
	s.broadcastLocked(Change{})
	s.mu.Unlock()
}

// Subscribe returns a channel of identity changes and a function that
// unsubscribes and closes it. Changes are dropped for a subscriber whose
// buffer is full.
func (s *Session) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, 4)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			close(ch)
			s.mu.Unlock()
		})
	}
}

func (s *Session) broadcastLocked(c Change) {
	for ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

// ParseToken reads the subject and expiry of a JWT access token.
// The signature is checked by the backend on every request; the client only
// needs to know who it is acting as.
func ParseToken(token string) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return Identity{}, errors.New("session: empty token")
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Identity{}, fmt.Errorf("session: parse token: %w", err)
	}
	if claims.Subject == "" {
		return Identity{}, errors.New("session: token has no subject")
	}
	id := Identity{UserID: claims.Subject, AccessToken: token}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// LoadTokenFile reads an access token from path and sets it on s.
func LoadTokenFile(s *Session, path string) (Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Identity{}, fmt.Errorf("session: read token file: %w", err)
	}
	return s.SetToken(string(data))
}
