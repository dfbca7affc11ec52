package auth

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// LoginWindow bounds how long a login attempt may stay in flight. It is
// both the pending cookie lifetime and the sweep horizon for abandoned
// attempts.
const LoginWindow = 5 * time.Minute

// PendingSession holds the per-attempt secrets minted at login start and
// consumed exactly once at callback time.
type PendingSession struct {
	ID           string
	CSRFToken    string
	Nonce        string
	PKCEVerifier string
	CreatedAt    time.Time
}

// PendingStore keeps in-flight login attempts keyed by session id. The
// mutex guards only map mutation; no network call happens under it.
type PendingStore struct {
	mu      sync.Mutex
	entries map[string]PendingSession
	window  time.Duration
	now     func() time.Time
}

// NewPendingStore constructs an empty store sweeping entries older than
// LoginWindow.
func NewPendingStore() *PendingStore {
	return &PendingStore{
		entries: make(map[string]PendingSession),
		window:  LoginWindow,
		now:     time.Now,
	}
}

// Create mints a fresh session id and per-attempt secrets and records them.
func (s *PendingStore) Create() PendingSession {
	sess := PendingSession{
		ID:           randomSessionID(),
		CSRFToken:    oauth2.GenerateVerifier(),
		Nonce:        oauth2.GenerateVerifier(),
		PKCEVerifier: oauth2.GenerateVerifier(),
		CreatedAt:    s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.entries[sess.ID] = sess
	return sess
}

// Consume removes and returns the entry for id. The remove-on-read under a
// single lock hold is the single-use guarantee: a second call with the same
// id always misses.
func (s *PendingStore) Consume(id string) (PendingSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	sess, ok := s.entries[id]
	if !ok {
		return PendingSession{}, false
	}
	delete(s.entries, id)
	return sess, true
}

// Len reports the number of in-flight attempts.
func (s *PendingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartSweeping launches a background ticker that clears abandoned
// attempts, so the store stays bounded even when no logins arrive.
func (s *PendingStore) StartSweeping(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(s.window)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				s.sweepLocked()
				s.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

func (s *PendingStore) sweepLocked() {
	horizon := s.now().Add(-s.window)
	for id, sess := range s.entries {
		if sess.CreatedAt.Before(horizon) {
			delete(s.entries, id)
		}
	}
}

// randomSessionID returns 128 bits of randomness, URL-safe encoded.
func randomSessionID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("auth: crypto/rand unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
