package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// AuthenticatedUser is a verified, currently-trusted identity produced by a
// successful introspection call. It is read-only: once now >= Expiry it is
// treated as absent, never mutated.
type AuthenticatedUser struct {
	Expiry   time.Time
	Subject  string
	Username string
}

// Valid reports whether the record is still trustworthy at now. Validity is
// strict: a record expiring exactly now is already expired.
func (u AuthenticatedUser) Valid(now time.Time) bool {
	return now.Before(u.Expiry)
}

// trustCache memoizes introspection results keyed by the raw access-token
// secret. Reads vastly outnumber writes, so lookups take the read lock.
// Entries are whole-record replacements; expired ones are only ever
// superseded or evicted, never merged.
type trustCache struct {
	mu      sync.RWMutex
	entries map[string]AuthenticatedUser
}

func newTrustCache() *trustCache {
	return &trustCache{entries: make(map[string]AuthenticatedUser)}
}

func (tc *trustCache) get(token string) (AuthenticatedUser, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	user, ok := tc.entries[token]
	return user, ok
}

func (tc *trustCache) put(token string, user AuthenticatedUser) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.entries[token] = user
}

func (tc *trustCache) evict(token string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	delete(tc.entries, token)
}

// introspectionResponse mirrors the provider's RFC 7662 reply, reduced to
// the fields the trust decision needs.
type introspectionResponse struct {
	Active   bool   `json:"active"`
	Subject  string `json:"sub"`
	Username string `json:"username"`
	Expiry   int64  `json:"exp"`
}

// Introspect resolves an access token to a trusted identity. A cached,
// still-valid record is returned without a network call; otherwise the
// provider's introspection endpoint decides. Every failure path is
// fail-closed: nil means unauthenticated, never an error.
func (c *Client) Introspect(ctx context.Context, token string) *AuthenticatedUser {
	if user, ok := c.cache.get(token); ok && user.Valid(time.Now()) {
		return &user
	}

	resp, err := c.introspectRemote(ctx, token)
	if err != nil {
		c.logger.Warn("introspection failed", "error", err)
		return nil
	}

	if !resp.Active {
		// The provider no longer vouches for this token; any cached trust
		// for it must go with it.
		c.cache.evict(token)
		return nil
	}
	if resp.Subject == "" || resp.Username == "" || resp.Expiry == 0 {
		c.logger.Warn("introspection failed", "error", fmt.Errorf("active response missing subject, username, or expiry"))
		c.cache.evict(token)
		return nil
	}

	user := AuthenticatedUser{
		Expiry:   time.Unix(resp.Expiry, 0),
		Subject:  resp.Subject,
		Username: resp.Username,
	}
	if !user.Valid(time.Now()) {
		c.cache.evict(token)
		return nil
	}

	c.cache.put(token, user)
	return &user
}

// introspectRemote performs the introspection call. The cache lock is never
// held here; concurrent resolvers may race and the last write wins.
func (c *Client) introspectRemote(ctx context.Context, token string) (*introspectionResponse, error) {
	form := url.Values{}
	form.Set("token", token)
	form.Set("token_type_hint", "access_token")
	if c.cfg.ClientSecret == "" {
		form.Set("client_id", c.cfg.ClientID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.metadata.IntrospectionEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.cfg.ClientSecret != "" {
		req.SetBasicAuth(url.QueryEscape(c.cfg.ClientID), url.QueryEscape(c.cfg.ClientSecret))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("introspection transport: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read introspection response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("introspection endpoint returned %s", resp.Status)
	}

	var parsed introspectionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode introspection response: %w", err)
	}
	return &parsed, nil
}
