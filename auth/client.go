package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// DefaultRequestTimeout bounds every network call to the provider.
const DefaultRequestTimeout = 10 * time.Second

// Config is the static relationship with one identity provider. It is
// created once at process start and never mutated.
type Config struct {
	IssuerURL   string
	RedirectURL string

	ClientID string
	// ClientSecret is empty for public clients. It must never be logged.
	ClientSecret string

	Scopes         []string
	RequiredGroups []string

	// Groups decodes the provider-specific group claim out of the raw
	// userinfo document. Nil selects DecodeGroupsClaim.
	Groups GroupDecoder

	// RequestTimeout overrides DefaultRequestTimeout when positive.
	RequestTimeout time.Duration
}

// UserClaims carries the standard identity claims returned on a successful
// login.
type UserClaims struct {
	Subject  string `json:"sub"`
	Username string `json:"preferred_username,omitempty"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// AuthData is the outcome of a successful callback: the issued access token
// and the verified identity behind it.
type AuthData struct {
	AccessToken string
	User        UserClaims
}

// Client drives the authorization-code exchange against one provider and
// owns the process-wide trust state: the pending-session store and the
// introspection cache.
type Client struct {
	cfg      Config
	metadata *ProviderMetadata
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	oauth    *oauth2.Config
	decode   GroupDecoder

	pending *PendingStore
	cache   *trustCache

	http   *http.Client
	logger *slog.Logger
}

// NewClient resolves provider metadata and constructs the client. Discovery
// runs exactly once; an error here means the process must not serve
// traffic.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	hc := &http.Client{Timeout: timeout}

	metadata, provider, err := discoverProvider(ctx, hc, cfg.IssuerURL)
	if err != nil {
		return nil, err
	}

	endpoint := provider.Endpoint()
	if cfg.ClientSecret == "" {
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}

	decode := cfg.Groups
	if decode == nil {
		decode = DecodeGroupsClaim
	}

	return &Client{
		cfg:      cfg,
		metadata: metadata,
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       cfg.Scopes,
		},
		decode:  decode,
		pending: NewPendingStore(),
		cache:   newTrustCache(),
		http:    hc,
		logger:  logger,
	}, nil
}

// Metadata exposes the resolved endpoint set.
func (c *Client) Metadata() ProviderMetadata { return *c.metadata }

// StartSweeping launches the background sweep of abandoned login attempts.
func (c *Client) StartSweeping(stop <-chan struct{}) {
	c.pending.StartSweeping(stop)
}

// BeginLogin mints a pending session and builds the URL to send the
// user-agent to. Construction cannot fail given valid configuration.
func (c *Client) BeginLogin() (PendingSession, string) {
	sess := c.pending.Create()

	authorizeURL := c.oauth.AuthCodeURL(sess.CSRFToken,
		oauth2.S256ChallengeOption(sess.PKCEVerifier),
		oauth2.SetAuthURLParam("nonce", sess.Nonce),
	)
	return sess, authorizeURL
}

// CompleteLogin validates a provider callback. Checks run in a fixed order
// and fail closed at the first problem: the caller learns only that
// authentication failed, while the specific cause goes to the server log.
func (c *Client) CompleteLogin(ctx context.Context, sessionID, code, state string) (*AuthData, bool) {
	sess, ok := c.pending.Consume(sessionID)
	if !ok {
		c.logger.Warn("login failed", "reason", "unknown or already used session id")
		return nil, false
	}

	if subtle.ConstantTimeCompare([]byte(state), []byte(sess.CSRFToken)) != 1 {
		c.logger.Warn("login failed", "reason", "state does not match CSRF token")
		return nil, false
	}

	ctx = oidc.ClientContext(ctx, c.http)

	token, err := c.oauth.Exchange(ctx, code, oauth2.VerifierOption(sess.PKCEVerifier))
	if err != nil {
		c.logger.Warn("login failed", "reason", "code exchange", "error", err)
		return nil, false
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		c.logger.Warn("login failed", "reason", "token response carries no id_token")
		return nil, false
	}

	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		c.logger.Warn("login failed", "reason", "id token verification", "error", err)
		return nil, false
	}
	if idToken.Nonce != sess.Nonce {
		c.logger.Warn("login failed", "reason", "nonce mismatch")
		return nil, false
	}

	// A present at_hash binds the access token to this ID token. Absence is
	// accepted; a mismatch means the token was substituted.
	if idToken.AccessTokenHash != "" {
		if err := idToken.VerifyAccessToken(token.AccessToken); err != nil {
			c.logger.Warn("login failed", "reason", "access token hash", "error", err)
			return nil, false
		}
	}

	userInfo, err := c.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		c.logger.Warn("login failed", "reason", "userinfo fetch", "error", err)
		return nil, false
	}
	if userInfo.Subject != idToken.Subject {
		c.logger.Warn("login failed", "reason", "userinfo subject does not match id token subject")
		return nil, false
	}

	if missing, ok := c.checkGroups(userInfo); !ok {
		// The group name is for operator diagnostics only and never
		// reaches the end user.
		c.logger.Warn("login failed", "reason", "required group missing", "group", missing)
		return nil, false
	}

	user := UserClaims{Subject: userInfo.Subject}
	if err := userInfo.Claims(&user); err != nil {
		c.logger.Warn("login failed", "reason", "userinfo claims decode", "error", err)
		return nil, false
	}
	user.Subject = userInfo.Subject
	if user.Username == "" {
		user.Username = userInfo.Email
	}

	return &AuthData{AccessToken: token.AccessToken, User: user}, true
}

func (c *Client) checkGroups(userInfo *oidc.UserInfo) (string, bool) {
	if len(c.cfg.RequiredGroups) == 0 {
		return "", true
	}

	var raw json.RawMessage
	if err := userInfo.Claims(&raw); err != nil {
		return fmt.Sprintf("(claims decode: %v)", err), false
	}
	groups, err := c.decode(raw)
	if err != nil {
		return fmt.Sprintf("(group claim decode: %v)", err), false
	}

	present := make(map[string]bool, len(groups))
	for _, g := range groups {
		present[g] = true
	}
	for _, required := range c.cfg.RequiredGroups {
		if !present[required] {
			return required, false
		}
	}
	return "", true
}
