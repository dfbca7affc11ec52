// Package devidp is a single-user identity provider for local development.
// It speaks just enough of the provider contract the auth client consumes:
// both well-known metadata documents, a JWKS, the authorization and token
// endpoints (code flow with S256 PKCE), userinfo, introspection, and
// revocation. Every login authenticates the configured dev user without a
// credential prompt.
package devidp

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
)

const (
	codeTTL   = 5 * time.Minute
	accessTTL = time.Hour
)

// User is the identity every login resolves to.
type User struct {
	Subject  string
	Username string
	Name     string
	Email    string
	Groups   []string
}

// DefaultUser is used when the config names nobody.
func DefaultUser() User {
	return User{
		Subject:  "dev-user",
		Username: "dev",
		Name:     "Dev User",
		Email:    "dev@example.com",
		Groups:   []string{"notes-users"},
	}
}

type authCode struct {
	ClientID      string
	RedirectURI   string
	Scope         string
	Nonce         string
	CodeChallenge string
	ExpiresAt     time.Time
}

type accessToken struct {
	Subject   string
	Username  string
	ExpiresAt time.Time
	Revoked   bool
}

// Server implements the provider endpoints. All state is in memory and
// guarded by one mutex; nothing survives a restart, which is the point.
type Server struct {
	issuer string
	user   User
	logger *slog.Logger

	key *rsa.PrivateKey
	kid string

	mu     sync.Mutex
	codes  map[string]authCode
	tokens map[string]accessToken
}

// New generates a fresh signing key and constructs the provider for the
// given issuer URL.
func New(issuer string, user User, logger *slog.Logger) (*Server, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}

	if user.Subject == "" {
		user = DefaultUser()
	}

	return &Server{
		issuer: issuer,
		user:   user,
		logger: logger,
		key:    key,
		kid:    randomID(),
		codes:  make(map[string]authCode),
		tokens: make(map[string]accessToken),
	}, nil
}

// Handler returns the provider's HTTP surface, relative to the issuer.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/.well-known/openid-configuration", s.handleOIDCMetadata)
	r.Get("/.well-known/oauth-authorization-server", s.handleOAuthMetadata)
	r.Get("/jwks.json", s.handleJWKS)
	r.Get("/authorize", s.handleAuthorize)
	r.Post("/token", s.handleToken)
	r.Get("/userinfo", s.handleUserInfo)
	r.Post("/introspect", s.handleIntrospect)
	r.Post("/revoke", s.handleRevoke)
	return r
}

// Revoke marks an issued access token inactive, as the revocation endpoint
// does, for callers holding the token directly.
func (s *Server) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok, ok := s.tokens[token]; ok {
		tok.Revoked = true
		s.tokens[token] = tok
	}
}

type metadataDoc struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	UserinfoEndpoint              string   `json:"userinfo_endpoint"`
	JWKSURI                       string   `json:"jwks_uri"`
	IntrospectionEndpoint         string   `json:"introspection_endpoint"`
	RevocationEndpoint            string   `json:"revocation_endpoint"`
	ResponseTypes                 []string `json:"response_types_supported"`
	SubjectTypes                  []string `json:"subject_types_supported"`
	IDTokenSigningAlgs            []string `json:"id_token_signing_alg_values_supported"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
}

func (s *Server) metadata() metadataDoc {
	return metadataDoc{
		Issuer:                        s.issuer,
		AuthorizationEndpoint:         s.issuer + "/authorize",
		TokenEndpoint:                 s.issuer + "/token",
		UserinfoEndpoint:              s.issuer + "/userinfo",
		JWKSURI:                       s.issuer + "/jwks.json",
		IntrospectionEndpoint:         s.issuer + "/introspect",
		RevocationEndpoint:            s.issuer + "/revoke",
		ResponseTypes:                 []string{"code"},
		SubjectTypes:                  []string{"public"},
		IDTokenSigningAlgs:            []string{"RS256"},
		CodeChallengeMethodsSupported: []string{"S256"},
	}
}

func (s *Server) handleOIDCMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metadata())
}

func (s *Server) handleOAuthMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metadata())
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       &s.key.PublicKey,
			KeyID:     s.kid,
			Use:       "sig",
			Algorithm: "RS256",
		}},
	})
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirectURI := q.Get("redirect_uri")
	if redirectURI == "" {
		http.Error(w, "redirect_uri required", http.StatusBadRequest)
		return
	}
	if q.Get("response_type") != "code" {
		redirectError(w, r, redirectURI, q.Get("state"), "unsupported_response_type")
		return
	}

	code := randomID()
	s.mu.Lock()
	s.codes[code] = authCode{
		ClientID:      q.Get("client_id"),
		RedirectURI:   redirectURI,
		Scope:         q.Get("scope"),
		Nonce:         q.Get("nonce"),
		CodeChallenge: q.Get("code_challenge"),
		ExpiresAt:     time.Now().Add(codeTTL),
	}
	s.mu.Unlock()

	target, err := url.Parse(redirectURI)
	if err != nil {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}
	params := target.Query()
	params.Set("code", code)
	if state := q.Get("state"); state != "" {
		params.Set("state", state)
	}
	target.RawQuery = params.Encode()

	s.logger.Debug("devidp authorize", "client_id", q.Get("client_id"), "redirect", target.String())
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		tokenError(w, "invalid_request", "invalid form")
		return
	}
	if r.PostFormValue("grant_type") != "authorization_code" {
		tokenError(w, "unsupported_grant_type", "only authorization_code is supported")
		return
	}

	s.mu.Lock()
	code, ok := s.codes[r.PostFormValue("code")]
	delete(s.codes, r.PostFormValue("code"))
	s.mu.Unlock()

	if !ok || time.Now().After(code.ExpiresAt) {
		tokenError(w, "invalid_grant", "unknown or expired code")
		return
	}
	if uri := r.PostFormValue("redirect_uri"); uri != "" && uri != code.RedirectURI {
		tokenError(w, "invalid_grant", "redirect_uri mismatch")
		return
	}
	if code.CodeChallenge != "" {
		verifier := r.PostFormValue("code_verifier")
		if verifier == "" || s256Challenge(verifier) != code.CodeChallenge {
			tokenError(w, "invalid_grant", "PKCE verification failed")
			return
		}
	}

	access := randomID() + randomID()
	expiresAt := time.Now().Add(accessTTL)
	s.mu.Lock()
	s.tokens[access] = accessToken{
		Subject:   s.user.Subject,
		Username:  s.user.Username,
		ExpiresAt: expiresAt,
	}
	s.mu.Unlock()

	idToken, err := s.signIDToken(code, access, expiresAt)
	if err != nil {
		s.logger.Error("devidp sign id token", "error", err)
		tokenError(w, "server_error", "could not sign id token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   int64(accessTTL.Seconds()),
		"scope":        code.Scope,
		"id_token":     idToken,
	})
}

// signIDToken mints the RS256 ID token, including the at_hash binding the
// issued access token so relying parties can verify substitution did not
// happen.
func (s *Server) signIDToken(code authCode, access string, expiresAt time.Time) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":     s.issuer,
		"sub":     s.user.Subject,
		"aud":     code.ClientID,
		"iat":     now.Unix(),
		"exp":     expiresAt.Unix(),
		"at_hash": accessTokenHash(access),
	}
	if code.Nonce != "" {
		claims["nonce"] = code.Nonce
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.kid
	return token.SignedString(s.key)
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	s.mu.Lock()
	tok, ok := s.tokens[token]
	s.mu.Unlock()

	if token == "" || !ok || tok.Revoked || time.Now().After(tok.ExpiresAt) {
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sub":                s.user.Subject,
		"preferred_username": s.user.Username,
		"name":               s.user.Name,
		"email":              s.user.Email,
		"groups":             s.user.Groups,
	})
}

func (s *Server) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		tokenError(w, "invalid_request", "invalid form")
		return
	}

	s.mu.Lock()
	tok, ok := s.tokens[r.PostFormValue("token")]
	s.mu.Unlock()

	if !ok || tok.Revoked || time.Now().After(tok.ExpiresAt) {
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"active":   true,
		"sub":      tok.Subject,
		"username": tok.Username,
		"exp":      tok.ExpiresAt.Unix(),
	})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		tokenError(w, "invalid_request", "invalid form")
		return
	}
	s.Revoke(r.PostFormValue("token"))
	w.WriteHeader(http.StatusOK)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return header[len(prefix):]
}

func s256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// accessTokenHash is the OIDC at_hash: the left half of the SHA-256 digest,
// base64url encoded without padding.
func accessTokenHash(access string) string {
	sum := sha256.Sum256([]byte(access))
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}

func randomID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("devidp: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

func redirectError(w http.ResponseWriter, r *http.Request, redirectURI, state, code string) {
	target, err := url.Parse(redirectURI)
	if err != nil {
		http.Error(w, code, http.StatusBadRequest)
		return
	}
	params := target.Query()
	params.Set("error", code)
	if state != "" {
		params.Set("state", state)
	}
	target.RawQuery = params.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func tokenError(w http.ResponseWriter, code, desc string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error":             code,
		"error_description": desc,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
