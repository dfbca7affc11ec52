package auth

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"
)

// Cookie names. The auth cookie is the trust boundary; the redirect cookie
// carries the post-login destination; the user cookie exposes display
// claims to page scripts and is never consulted for trust.
const (
	authCookieName     = "notesd_auth"
	redirectCookieName = "notesd_redirect"
	userCookieName     = "notesd_user"
)

const authenticatedTTL = 24 * time.Hour

// StateKind enumerates the closed set of session trust states. Anything a
// cookie says that is not exactly one of the first two decodes to
// Unauthenticated.
type StateKind string

const (
	StatePending         StateKind = "pending"
	StateAuthenticated   StateKind = "authenticated"
	StateUnauthenticated StateKind = "unauthenticated"
)

// AuthState is the session trust state as carried by the client. It is
// computed fresh from the incoming cookie on every request and written
// fresh on every response that changes it.
type AuthState struct {
	Kind        StateKind
	SessionID   string
	AccessToken string
}

// Pending marks a login attempt awaiting the provider callback.
func Pending(sessionID string) AuthState {
	return AuthState{Kind: StatePending, SessionID: sessionID}
}

// Authenticated marks a session holding a hash-verified access token.
func Authenticated(accessToken string) AuthState {
	return AuthState{Kind: StateAuthenticated, AccessToken: accessToken}
}

// Unauthenticated is the terminal default state.
func Unauthenticated() AuthState {
	return AuthState{Kind: StateUnauthenticated}
}

// authCookiePayload is the serialized shape. The tag plus exactly one value
// field keeps the variant closed.
type authCookiePayload struct {
	State       string `json:"state"`
	SessionID   string `json:"session_id,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
}

// StateCodec reads and writes the session state cookies. Secure is off only
// in dev mode, where the service runs on plain HTTP.
type StateCodec struct {
	Secure bool
}

// Decode computes the trust state from the request cookie. Missing,
// malformed, or unrecognized content all map to Unauthenticated; decoding
// never errors. A decoded Authenticated state is not yet trusted: callers
// must re-validate the token through the trust cache.
func (sc *StateCodec) Decode(r *http.Request) AuthState {
	cookie, err := r.Cookie(authCookieName)
	if err != nil {
		return Unauthenticated()
	}

	raw, ok := decodeCookieValue(cookie.Value)
	if !ok {
		return Unauthenticated()
	}
	var payload authCookiePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Unauthenticated()
	}

	switch StateKind(payload.State) {
	case StatePending:
		if payload.SessionID == "" {
			return Unauthenticated()
		}
		return Pending(payload.SessionID)
	case StateAuthenticated:
		if payload.AccessToken == "" {
			return Unauthenticated()
		}
		return Authenticated(payload.AccessToken)
	default:
		return Unauthenticated()
	}
}

// Write emits the state cookie with per-state attributes: pending must be
// Lax to survive the provider's cross-site redirect back to the callback,
// authenticated is Strict and long-lived, unauthenticated deletes the
// cookie.
func (sc *StateCodec) Write(w http.ResponseWriter, state AuthState) {
	payload := authCookiePayload{State: string(state.Kind)}
	cookie := &http.Cookie{
		Name:     authCookieName,
		Path:     "/",
		HttpOnly: true,
		Secure:   sc.Secure,
	}

	switch state.Kind {
	case StatePending:
		payload.SessionID = state.SessionID
		cookie.MaxAge = int(LoginWindow.Seconds())
		cookie.SameSite = http.SameSiteLaxMode
	case StateAuthenticated:
		payload.AccessToken = state.AccessToken
		cookie.MaxAge = int(authenticatedTTL.Seconds())
		cookie.SameSite = http.SameSiteStrictMode
	default:
		cookie.MaxAge = -1
		cookie.SameSite = http.SameSiteStrictMode
	}

	value, err := json.Marshal(payload)
	if err != nil {
		// Payload is a fixed struct of strings; this cannot happen.
		panic("auth: marshal state cookie: " + err.Error())
	}
	cookie.Value = encodeCookieValue(string(value))
	http.SetCookie(w, cookie)
}

// Cookie values are base64-wrapped: the JSON payload contains characters
// the cookie grammar forbids.
func encodeCookieValue(raw string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCookieValue(encoded string) (string, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// WriteRedirect stores the post-login destination captured from the Referer
// header at login time.
func (sc *StateCodec) WriteRedirect(w http.ResponseWriter, target string) {
	http.SetCookie(w, &http.Cookie{
		Name:     redirectCookieName,
		Value:    encodeCookieValue(target),
		Path:     "/",
		MaxAge:   int(LoginWindow.Seconds()),
		HttpOnly: true,
		Secure:   sc.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ConsumeRedirect returns the stored destination, if any, and clears the
// cookie so it survives exactly one successful landing.
func (sc *StateCodec) ConsumeRedirect(w http.ResponseWriter, r *http.Request) (string, bool) {
	cookie, err := r.Cookie(redirectCookieName)
	if err != nil {
		return "", false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     redirectCookieName,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   sc.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	target, ok := decodeCookieValue(cookie.Value)
	if !ok || target == "" {
		return "", false
	}
	return target, true
}

// WriteUser exposes display claims to the frontend. Deliberately not
// HttpOnly; nothing trusts this cookie.
func (sc *StateCodec) WriteUser(w http.ResponseWriter, user UserClaims) {
	value, err := json.Marshal(user)
	if err != nil {
		panic("auth: marshal user cookie: " + err.Error())
	}
	http.SetCookie(w, &http.Cookie{
		Name:     userCookieName,
		Value:    encodeCookieValue(string(value)),
		Path:     "/",
		MaxAge:   int((7 * 24 * time.Hour).Seconds()),
		Secure:   sc.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearUser removes the display-claims cookie on logout.
func (sc *StateCodec) ClearUser(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     userCookieName,
		Path:     "/",
		MaxAge:   -1,
		Secure:   sc.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}
