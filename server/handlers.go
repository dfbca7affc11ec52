package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"

	"notesd/auth"
	"notesd/storage"
)

const maxDocumentSize = 1 << 20

// handleLogin starts a login attempt: mint a pending session, remember
// where the user came from, and send the user-agent to the provider.
func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess, authorizeURL := a.Auth.BeginLogin()

	if referer := r.Header.Get("Referer"); referer != "" {
		a.Codec.WriteRedirect(w, referer)
	}

	a.Codec.Write(w, auth.Pending(sess.ID))
	http.Redirect(w, r, authorizeURL, http.StatusFound)
}

// handleCallback completes the exchange. Any failure collapses into the
// same generic outcome; details stay in the server log.
func (a *App) handleCallback(w http.ResponseWriter, r *http.Request) {
	state := a.Codec.Decode(r)
	if state.Kind != auth.StatePending {
		a.Logger.Warn("callback without pending session cookie")
		http.Redirect(w, r, "/auth/failed", http.StatusFound)
		return
	}

	query := r.URL.Query()
	data, ok := a.Auth.CompleteLogin(r.Context(), state.SessionID, query.Get("code"), query.Get("state"))
	if !ok {
		a.Codec.Write(w, auth.Unauthenticated())
		http.Redirect(w, r, "/auth/failed", http.StatusFound)
		return
	}

	a.Codec.Write(w, auth.Authenticated(data.AccessToken))
	a.Codec.WriteUser(w, data.User)
	http.Redirect(w, r, "/auth/success", http.StatusFound)
}

var successPage = template.Must(template.New("success").Parse(
	`Login successful.<script>window.location = {{.Target}};</script>`))

// handleSuccess lands the user after a completed login, forwarding to the
// destination saved at login start if one exists.
func (a *App) handleSuccess(w http.ResponseWriter, r *http.Request) {
	target, ok := a.Codec.ConsumeRedirect(w, r)
	if !ok {
		fmt.Fprint(w, "Login successful.")
		return
	}

	encoded, err := json.Marshal(target)
	if err != nil {
		fmt.Fprint(w, "Login successful.")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = successPage.Execute(w, map[string]any{"Target": template.JS(encoded)})
}

func (a *App) handleFailed(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "Login failed. See server logs for more details.", http.StatusUnauthorized)
}

// handleLogout drops the client-held trust state. The provider keeps its
// own session; revocation is not attempted.
func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.Codec.Write(w, auth.Unauthenticated())
	a.Codec.ClearUser(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

type userContextKey struct{}

// RequireUser admits only requests carrying an authenticated cookie whose
// token still passes introspection, and rejects everything else with a
// login hint. The verified identity lands in the request context.
func (a *App) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := a.Codec.Decode(r)
		if state.Kind != auth.StateAuthenticated {
			unauthorized(w)
			return
		}

		user := a.Auth.Introspect(r.Context(), state.AccessToken)
		if user == nil {
			unauthorized(w)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFromContext returns the identity RequireUser stored, or nil.
func UserFromContext(ctx context.Context) *auth.AuthenticatedUser {
	user, _ := ctx.Value(userContextKey{}).(*auth.AuthenticatedUser)
	return user
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprint(w, `Unauthorized. <a href="/auth/login">Login -&gt;</a>`)
}

func (a *App) userStorage(r *http.Request) *storage.UserStorage {
	return a.Store.User(UserFromContext(r.Context()).Subject)
}

func (a *App) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	documents, err := a.userStorage(r).List()
	if err != nil {
		a.Logger.Warn("list documents", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	writeJSON(w, documents)
}

func (a *App) handleReadDocument(w http.ResponseWriter, r *http.Request) {
	id, err := storage.ParseDocumentID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid document id", http.StatusBadRequest)
		return
	}

	doc, err := a.userStorage(r).Read(id, false)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		a.Logger.Warn("read document", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, doc.Contents)
}

func (a *App) handleWriteDocument(w http.ResponseWriter, r *http.Request) {
	id, err := storage.ParseDocumentID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid document id", http.StatusBadRequest)
		return
	}

	contents, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentSize))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := a.userStorage(r).Write(storage.Document{ID: id, Contents: string(contents)}); err != nil {
		a.Logger.Warn("write document", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
