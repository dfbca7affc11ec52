package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

const hstsMaxAge = 63072000

// Routes constructs the HTTP router: the auth surface, the protected
// document API, and the static frontend as fallback.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))
	if !a.Config.Server.DevMode {
		r.Use(SecurityHeadersMiddleware(hstsMaxAge))
	}

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", a.handleLogin)
		r.Get("/callback", a.handleCallback)
		r.Get("/success", a.handleSuccess)
		r.Get("/failed", a.handleFailed)
		r.Get("/logout", a.handleLogout)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(a.RequireUser)
		r.Get("/document", a.handleListDocuments)
		r.Get("/document/{id}", a.handleReadDocument)
		r.Put("/document/{id}", a.handleWriteDocument)
	})

	r.NotFound(FrontendHandler(a.Config.Server.FrontendDir))

	return r
}
