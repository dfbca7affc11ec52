package server

import (
	"context"
	"log/slog"

	"notesd/auth"
	"notesd/storage"
)

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config Config
	Logger *slog.Logger
	Auth   *auth.Client
	Codec  *auth.StateCodec
	Store  *storage.Store
}

// NewApp wires together the application state from configuration. Provider
// discovery runs here; failure aborts startup.
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	client, err := auth.NewClient(ctx, auth.Config{
		IssuerURL:      cfg.OIDC.IssuerURL,
		RedirectURL:    cfg.OIDC.RedirectURL,
		ClientID:       cfg.OIDC.ClientID,
		ClientSecret:   cfg.OIDC.ClientSecret,
		Scopes:         cfg.OIDC.Scopes,
		RequiredGroups: cfg.OIDC.RequiredGroups,
	}, logger)
	if err != nil {
		return nil, err
	}

	return &App{
		Config: cfg,
		Logger: logger,
		Auth:   client,
		Codec:  &auth.StateCodec{Secure: !cfg.Server.DevMode},
		Store:  storage.New(cfg.Storage.Location),
	}, nil
}
