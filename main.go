package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"notesd/devidp"
	"notesd/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("NOTESD_CONFIG"), "Path to YAML config (optional)")
	logLevel := flag.String("log-level", "info", "Logging level (debug, info, warn, error)")
	flag.StringVar(logLevel, "l", "info", "Alias for -log-level")
	flag.Parse()

	level, err := parseLogLevel(*logLevel)
	if err != nil {
		log.Fatalf("invalid log level %q: %v", *logLevel, err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var shutdownFns []func(context.Context) error

	// Without a configured issuer in dev mode, stand up the embedded
	// identity provider and point the auth client at it.
	if cfg.Server.DevMode && cfg.OIDC.IssuerURL == "" {
		idpShutdown, err := startDevIDP(&cfg, logger)
		if err != nil {
			log.Fatalf("start dev identity provider: %v", err)
		}
		shutdownFns = append(shutdownFns, idpShutdown)
	}

	if cfg.OIDC.RedirectURL == "" {
		cfg.OIDC.RedirectURL = strings.TrimSuffix(cfg.Server.PublicURL, "/") + "/auth/callback"
	}

	discoveryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	application, err := server.NewApp(discoveryCtx, cfg, logger)
	cancel()
	if err != nil {
		log.Fatalf("init app: %v", err)
	}

	stopSweep := make(chan struct{})
	application.Auth.StartSweeping(stopSweep)
	defer close(stopSweep)

	handler := application.Routes()

	if cfg.Server.DevMode {
		srv := &http.Server{
			Addr:         cfg.Server.DevListenAddr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		shutdownFns = append(shutdownFns, srv.Shutdown)
		logger.Info("server listening", "mode", "dev", "addr", cfg.Server.DevListenAddr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("server error", "error", err)
			}
		}()
	} else {
		m := &autocert.Manager{
			Cache:      autocert.DirCache(cfg.Server.TLS.CachePath),
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.Server.TLS.Domains...),
			Email:      cfg.Server.TLS.Email,
		}

		httpRedirect := &http.Server{
			Addr:    cfg.Server.HTTPListenAddr,
			Handler: m.HTTPHandler(http.HandlerFunc(redirectToHTTPS)),
		}
		shutdownFns = append(shutdownFns, httpRedirect.Shutdown)
		go func() {
			if err := httpRedirect.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http redirect error", "error", err)
			}
		}()

		httpsSrv := &http.Server{
			Addr:    cfg.Server.HTTPSListenAddr,
			Handler: handler,
			TLSConfig: &tls.Config{
				GetCertificate: m.GetCertificate,
				MinVersion:     tls.VersionTLS12,
			},
		}
		shutdownFns = append(shutdownFns, httpsSrv.Shutdown)
		logger.Info("server listening", "mode", "prod", "addr", cfg.Server.HTTPSListenAddr)
		go func() {
			if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				logger.Error("https server error", "error", err)
			}
		}()
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, fn := range shutdownFns {
		_ = fn(shutdownCtx)
	}
}

// startDevIDP binds the embedded provider synchronously so discovery can
// reach it immediately, then fills in the OIDC config to match.
func startDevIDP(cfg *server.Config, logger *slog.Logger) (func(context.Context) error, error) {
	issuer := "http://" + cfg.Server.DevIDPListenAddr

	idp, err := devidp.New(issuer, devidp.DefaultUser(), logger)
	if err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", cfg.Server.DevIDPListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Server.DevIDPListenAddr, err)
	}

	srv := &http.Server{Handler: idp.Handler()}
	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error("dev idp error", "error", err)
		}
	}()

	cfg.OIDC.IssuerURL = issuer
	if cfg.OIDC.ClientID == "" {
		cfg.OIDC.ClientID = "notesd-dev"
	}
	logger.Info("embedded dev identity provider listening", "issuer", issuer)

	return srv.Shutdown, nil
}

func redirectToHTTPS(w http.ResponseWriter, r *http.Request) {
	target := "https://" + r.Host + r.URL.RequestURI()
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level")
	}
}
