package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	githubadapter "github.com/ourfreewp/wp2-update/internal/adapter/driven/github"
	"github.com/ourfreewp/wp2-update/internal/adapter/driven/hostfs"
	sqliteadapter "github.com/ourfreewp/wp2-update/internal/adapter/driven/sqlite"
	httphandler "github.com/ourfreewp/wp2-update/internal/adapter/driving/http"
	"github.com/ourfreewp/wp2-update/internal/application"
	"github.com/ourfreewp/wp2-update/internal/config"
	"github.com/ourfreewp/wp2-update/internal/domain/port/driven"
	"github.com/ourfreewp/wp2-update/internal/secret"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"packages_dir", cfg.PackagesDir,
		"channel", cfg.Channel,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode) and migrate.
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("database ready", "path", cfg.DBPath)

	// 4. Wire driven adapters.
	configStore := sqliteadapter.NewConfigRepo(db)
	credentialStore := sqliteadapter.NewCredentialRepo(db)
	packageStore := sqliteadapter.NewPackageRepo(db)

	installer, err := hostfs.NewInstaller(cfg.PackagesDir)
	if err != nil {
		return err
	}

	cipher, err := secret.New(cfg.SecretKey)
	if err != nil {
		return err
	}

	// 5. Wire application services.
	credSvc := application.NewCredentialService(credentialStore, cipher, configStore)
	broker := application.NewTokenBroker(credSvc, githubadapter.NewExchanger(), configStore)
	clients := application.NewClientProvider(broker, func(token string) driven.ReleaseHost {
		return githubadapter.NewClient(token)
	})
	resolver := application.NewRepoResolver(credentialStore)
	credSvc.SetChangeListener(resolver.Invalidate)

	releaseSvc := application.NewReleaseService(clients, configStore)
	installSvc := application.NewInstallService(clients, installer, packageStore, configStore)
	updateSvc := application.NewUpdateService(credSvc, resolver, releaseSvc, installSvc, packageStore, broker, cfg.Channel)

	// 6. HTTP driving adapter.
	handler := httphandler.NewHandler(credSvc, updateSvc, packageStore, slog.Default())
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(handler, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Installs can take a while; the write timeout has to cover a full
		// download + swap.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("wp2update started", "listen_addr", cfg.ListenAddr, "channel", cfg.Channel)

	// 7. Wait for shutdown signal, then drain.
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
