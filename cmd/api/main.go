package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/redis/go-redis/v9"

	"socialauth/internal/accounts"
	"socialauth/internal/auth"
	"socialauth/internal/config"
	transporthttp "socialauth/internal/http"
	"socialauth/internal/platform/database"
	"socialauth/internal/platform/logging"
	"socialauth/internal/platform/metrics"
	"socialauth/internal/platform/migrate"
	"socialauth/internal/token"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	store, cleanup, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize account store", "error", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	links, closeLinks, err := buildLinkStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize link store", "error", err)
		os.Exit(1)
	}
	if closeLinks != nil {
		defer closeLinks()
	}

	tokens, err := token.NewService(cfg.TokenConfig())
	if err != nil {
		logger.Error("failed to initialize token service", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	engine := auth.NewEngine(store,
		auth.WithEngineLogger(logger),
		auth.WithReconcileObserver(func(kind accounts.ProviderKind, outcome auth.Outcome) {
			m.ObserveReconcile(string(kind), string(outcome))
		}),
	)
	gateway := auth.NewGateway(store, engine, tokens, links,
		auth.WithLinkTTL(cfg.LinkTTL),
		auth.WithGatewayLogger(logger),
		auth.WithVerificationObserver(func(purpose token.Purpose, ok bool) {
			m.ObserveVerification(string(purpose), ok)
		}),
	)

	if cfg.UseInMemoryStore() && cfg.IsDevelopment() {
		seedDevelopmentAccount(ctx, gateway, store, logger)
	}

	router := transporthttp.NewRouter(cfg, transporthttp.Dependencies{
		Engine:    engine,
		Gateway:   gateway,
		Providers: buildProviders(ctx, cfg, logger),
		Allowlist: auth.NewAllowlist(cfg.AllowedDomains, cfg.AllowedEmails),
		Metrics:   m,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}

	go func() {
		logger.Info("auth API listening", "addr", srv.Addr, "store", cfg.DataStore, "link_store", cfg.LinkStore)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func buildStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (accounts.Store, func(), error) {
	if cfg.UseInMemoryStore() {
		logger.Info("using in-memory account store")
		return accounts.NewMemoryStore(), nil, nil
	}

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		_ = db.Close()
	}

	if err := migrate.Apply(ctx, db, logger); err != nil {
		cleanup()
		return nil, nil, err
	}

	logger.Info("connected to postgres")
	return accounts.NewPostgresStore(db), cleanup, nil
}

func buildLinkStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (auth.LinkStore, func(), error) {
	if cfg.LinkStore != "redis" {
		return auth.NewMemoryLinkStore(), nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	logger.Info("connected to redis", "addr", cfg.RedisAddr)
	return auth.NewRedisLinkStore(client), func() { _ = client.Close() }, nil
}

// buildProviders registers every provider with complete credentials. A
// provider whose discovery fails is skipped so the others stay available.
func buildProviders(ctx context.Context, cfg config.Config, logger *slog.Logger) *auth.Registry {
	var list []auth.Provider

	if cfg.Google.Enabled() {
		google, err := auth.NewGoogleProvider(ctx, oauthClient(cfg.Google))
		if err != nil {
			logger.Error("google provider unavailable", "error", err)
		} else {
			list = append(list, google)
		}
	}
	if cfg.GitHub.Enabled() {
		list = append(list, auth.NewGitHubProvider(oauthClient(cfg.GitHub)))
	}
	if cfg.Azure.Enabled() {
		azure, err := auth.NewAzureProvider(ctx, oauthClient(cfg.Azure), cfg.AzureTenant)
		if err != nil {
			logger.Error("azure provider unavailable", "error", err)
		} else {
			list = append(list, azure)
		}
	}

	registry := auth.NewRegistry(list...)
	logger.Info("oauth providers configured", "providers", registry.Kinds())
	return registry
}

func oauthClient(p config.ProviderConfig) auth.OAuthClient {
	return auth.OAuthClient{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  p.CallbackURL,
	}
}
