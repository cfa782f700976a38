// Package app wires every component package into the two runnable modes
// (api and worker), mirroring how main assembles dependencies without
// leaking construction details into the domain packages themselves.
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/forgehost/controlplane/internal/auth"
	"github.com/forgehost/controlplane/internal/config"
	"github.com/forgehost/controlplane/internal/containerengine"
	"github.com/forgehost/controlplane/internal/credential"
	"github.com/forgehost/controlplane/internal/dbx"
	"github.com/forgehost/controlplane/internal/httpserver"
	"github.com/forgehost/controlplane/internal/platform"
	"github.com/forgehost/controlplane/internal/proxy"
	"github.com/forgehost/controlplane/internal/subscription"
	"github.com/forgehost/controlplane/internal/telemetry"
	"github.com/forgehost/controlplane/internal/workspace"
)

// Run reads config, connects to infrastructure, and starts the requested
// mode. "api" serves HTTP and runs the side-effect worker in-process;
// "worker" runs nothing of its own: it logs a line and waits for shutdown.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting controlplane", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metrics := telemetry.NewMetrics()
	gateway := dbx.New(db, logger, cfg.SlowQueryLog)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, gateway, rdb, metrics)
	case "worker":
		return runWorker(ctx, logger)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func bearerSecret(cfg *config.Config, logger *slog.Logger) string {
	if cfg.BearerSecret != "" {
		return cfg.BearerSecret
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("generating dev bearer secret: %v", err))
	}
	logger.Info("bearer secret not set, using auto-generated dev secret (set BEARER_TOKEN_SECRET in production)")
	return hex.EncodeToString(buf)
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *dbx.Gateway, rdb *redis.Client, metrics *telemetry.Metrics) error {
	hasher := credential.NewPasswordHasher(cfg.PasswordHashCost)
	issuer, err := credential.NewTokenIssuer(bearerSecret(cfg, logger), cfg.BearerTokenTTL)
	if err != nil {
		return fmt.Errorf("creating token issuer: %w", err)
	}

	authStore := auth.NewStore(db)
	authService := auth.NewService(authStore, hasher, issuer, cfg.BearerTokenTTL)
	authHandlers := auth.NewHandlers(authService)

	engine, err := containerengine.NewDockerEngine(cfg.InternalNetworkName)
	if err != nil {
		return fmt.Errorf("creating container engine: %w", err)
	}

	// entitledTx re-reads and locks the owner's subscription row inside the
	// caller's own transaction — the definitive entitlement gate spec §9
	// requires for any workspace-mutating operation, as opposed to entitled
	// below, which is only ever an optimistic pre-check performed by the
	// HTTP handlers before a transaction is even opened.
	subStore := subscription.NewStore(db)
	entitledTx := func(ctx context.Context, tx *dbx.Tx, userID uuid.UUID) (bool, error) {
		sub, found, err := subscription.GetActiveForUserForUpdate(ctx, tx, userID)
		if err != nil {
			return false, err
		}
		if !found {
			return false, nil
		}
		return sub.Entitled(time.Now()), nil
	}

	wsStore := workspace.NewStore(db)
	wsLimits := workspace.Limits{
		DefaultCPUQuota:    cfg.DefaultCPUQuota,
		DefaultMemoryBytes: cfg.DefaultMemoryBytes,
		MaxCPUQuota:        cfg.MaxCPUQuota,
		MinMemoryBytes:     cfg.MinMemoryBytes,
		MaxMemoryBytes:     cfg.MaxMemoryBytes,
		MaxPerOwner:        cfg.MaxWorkspacesPerUser,
		Image:              cfg.WorkspaceImage,
		StopGrace:          cfg.ContainerStopGrace,
	}
	wsService := workspace.NewService(wsStore, db, engine, logger, metrics, wsLimits, entitledTx)

	provider := subscription.NewHTTPProviderClient(cfg.PaymentProviderCheckoutURL, cfg.PaymentProviderKeyID, cfg.PaymentProviderSecret)
	sideEffects := subscription.NewSideEffectWorker(logger, func(ctx context.Context, ownerID string) error {
		id, err := uuid.Parse(ownerID)
		if err != nil {
			return err
		}
		return wsService.StopAllForOwner(ctx, id)
	})
	sideEffects.Start(ctx)
	defer sideEffects.Close()

	subEngine := subscription.NewEngine(subStore, db, logger, metrics, []byte(cfg.PaymentProviderWebhookSecret), sideEffects, provider)
	subHandlers := subscription.NewHandlers(subEngine)

	entitled := func(ctx context.Context, userID uuid.UUID) (bool, error) {
		_, ok, err := subEngine.GetEntitlement(ctx, userID)
		return ok, err
	}
	wsHandlers := workspace.NewHandlers(wsService, entitled)

	proxyHandler := proxy.NewHandler(
		func(ctx context.Context, credentialHash string) (proxy.WorkspaceView, error) {
			w, err := wsStore.GetByProxyCredentialHash(ctx, credentialHash)
			if err != nil {
				return proxy.WorkspaceView{}, err
			}
			return proxy.WorkspaceView{ID: w.ID, OwnerID: w.OwnerID, State: string(w.State), ContainerID: w.ContainerID}, nil
		},
		entitled,
		engine,
		logger,
		cfg.UpstreamDialTimeout,
		cfg.WorkspacePort,
	)

	srv := httpserver.New(logger, db, metrics, cfg.FrontendOrigin)

	authLimiter := httpserver.NewRateLimiter(rdb, "auth", cfg.RateLimitAuthMax, cfg.RateLimitAuthWindow)
	apiLimiter := httpserver.NewRateLimiter(rdb, "api", cfg.RateLimitAPIMax, cfg.RateLimitAPIWindow)
	lifecycleLimiter := httpserver.NewRateLimiter(rdb, "lifecycle", cfg.RateLimitLifecycleMax, cfg.RateLimitLifecycleWindow)

	srv.APIGroup("/api/auth", func(r chi.Router) {
		r.Use(authLimiter.Middleware(httpserver.ClientIP))
		authHandlers.Mount(r)
		r.Group(func(r chi.Router) {
			r.Use(credential.RequireBearer(issuer))
			authHandlers.MountAuthenticated(r)
		})
	})

	srv.APIGroup("/api/workspaces", func(r chi.Router) {
		r.Use(credential.RequireBearer(issuer))
		r.Use(apiLimiter.Middleware(httpserver.ClientIP))
		wsHandlers.Mount(r)
		r.Group(func(r chi.Router) {
			// Lifecycle operations are limited per owner, keyed by the
			// caller's user id from the bearer token.
			r.Use(lifecycleLimiter.Middleware(func(r *http.Request) string {
				if claims := credential.FromContext(r.Context()); claims != nil {
					return claims.UserID
				}
				return httpserver.ClientIP(r)
			}))
			wsHandlers.MountLifecycle(r)
		})
	})

	srv.APIGroup("/api/payments", func(r chi.Router) {
		r.Use(credential.RequireBearer(issuer))
		r.Use(apiLimiter.Middleware(httpserver.ClientIP))
		subHandlers.Mount(r)
	})

	srv.WebhookGroup("/api/webhooks", func(r chi.Router) {
		subHandlers.MountWebhook(r)
	})

	srv.Router.Route("/api/proxy", func(r chi.Router) {
		r.Use(apiLimiter.Middleware(httpserver.ClientIP))
		proxyHandler.Mount(r)
	})

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv.Router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, logger *slog.Logger) error {
	logger.Info("worker started: side effects run in-process with the api server, nothing to do standalone yet")
	<-ctx.Done()
	return nil
}
