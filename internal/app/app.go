package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/tillworks/till/internal/domain/account"
	"github.com/tillworks/till/internal/domain/cashsession"
	"github.com/tillworks/till/internal/domain/laybye"
	"github.com/tillworks/till/internal/domain/sale"
	"github.com/tillworks/till/internal/handler"
	"github.com/tillworks/till/internal/repository"
	"github.com/tillworks/till/pkg/health"
	"github.com/tillworks/till/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	accountRepo := repository.NewAccountRepository(pool)
	saleRepo := repository.NewSaleRepository(pool)
	laybyeRepo := repository.NewLaybyeRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)
	apikeyRepo := repository.NewAPIKeyRepository(pool)

	// Domain services.
	validator := account.NewValidator(accountRepo)
	reconciler := cashsession.NewReconciler(sessionRepo, lg.Named("cashsession")).
		WithThreshold(cfg.CashSession.VarianceThreshold)
	committer := sale.NewCommitter(saleRepo, validator, reconciler, lg.Named("sale"))
	laybyeManager := laybye.NewManager(laybye.Policy{
		MinDepositPercentage: cfg.Laybye.MinDepositPercentage(),
		MinimumLeadTime:      cfg.Laybye.MinimumLeadTime,
		RequireCustomer:      cfg.Laybye.RequireCustomer,
	}, laybyeRepo, lg.Named("laybye"))

	// Periodic sweep expiring overdue laybye orders.
	go expireLaybyes(ctx, lg, laybyeManager, cfg.Laybye.ExpiryInterval)

	// HTTP surface: health endpoints open, API behind key auth.
	h := handler.NewHandler(validator, committer, laybyeManager, reconciler, cfg.Currency)
	api := http.NewServeMux()
	h.Routes(api)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", handler.APIKeyAuth(apikeyRepo, []byte(cfg.APIKeyPepper))(api))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", "api_key"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("till-api", m),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// expireLaybyes runs the overdue-order sweep until ctx is cancelled.
func expireLaybyes(ctx context.Context, lg *zap.Logger, m *laybye.Manager, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.ExpireOverdue(ctx)
			if err != nil {
				lg.Warn("laybye expiry sweep", zap.Error(err))
				continue
			}
			if n > 0 {
				lg.Info("expired overdue laybye orders", zap.Int("count", n))
			}
		}
	}
}
