package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mmynk/ajo/internal/auth"
	"github.com/mmynk/ajo/internal/middleware"
	"github.com/mmynk/ajo/internal/service"
	"github.com/mmynk/ajo/pkg/api/apiconnect"
)

const tokenDuration = 24 * time.Hour

func runServe(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return errors.New("AJO_JWT_SECRET (auth.jwt_secret) is required to serve")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	eng, err := newEngine(cfg, reg)
	if err != nil {
		return err
	}
	defer eng.store.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, tokenDuration)
	groupService := service.NewGroupService(eng.store, eng.applier, eng.dispatcher, cfg.Policy)
	webhooks := service.NewWebhookHandler(eng.applier, eng.dispatcher, cfg.WebhookSecret, cfg.WebhookTolerance)

	// Auth runs first so the logging interceptor sees the caller.
	interceptors := connect.WithInterceptors(
		middleware.RequireAuth(jwtManager),
		middleware.LoggingInterceptor(),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestLogger)
	r.Use(middleware.CORS)

	groupPath, groupHandler := apiconnect.NewGroupServiceHandler(groupService, interceptors)
	r.Mount(groupPath, groupHandler)
	r.Method(http.MethodPost, "/webhooks/gateway", webhooks)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Wrap with h2c for HTTP/2 without TLS (required for Connect)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h2c.NewHandler(r, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Scheduler.Enabled {
		// Deferred after the store close, so it runs first.
		defer startBackground(ctx, "Scheduler", eng.scheduler.Run)()
	} else {
		slog.Info("Scheduler disabled; run `ajo tick` from cron")
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Connect server starting", "address", cfg.HTTPAddr, "service", groupPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// startBackground runs fn in a goroutine. The returned stop cancels fn's
// context and blocks until fn has returned.
func startBackground(ctx context.Context, name string, fn func(context.Context) error) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := fn(ctx); err != nil {
			slog.Error(name+" failed", "error", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
