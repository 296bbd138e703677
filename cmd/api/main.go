package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatflow_backend/internal/bootstrap"
	apphttp "chatflow_backend/internal/http"
	"chatflow_backend/internal/http/router"
	"chatflow_backend/internal/scheduler"
	"chatflow_backend/internal/webhook"
	"chatflow_backend/platform/config"
	"chatflow_backend/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	infra, err := bootstrap.Connect(ctx, cfg, true, log)
	if err != nil {
		log.Error("failed to initialize infrastructure", "error", err)
		panic("failed to initialize infrastructure: " + err.Error())
	}
	defer infra.Close()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	core, err := bootstrap.Build(ctx, cfg, infra, log)
	if err != nil {
		log.Error("failed to wire conversation core", "error", err)
		panic("failed to wire conversation core: " + err.Error())
	}
	defer core.Notification.Close()

	// The webhook falls back to running the pipeline in-process when the
	// broker is down, so the API carries the same runner as the worker.
	webhookModule := webhook.NewModule(cfg, cfg.GetWhatsAppURL(), infra.Queues, core.Runner, core.Validator, log)
	schedulerModule := scheduler.NewModule(core.Reminders)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config: cfg,
		Logger: log,
		Health: infra.Pool,
		Queues: infra.Queues,
		Modules: []apphttp.Module{
			webhookModule,
			core.Handoff,
			core.Notification,
			schedulerModule,
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}
