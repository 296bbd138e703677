package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"chatflow_backend/internal/bootstrap"
	"chatflow_backend/internal/queue"
	"chatflow_backend/internal/scheduler"
	"chatflow_backend/platform/config"
	"chatflow_backend/platform/logger"

	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting worker", "env", cfg.Env, "concurrency", cfg.GetAsynqConcurrency())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Migrations belong to the API; the worker only connects.
	infra, err := bootstrap.Connect(ctx, cfg, false, log)
	if err != nil {
		log.Error("failed to initialize infrastructure", "error", err)
		panic("failed to initialize infrastructure: " + err.Error())
	}
	defer infra.Close()

	core, err := bootstrap.Build(ctx, cfg, infra, log)
	if err != nil {
		log.Error("failed to wire conversation core", "error", err)
		panic("failed to wire conversation core: " + err.Error())
	}
	defer core.Notification.Close()

	worker, err := queue.NewWorker(cfg, core.Runner, core.Registry, log)
	if err != nil {
		log.Error("failed to initialize queue worker", "error", err)
		panic("failed to initialize queue worker: " + err.Error())
	}

	periodic, err := queue.NewPeriodic(cfg, log)
	if err != nil {
		log.Error("failed to initialize periodic scheduler", "error", err)
		panic("failed to initialize periodic scheduler: " + err.Error())
	}
	if err := scheduler.RegisterPeriodic(periodic, cfg, log); err != nil {
		log.Error("failed to register periodic jobs", "error", err)
		panic("failed to register periodic jobs: " + err.Error())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return periodic.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		log.Error("worker stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("worker stopped")
}
