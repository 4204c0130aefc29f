package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mantonx/streamforge/internal/config"
	"github.com/mantonx/streamforge/internal/database"
	"github.com/mantonx/streamforge/internal/encoder"
	"github.com/mantonx/streamforge/internal/library"
	"github.com/mantonx/streamforge/internal/logger"
	"github.com/mantonx/streamforge/internal/monitor"
	"github.com/mantonx/streamforge/internal/scheduler"
	"github.com/mantonx/streamforge/internal/server"
	"github.com/mantonx/streamforge/internal/session"
	"github.com/mantonx/streamforge/internal/telemetry"
)

func main() {
	logger := logger.New("streamforge")

	cfg := config.Load()

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}

	store := session.NewStore(db, logger)
	admission := session.NewAdmission(cfg.Streams.MaxConcurrentStreams)
	lib := library.NewService(db, logger)
	sup := encoder.NewSupervisor(cfg.Encoder, logger)
	manager := session.NewManager(store, admission, lib, sup, cfg.Encoder, logger)

	sched := scheduler.New(db, manager, lib, logger)
	wheel := scheduler.NewHeapTimerWheel(sched.Fire, logger)
	sched.SetWheel(wheel)

	// Boot reconciliation runs before any traffic is accepted: orphan
	// encoders are reaped, stale rows finalized, and scheduler timers
	// rebuilt with overdue triggers fired.
	if killed, err := manager.ForceReapOrphans(); err != nil {
		logger.Error("orphan reaping failed", "error", err)
	} else if killed > 0 {
		logger.Warn("reaped orphan encoders at boot", "count", killed)
	}
	wheel.Start()
	if err := sched.RecoverOnBoot(); err != nil {
		logger.Error("scheduler recovery failed", "error", err)
	}

	mon := monitor.New(manager, cfg.Streams.MonitorInterval, logger)
	mon.Start()

	hub := telemetry.NewHub(store, sup, cfg.Streams.SnapshotInterval, logger)
	hub.Start()
	logs := telemetry.NewLogStreamer(sup, logger)

	srv := server.New(server.Dependencies{
		Config:    cfg,
		Library:   lib,
		Manager:   manager,
		Scheduler: sched,
		Hub:       hub,
		Logs:      logs,
		Logger:    logger,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
		return
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	// Encoders are left running on purpose: sessions survive a host
	// restart and the next boot re-adopts or reaps them.
	mon.Close()
	hub.Close()
	wheel.Close()
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}
