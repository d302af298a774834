package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"waytrack/internal/capability"
	"waytrack/internal/capture"
	"waytrack/internal/compositor"
	"waytrack/internal/config"
	"waytrack/internal/coordinator"
	"waytrack/internal/enrich"
	"waytrack/internal/logger"
	"waytrack/internal/models"
	"waytrack/internal/spool"
	"waytrack/internal/sysevents"
	"waytrack/internal/tracker"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults and env when empty)")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.Default()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting waytrack daemon",
		zap.String("env", cfg.Env),
		zap.String("config_path", *configPath),
	)

	discoverer := capability.NewDiscoverer(log.Logger)

	// Report what this environment can do before relying on any of it.
	report := discoverer.FullCheck(context.Background())
	log.Info("Capability report",
		zap.Bool("compositor_socket", report.CompositorSocket),
		zap.Bool("screenshot_tool", report.Screenshot.Available),
		zap.String("screenshot_version", report.Screenshot.Version),
		zap.Bool("ocr_tool", report.OCR.Available),
		zap.String("ocr_version", report.OCR.Version),
		zap.Bool("session_bus", report.SessionBus),
	)
	if !report.CompositorSocket {
		log.Fatal("Compositor IPC socket not reachable; cannot track windows")
	}

	introspector := compositor.NewIntrospector(discoverer, cfg.Tracking.IntrospectTimeout, log.Logger)
	client := compositor.NewClient(discoverer, cfg.Tracking.ReconnectBackoff, func(err error) {
		log.Warn("Compositor socket error", zap.Error(err))
	}, log.Logger)

	coord := coordinator.New(cfg.Tracking, log.Logger)
	enricher := enrich.New(cfg.Enrichment, log.Logger)

	store := capture.NewStore(cfg.Capture.BaseDir, log.Logger)
	pipeline := capture.NewPipeline(introspector, store, cfg.Capture, log.Logger)

	var observer *sysevents.Observer
	if report.SessionBus {
		observer = sysevents.NewObserver(log.Logger)
	} else {
		log.Info("Session bus unavailable, running without system events")
	}

	var eventSpool *spool.Spool
	if cfg.Spool.Enabled {
		eventSpool, err = spool.Open(cfg.Spool.Path, log.Logger)
		if err != nil {
			log.Fatal("Failed to open event spool", zap.Error(err))
		}
		defer func() {
			if err := eventSpool.Close(); err != nil {
				log.Error("Failed to close event spool", zap.Error(err))
			}
		}()
	}

	session := tracker.NewSession(
		client,
		introspector,
		coord,
		enricher,
		pipeline,
		observer,
		nil, // no known-content provider in the reference host
		eventSpool,
		cfg.Spool.DrainInterval,
		log.Logger,
	)

	// The reference consumer prints each event as one JSON line.
	consumer := func(event *models.ActivityEvent) error {
		if event == nil {
			log.Debug("Capture attempt failed, no update")
			return nil
		}
		line, err := json.Marshal(event)
		if err != nil {
			return err
		}
		fmt.Println(string(line))
		return nil
	}

	if err := session.Start(consumer); err != nil {
		log.Fatal("Failed to start tracking session", zap.Error(err))
	}

	log.Info("Waytrack daemon started",
		zap.String("session_id", session.ID()),
		zap.String("capture_dir", cfg.Capture.BaseDir),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	done := make(chan struct{})
	go func() {
		session.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("Tracking session stopped")
	case <-time.After(5 * time.Second):
		log.Warn("Shutdown timeout reached, forcing exit")
		os.Exit(1)
	}

	if eventSpool != nil {
		if _, err := eventSpool.CleanupOld(7*24*time.Hour, cfg.Spool.RetryCeiling); err != nil {
			log.Error("Failed to cleanup event spool", zap.Error(err))
		}
	}

	log.Info("Waytrack daemon stopped")
}
