package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"inferlet/internal/inferlet/backend"
	"inferlet/internal/inferlet/backend/docker"
	"inferlet/internal/inferlet/processing"
	"inferlet/internal/inferlet/server"
	"inferlet/pkg/config"
	"inferlet/pkg/logger"
	"inferlet/pkg/security"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration first
	cfg, path, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logging with configuration
	initializeLogging(cfg)

	mainLogger := logger.WithField("component", "main")
	mainLogger.Debug("configuration loaded", "path", path)

	if err := runServer(cfg); err != nil {
		mainLogger.Error("inferlet failed", "error", err)
		os.Exit(1)
	}
}

func runServer(cfg *config.Config) error {
	srvLogger := logger.WithField("mode", "server")

	models, err := server.LoadModels(cfg.Models.Dir)
	if err != nil {
		return err
	}
	srvLogger.Info("models loaded", "dir", cfg.Models.Dir, "count", models.Len())

	srv := server.New(cfg, models, processing.NewRegistry(),
		func() (backend.Backend, error) { return docker.New(cfg.Docker.Host) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.Start(ctx)

	httpServer := &http.Server{
		Addr:    cfg.GetServerAddress(),
		Handler: srv.Handler(),
		// Input uploads can be arbitrarily large, so only the header
		// read gets a deadline.
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	if cfg.Server.TLS.Enabled {
		tlsConfig, err := security.LoadServerTLSConfig(cfg.Server.TLS)
		if err != nil {
			return err
		}
		httpServer.TLSConfig = tlsConfig
	}

	errCh := make(chan error, 2)
	go func() {
		var err error
		if httpServer.TLSConfig != nil {
			srvLogger.Info("starting inferlet server with TLS", "address", httpServer.Addr)
			// Certificates already live in TLSConfig.
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			srvLogger.Info("starting inferlet server", "address", httpServer.Addr)
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		// A worker that cannot build its backend fails the group.
		if err := srv.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for a shutdown signal, a listener failure or a dead worker pool
	select {
	case err := <-errCh:
		return err
	case <-sigChan:
	}
	srvLogger.Info("received shutdown signal, stopping server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		srvLogger.Warn("http shutdown incomplete", "error", err)
	}

	cancel()
	if err := srv.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	srvLogger.Info("server stopped gracefully")
	return nil
}

func initializeLogging(cfg *config.Config) {
	// Parse and set log level
	if level, err := logger.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	} else {
		log.Printf("Invalid log level '%s', using INFO", cfg.Logging.Level)
		logger.SetLevel(logger.INFO)
	}

	// Configure output if needed (for file logging)
	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "" {
		// Ensure log directory exists
		logDir := filepath.Dir(cfg.Logging.Output)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			log.Printf("Failed to setup log file, using stdout: %v", err)
		}
	}
}
