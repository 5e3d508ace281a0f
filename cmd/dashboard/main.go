package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cmlabs-hris/attendance-dashboard/internal/config"
	appHTTP "github.com/cmlabs-hris/attendance-dashboard/internal/handler/http"
	"github.com/cmlabs-hris/attendance-dashboard/internal/pkg/backend"
	"github.com/cmlabs-hris/attendance-dashboard/internal/pkg/sse"
	"github.com/cmlabs-hris/attendance-dashboard/internal/pkg/storage"
	dashboardService "github.com/cmlabs-hris/attendance-dashboard/internal/service/dashboard"
	"github.com/go-chi/httplog/v3"
)

const version = "v1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Println("Error loading config:", err)
		os.Exit(1)
	}

	logFormat := httplog.SchemaECS.Concise(false)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:       cfg.SlogLevel(),
		ReplaceAttr: logFormat.ReplaceAttr,
	})).With(
		slog.String("app", "attendance-dashboard"),
		slog.String("version", version),
		slog.String("env", cfg.App.Env),
	)
	slog.SetDefault(logger)

	backendClient, err := backend.NewClient(backend.Config{
		BaseURL:    cfg.Backend.BaseURL,
		Timeout:    cfg.Backend.Timeout,
		StatusPath: cfg.Backend.StatusPath,
	}, nil)
	if err != nil {
		logger.Error("Failed to initialize backend client", "error", err)
		os.Exit(1)
	}

	exportStorage, err := storage.NewLocalStorage(cfg.Export.Dir, cfg.Export.BaseURL)
	if err != nil {
		logger.Error("Failed to initialize export storage", "error", err)
		os.Exit(1)
	}

	hub := sse.NewHub(0)
	dashboardSvc := dashboardService.NewDashboardService(
		backendClient,
		exportStorage,
		hub,
		nil,
		logger,
		dashboardService.Config{
			PollInterval:   cfg.Dashboard.PollInterval,
			ConfirmStatus:  backendClient.StatusEnabled(),
			ConfirmTimeout: cfg.Dashboard.ConfirmTimeout,
		},
	)

	dashboardHandler := appHTTP.NewDashboardHandler(dashboardSvc, exportStorage, logger, cfg.CORS.AllowedOrigins)
	router := appHTTP.NewRouter(appHTTP.RouterOptions{
		Logger:         logger,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		ExportDir:      exportStorage.BasePath(),
		ExportBaseURL:  cfg.Export.BaseURL,
	}, dashboardHandler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := dashboardSvc.Mount(ctx); err != nil {
		logger.Error("Failed to mount dashboard", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// streams end with the process context
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server running", "addr", srv.Addr, "backend", cfg.Backend.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error("Server error", "error", err)
		}
	}

	dashboardSvc.Unmount()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
	}
	logger.Info("Server stopped")
}
