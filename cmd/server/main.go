package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	bootstrap "github.com/tbeaudouin05/stripe-facade/api/bootstrap"
	"github.com/tbeaudouin05/stripe-facade/api/config"
	"github.com/tbeaudouin05/stripe-facade/api/router"
)

const shutdownGrace = 15 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	config.AppConfig = cfg
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)})))

	if err := bootstrap.Ensure(); err != nil {
		slog.Error("bootstrap failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		slog.Error("failed to listen for grpc", "port", cfg.GRPCPort, "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("grpc health server listening", "port", cfg.GRPCPort)
		errCh <- grpcSrv.Serve(lis)
	}()
	go func() {
		slog.Info("Server running", "port", cfg.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		slog.Error("server failed", "err", err)
	}

	healthSrv.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "err", err)
	}
	grpcSrv.GracefulStop()
	if err := bootstrap.Shutdown(); err != nil {
		slog.Error("cleanup failed", "err", err)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
