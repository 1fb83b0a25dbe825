package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/failsafe-go/admission"
	"github.com/failsafe-go/admission/admissiongrpc"
	"github.com/failsafe-go/admission/admissionprom"
	"github.com/failsafe-go/admission/config"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("admissiond exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("admissiond shut down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine, err := admission.New(cfg.Engine,
		admission.WithLogger(logger.With("component", "engine")),
		admission.WithObserver(admissionprom.NewObserver(registry, "admissiond")))
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	defer engine.Close()
	registry.MustRegister(admissionprom.NewCollector(engine, "admissiond"))

	logger.Info("starting admissiond",
		"httpAddr", cfg.Server.HTTPAddr,
		"grpcAddr", cfg.Server.GRPCAddr,
		"windowTimeCycle", cfg.Engine.WindowTimeCycle,
		"windowRequestCycle", cfg.Engine.WindowRequestCycle)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runHTTPServer(gCtx, cfg.Server.HTTPAddr, newServer(engine, cfg, registry, logger), logger)
	})
	g.Go(func() error {
		return runGRPCServer(gCtx, cfg.Server.GRPCAddr, engine, logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runHTTPServer(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("http server shutdown error", "error", err)
		}
	}()

	logger.Info("http server started", "addr", addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func runGRPCServer(ctx context.Context, addr string, engine *admission.Engine, logger *slog.Logger) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	server := grpc.NewServer(
		grpc.InTapHandle(admissiongrpc.NewServerInHandle(engine)),
		grpc.UnaryInterceptor(admissiongrpc.NewUnaryServerInterceptor()))
	healthpb.RegisterHealthServer(server, health.NewServer())

	go func() {
		<-ctx.Done()
		server.GracefulStop()
	}()

	logger.Info("grpc server started", "addr", addr)
	if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc server: %w", err)
	}
	return nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
