package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/signalsfoundry/conveyor-simulator/core"
	"github.com/signalsfoundry/conveyor-simulator/internal/config"
	"github.com/signalsfoundry/conveyor-simulator/internal/grpcapi"
	"github.com/signalsfoundry/conveyor-simulator/internal/httpapi"
	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
	"github.com/signalsfoundry/conveyor-simulator/internal/observability"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults are used when empty)")
	grpcAddr := flag.String("grpc-addr", "", "TCP address for the gRPC grid service (overrides server.grpc_addr)")
	httpAddr := flag.String("http-addr", "", "TCP address for the HTTP API and /metrics (overrides server.http_addr)")
	squareLoop := flag.Bool("square-loop", false, "seed the 2x2 demo loop when the config has no layout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *grpcAddr != "" {
		cfg.Server.GRPCAddr = *grpcAddr
	}
	if *httpAddr != "" {
		cfg.Server.HTTPAddr = *httpAddr
	}
	if *squareLoop && len(cfg.Layout) == 0 {
		demo := config.SquareLoop()
		cfg.Layout, cfg.Items = demo.Layout, demo.Items
	}

	log := logging.New(cfg.LoggerConfig())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.Server.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}
	httpLis, err := net.Listen("tcp", cfg.Server.HTTPAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for HTTP", logging.String("addr", cfg.Server.HTTPAddr), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log, grpcLis, httpLis); err != nil {
		log.Error(ctx, "server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run serves the grid on both listeners until ctx is cancelled or a server
// fails, then shuts everything down.
func run(ctx context.Context, cfg config.Config, log logging.Logger, grpcLis, httpLis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.TracingConfig(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	engineMetrics, err := observability.NewEngineCollector(promReg)
	if err != nil {
		return fmt.Errorf("engine metrics: %w", err)
	}
	rpcMetrics, err := observability.NewRPCCollector(promReg)
	if err != nil {
		return fmt.Errorf("rpc metrics: %w", err)
	}

	registry := core.NewRegistry(
		core.WithParams(cfg.EngineParams()),
		core.WithLogger(log),
		core.WithMetricsRecorder(engineMetrics),
	)
	items, err := cfg.ApplyLayout(registry)
	if err != nil {
		return fmt.Errorf("apply layout: %w", err)
	}
	log.Info(ctx, "engine started",
		logging.Int("belts", registry.Len()),
		logging.Int("items", items),
		logging.Duration("tick_interval", cfg.EngineParams().TickInterval),
	)

	bounds := cfg.Bounds()
	grpcServer := grpcapi.NewServer(grpcapi.NewGridService(registry, bounds, log), log, rpcMetrics)
	httpServer := &http.Server{
		Handler: httpapi.NewServer(httpapi.NewHandler(registry, bounds, log,
			httpapi.WithMetricsHandler(engineMetrics.Handler()),
		)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info(ctx, "serving gRPC", logging.String("addr", grpcLis.Addr().String()))
		if err := grpcServer.Serve(grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()
	go func() {
		log.Info(ctx, "serving HTTP", logging.String("addr", httpLis.Addr().String()))
		if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	stopGRPC(shutdownCtx, grpcServer)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "http shutdown", logging.Err(err))
	}
	if err := registry.Shutdown(shutdownCtx); err != nil {
		return errors.Join(serveErr, err)
	}
	return serveErr
}

// stopGRPC drains in-flight RPCs but forces the stop when ctx ends, since
// Watch streams only finish when their clients leave.
func stopGRPC(ctx context.Context, s interface {
	GracefulStop()
	Stop()
}) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.Stop()
		<-done
	}
}
