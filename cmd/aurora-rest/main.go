// aurora-rest is the HTTP front end for the aurora scheduler client.
//
// Started with -worker it instead serves job operations for a process-pool
// parent over stdin and stdout.
package main

import (
	"aurorarest/internal/api"
	"aurorarest/internal/aurora"
	"aurorarest/internal/config"
	"aurorarest/internal/executor"
	"aurorarest/internal/health"
	"aurorarest/internal/observability"
	"aurorarest/internal/worker"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON configuration file")
	workerMode := flag.Bool("worker", false, "serve job operations over stdin/stdout for a process pool")
	flag.Parse()

	if *workerMode {
		if err := runWorker(); err != nil {
			fmt.Fprintf(os.Stderr, "aurora-rest worker: %v\n", err)
			os.Exit(1)
		}
		return
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(*configPath); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

// newDelegate builds the aurora delegate for the configured executor kind.
// The returned func releases the runner's resources.
func newDelegate(kind, auroraCmd, image string) (*aurora.CommandDelegate, func(), error) {
	if kind == "docker" {
		runner, err := aurora.NewDockerRunner(aurora.DockerConfig{
			Image:      image,
			Entrypoint: []string{auroraCmd},
		})
		if err != nil {
			return nil, nil, err
		}
		return aurora.NewCommandDelegate(runner), func() { _ = runner.Close() }, nil
	}
	return aurora.NewCommandDelegate(aurora.NewExecRunner(auroraCmd)), func() {}, nil
}

// runWorker serves frames until the parent closes stdin. Stdout carries
// frames only, so logs go to stderr.
func runWorker() error {
	cfg := config.LoadWorkerConfig()

	logger, closer, err := observability.NewLogger(cfg.LogLevel, "", os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(logger.With("pid", os.Getpid()))

	delegate, release, err := newDelegate(cfg.Executor, cfg.AuroraCmd, cfg.DockerImage)
	if err != nil {
		return err
	}
	defer release()

	// Ctrl-C reaches the whole process group; the parent decides when workers stop.
	signal.Ignore(syscall.SIGINT)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	slog.Debug("Worker started", "executor", cfg.Executor)
	return worker.Serve(ctx, os.Stdin, os.Stdout, delegate)
}

func run(configPath string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, logCloser, err := observability.NewLogger(cfg.LogLevel, cfg.LogFile, os.Stdout)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	strategy, err := executor.ParseStrategy(cfg.Concurrency)
	if err != nil {
		return err
	}

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(context.Background())
	if err != nil {
		return err
	}

	delegate, release, err := newDelegate(cfg.Executor, cfg.AuroraCmd, cfg.DockerImage)
	if err != nil {
		return err
	}
	defer release()

	exec, err := executor.New(executor.Config{
		Strategy:   strategy,
		MaxWorkers: cfg.Parallel,
		MaxPending: cfg.MaxPending,
		WorkerEnv:  cfg.WorkerEnv(),
	}, delegate, metrics)
	if err != nil {
		return err
	}

	healthChecker := health.NewChecker(exec)

	router := api.NewRouter(api.RouterConfig{
		Executor:      exec,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		URLPrefix:     cfg.URLPrefix,
		APIKey:        cfg.APIKey,
		RateLimit:     cfg.RateLimit,
		RateBurst:     cfg.RateBurst,
	})

	if cfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no api_key_file configured")
	}

	// No write timeout: aurora operations can take minutes.
	apiServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var metricsServer *http.Server
	if addr := cfg.MetricsAddr(); addr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", metricsHandler)
		metricsServer = &http.Server{
			Addr:         addr,
			Handler:      metricsMux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting API server", "addr", apiServer.Addr, "prefix", cfg.URLPrefix, "concurrency", strategy)
		return listen(apiServer)
	})
	if metricsServer != nil {
		g.Go(func() error {
			slog.Info("Starting metrics server", "addr", metricsServer.Addr)
			return listen(metricsServer)
		})
	}

	g.Go(func() error {
		<-gctx.Done()

		if ctx.Err() != nil {
			slog.Info("Received shutdown signal")

			// Phase 1: fail readiness so load balancers stop sending traffic
			healthChecker.SetShuttingDown()
			if cfg.ShutdownDrainWait > 0 {
				slog.Info("Waiting for traffic to drain", "duration", cfg.ShutdownDrainWait)
				time.Sleep(cfg.ShutdownDrainWait)
			}
		}

		// Phase 2: stop accepting connections and finish in-flight requests
		slog.Info("Starting graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("API server shutdown error", "error", err)
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("Metrics server shutdown error", "error", err)
			}
		}

		// Phase 3: finish queued operations and stop workers
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer closeCancel()
		if err := exec.Close(closeCtx); err != nil {
			slog.Warn("Executor shutdown error", "error", err)
		}

		stats := exec.Stats()
		slog.Info("Executor stats",
			"strategy", stats.Strategy,
			"completed", stats.Completed,
			"failed", stats.Failed,
			"rejected", stats.Rejected,
			"restarts", stats.Restarts,
		)
		slog.Info("Shutdown complete")
		return nil
	})

	return g.Wait()
}

// listen serves until the server is shut down. http.ErrServerClosed is not an error.
func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", srv.Addr, err)
	}
	return nil
}
