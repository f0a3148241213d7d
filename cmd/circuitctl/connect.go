package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vango-dev/circuit/internal/config"
	"github.com/vango-dev/circuit/pkg/circuit"
	"github.com/vango-dev/circuit/pkg/interop"
	"github.com/vango-dev/circuit/pkg/renderqueue"
	"github.com/vango-dev/circuit/pkg/telemetry"
)

func connectCmd(load func() (*config.Config, error)) *cobra.Command {
	var (
		serviceURL  string
		circuits    []string
		metricsAddr string
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:   "connect [base-url]",
		Short: "Connect to a circuit server and stay connected",
		Long: `Connect to a circuit server as a headless client.

Pre-rendered circuit ids come from --circuit or the config file; with
none, a new circuit is created. Render batches are acknowledged in
order and logged. Dropped connections are retried according to the
reconnect policy. Press Ctrl-C to disconnect.

Examples:
  circuitctl connect http://localhost:5000/
  circuitctl connect --service=ws://localhost:5000/_blazor --circuit=abc
  circuitctl connect --metrics=localhost:9090`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			if len(args) == 1 {
				cfg.BaseURL = args[0]
			}
			if serviceURL != "" {
				cfg.ServiceURL = serviceURL
			}
			if len(circuits) > 0 {
				cfg.Circuits = circuits
			}
			if metricsAddr != "" {
				cfg.Metrics.Addr = metricsAddr
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runConnect(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&serviceURL, "service", "", "Hub endpoint, absolute or relative to the base URL")
	cmd.Flags().StringSliceVar(&circuits, "circuit", nil, "Pre-rendered circuit id (repeatable)")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "Serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	return cmd
}

func runConnect(ctx context.Context, cfg *config.Config) error {
	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	logger := opts.Logger

	registry := prometheus.NewRegistry()
	opts.Metrics = telemetry.NewMetrics(
		telemetry.WithNamespace(cfg.Metrics.Namespace),
		telemetry.WithRegistry(registry),
	)
	opts.Tracer = telemetry.NewTracer()

	opts.Applier = renderqueue.ApplierFunc(func(rendererID, batchID int64, data []byte) error {
		logger.Info("render batch", "renderer_id", rendererID, "batch_id", batchID, "bytes", len(data))
		return nil
	})
	opts.Interop = interop.HandlerFunc(func(_ context.Context, args []any) {
		logger.Info("JS invocation", "args", args)
	})
	opts.Observers = append(opts.Observers, circuit.ObserverFuncs{
		Up: func() { success("Connected") },
		Down: func(err error) {
			if err != nil {
				warn("Connection lost: %v", err)
				return
			}
			warn("Connection closed")
		},
	})

	ctrl, err := circuit.New(opts)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	if cfg.Metrics.Addr != "" {
		srv := metricsServer(cfg.Metrics.Addr, registry, logger)
		defer shutdown(srv)
		info("Metrics on http://%s/metrics", cfg.Metrics.Addr)
	}

	info("Connecting to %s", ctrl.ServiceURL())
	if err := ctrl.Start(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if ctrl.State().RenderingFailed() {
			errorMsg("Rendering failed; see the log for the cause")
			return errors.New("circuit session failed")
		}
		select {
		case <-ctx.Done():
			info("Disconnecting from circuit %s", ctrl.CircuitID())
			return nil
		case <-ticker.C:
		}
	}
}

func metricsServer(addr string, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()
	return srv
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
