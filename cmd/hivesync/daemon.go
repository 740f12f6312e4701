package main

import (
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hivemark/hivesync/logging"
	"github.com/hivemark/hivesync/metrics"
)

func newDaemonCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Keep syncing until interrupted",
		Long: "Runs an initial sync, then keeps the local database " +
			"reconciled on a fixed interval. Serves Prometheus metrics " +
			"when metrics_listen is configured.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var collector metrics.Collector = metrics.Noop{}
			if cfg.MetricsListen != "" {
				registry := prometheus.NewRegistry()
				collector = metrics.NewPrometheus(registry)
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
				go func() {
					if err := http.ListenAndServe(cfg.MetricsListen, mux); err != nil {
						logging.Default().Error("metrics server stopped", "error", err)
					}
				}()
			}

			engine, err := buildEngine(cfg, collector)
			if err != nil {
				return err
			}
			defer engine.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := logging.Default().WithComponent(logging.Component("daemon"))
			coordinator := engine.Coordinator()
			coordinator.OnSessionStart()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			logger.Info("daemon running", "interval", interval)

			for {
				select {
				case <-ctx.Done():
					logger.Info("shutting down")
					return nil
				case <-ticker.C:
					coordinator.SyncNow()
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute,
		"time between background sync cycles")
	return cmd
}
