package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hivemark/hivesync"
	"github.com/hivemark/hivesync/config"
	"github.com/hivemark/hivesync/logging"
	"github.com/hivemark/hivesync/metrics"
	"github.com/hivemark/hivesync/storage/sqlite"
	"github.com/hivemark/hivesync/transport/httptransport"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hivesync",
		Short:         "Offline-first sync agent for hivemark field devices",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default ~/.config/hivesync/config.yaml)")

	root.AddCommand(newSyncCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newDaemonCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.Log)
	return cfg, nil
}

// bearerTransport injects the auth token into every request.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.token != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.base.RoundTrip(req)
}

func openStore(cfg *config.Config) (*sqlite.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return sqlite.New(&sqlite.Config{
		DataSourceName: cfg.DatabasePath,
		EnableWAL:      true,
		Logger:         logging.Default(),
	})
}

func buildEngine(cfg *config.Config, collector metrics.Collector) (*hivesync.Engine, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Timeout: cfg.HTTP.Timeout,
		Transport: &bearerTransport{
			token: cfg.AuthToken,
			base:  http.DefaultTransport,
		},
	}
	transport, err := httptransport.New(cfg.ServerURL,
		httptransport.WithHTTPClient(httpClient),
		httptransport.WithMaxResponseBytes(cfg.HTTP.MaxResponseBytes),
		httptransport.WithGzipMinBytes(cfg.HTTP.GzipMinBytes),
		httptransport.WithLogger(logging.Default()),
	)
	if err != nil {
		store.Close()
		return nil, err
	}

	engine, err := hivesync.NewBuilder().
		WithStore(store).
		WithTransport(transport).
		WithConnectivity(probeConnectivity(cfg.ServerURL, httpClient)).
		WithRetryPolicy(hivesync.RetryPolicy{
			MaxRetries: *cfg.Retry.MaxRetries,
			Delay:      cfg.Retry.Delay,
		}).
		WithDebounceWindow(cfg.DebounceWindow).
		WithLogger(logging.Default()).
		WithMetrics(collector).
		Build()
	if err != nil {
		transport.Close()
		store.Close()
		return nil, err
	}
	return engine, nil
}

// probeConnectivity treats a reachable server as "online". The agent
// has no OS-level network signal, so a cheap HEAD probe stands in.
func probeConnectivity(serverURL string, client *http.Client) hivesync.Connectivity {
	return hivesync.ConnectivityFunc(func() bool {
		req, err := http.NewRequest(http.MethodHead, serverURL, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	})
}
