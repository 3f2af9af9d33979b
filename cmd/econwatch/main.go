package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rewired-gh/econwatch/internal/bls"
	"github.com/rewired-gh/econwatch/internal/catalog"
	"github.com/rewired-gh/econwatch/internal/config"
	"github.com/rewired-gh/econwatch/internal/credential"
	"github.com/rewired-gh/econwatch/internal/discord"
	"github.com/rewired-gh/econwatch/internal/httpserver"
	"github.com/rewired-gh/econwatch/internal/logger"
	"github.com/rewired-gh/econwatch/internal/metrics"
	"github.com/rewired-gh/econwatch/internal/monitor"
	"github.com/rewired-gh/econwatch/internal/storage"
	"github.com/rewired-gh/econwatch/internal/telegram"
)

var (
	configPath   = flag.String("config", "configs/config.yaml", "Path to configuration file")
	notifyLatest = flag.Bool("notify-latest", false, "Send the most recent stored event through the configured notifier and exit")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Setup logging with level support
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()
	logger.Info("Configuration loaded from %s", *configPath)

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize storage
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()
	logger.Info("Event store ready (driver: %s)", cfg.Storage.Driver)

	cat := catalog.FromConfig(cfg.Catalog)

	notifier, err := newNotifier(cfg, cat)
	if err != nil {
		logger.Fatal("Failed to initialize %s notifier: %v", cfg.Notifier.Type, err)
	}

	if *notifyLatest {
		code := runNotifyLatest(ctx, store, notifier)
		_ = store.Close()
		logger.Sync()
		os.Exit(code)
	}

	apiKey, err := credential.GetAPIKey(credential.Source{
		EnvFile: cfg.BLS.EnvFile,
		EnvVar:  cfg.BLS.APIKeyEnv,
		File:    cfg.BLS.APIKeyFile,
	})
	if err != nil {
		logger.Fatal("Failed to load BLS API key: %v", err)
	}

	// Initialize BLS client
	blsClient := bls.NewClient(cfg.BLS.APIURL, apiKey, bls.ClientConfig{
		Timeout:        cfg.BLS.Timeout,
		MaxRetries:     cfg.BLS.MaxRetries,
		RetryDelayBase: cfg.BLS.RetryDelayBase,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	if cfg.Server.Enabled {
		srv := httpserver.New(cfg.Server.ListenAddress, httpserver.NewRouter(store, registry))
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("Status API stopped: %v", err)
			}
		}()
	}

	// Notifiers apply their own request timeout; the runner bound sits above it.
	runner := monitor.NewRunner(monitor.RunnerConfig{
		Fetcher:       blsClient,
		Store:         store,
		Notifier:      notifier,
		Builder:       monitor.NewBuilder(store, cat),
		Metrics:       m,
		SeriesIDs:     cfg.BLS.Series,
		Interval:      cfg.BLS.PollInterval,
		NotifyTimeout: 2 * max(cfg.Discord.Timeout, cfg.Telegram.Timeout),
	})

	logger.Info("Starting economic data monitor (interval: %v, series: %v, notifier: %s)",
		cfg.BLS.PollInterval, cfg.BLS.Series, cfg.Notifier.Type)

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Monitor stopped: %v", err)
	}
	logger.Info("Service stopped")
}

func newNotifier(cfg *config.Config, cat *catalog.Catalog) (monitor.Notifier, error) {
	switch cfg.Notifier.Type {
	case "discord":
		return discord.NewClient(cfg.Discord.WebhookURL, cfg.Discord.Timeout, cat), nil
	case "telegram":
		client, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.Timeout, cat)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		logger.Warn("Notifications disabled, events will only be logged")
		return monitor.LogNotifier{}, nil
	}
}

func runNotifyLatest(ctx context.Context, store storage.EventStore, notifier monitor.Notifier) int {
	event, err := monitor.NotifyLatest(ctx, store, notifier)
	if errors.Is(err, monitor.ErrNoEvent) {
		logger.Error("No events found in the store to send")
		return 1
	}
	if event == nil {
		logger.Error("Failed to read latest event: %v", err)
		return 1
	}
	if err != nil {
		logger.Error("Failed to send notification for %s: %v", event.Key(), err)
		return 1
	}
	logger.Info("Notification sent for %s", event.Description)
	return 0
}
