// Command blsprobe fetches the configured series once and prints what the
// monitor would see, marking observations the event store has not recorded.
// It never writes to the store or sends notifications.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/rewired-gh/econwatch/internal/bls"
	"github.com/rewired-gh/econwatch/internal/catalog"
	"github.com/rewired-gh/econwatch/internal/config"
	"github.com/rewired-gh/econwatch/internal/credential"
	"github.com/rewired-gh/econwatch/internal/logger"
	"github.com/rewired-gh/econwatch/internal/models"
	"github.com/rewired-gh/econwatch/internal/storage"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	years      = flag.Int("years", 2, "Number of years to request, ending with the current year")
	withStore  = flag.Bool("store", true, "Compare against the configured event store")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	// Never notifies, so notifier credentials are not required
	if err := cfg.ValidateFetch(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()

	apiKey, err := credential.GetAPIKey(credential.Source{
		EnvFile: cfg.BLS.EnvFile,
		EnvVar:  cfg.BLS.APIKeyEnv,
		File:    cfg.BLS.APIKeyFile,
	})
	if err != nil {
		logger.Fatal("Failed to load BLS API key: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client := bls.NewClient(cfg.BLS.APIURL, apiKey, bls.ClientConfig{
		Timeout:        cfg.BLS.Timeout,
		MaxRetries:     cfg.BLS.MaxRetries,
		RetryDelayBase: cfg.BLS.RetryDelayBase,
	})

	endYear := time.Now().Year()
	startYear := endYear - max(*years, 1) + 1
	snapshots, err := client.Fetch(ctx, cfg.BLS.Series, startYear, endYear)
	if err != nil {
		logger.Fatal("Failed to fetch data: %v", err)
	}

	var store storage.EventStore
	if *withStore {
		store, err = storage.Open(ctx, cfg.Storage)
		if err != nil {
			logger.Fatal("Failed to open event store: %v", err)
		}
		defer store.Close()
	}

	printSnapshots(ctx, catalog.FromConfig(cfg.Catalog), snapshots, store, startYear, endYear)
}

func printSnapshots(ctx context.Context, cat *catalog.Catalog, snapshots map[string]*models.SeriesSnapshot, store storage.EventStore, startYear, endYear int) {
	fmt.Printf("\nBLS series %d-%d\n", startYear, endYear)
	fmt.Println(strings.Repeat("=", 80))

	ids := make([]string, 0, len(snapshots))
	for id := range snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		fmt.Printf("\n  %s (%s)\n", cat.DisplayName(id), id)
		snap := snapshots[id]
		if snap == nil {
			fmt.Println("    No data returned")
			continue
		}

		latest := snap.Latest
		fmt.Printf("    Latest:   %s %s (%s) = %s\n", latest.Year, latest.Period, latest.PeriodName, latest.Value)
		if snap.Previous != nil {
			fmt.Printf("    Previous: %s %s (%s) = %s\n", snap.Previous.Year, snap.Previous.Period, snap.Previous.PeriodName, snap.Previous.Value)
		}
		for _, fn := range latest.Footnotes {
			fmt.Printf("    Footnote: %s %s\n", fn.Code, fn.Text)
		}
		fmt.Printf("    Expected: %s\n", cat.Expected(id))

		if store == nil {
			continue
		}
		if latest.SeriesID == "" {
			latest.SeriesID = id
		}
		exists, err := store.Exists(ctx, latest.Key())
		switch {
		case err != nil:
			fmt.Printf("    Store:    check failed: %v\n", err)
		case exists:
			fmt.Println("    Store:    already recorded")
		default:
			fmt.Println("    Store:    NEW, would be notified on the next cycle")
		}
	}
	fmt.Println()
}
