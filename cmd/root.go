package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-radar/internal/config"
	"github.com/sells-group/lead-radar/internal/plan"
	"github.com/sells-group/lead-radar/internal/propcache"
	"github.com/sells-group/lead-radar/internal/radar"
	"github.com/sells-group/lead-radar/internal/scoring"
	"github.com/sells-group/lead-radar/internal/upstream"
	"github.com/sells-group/lead-radar/internal/usage"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "lead-radar",
	Short: "Property scoring and lead generation for real estate teams",
	Long:  "Fetches parcel data per market, scores listings by equity, value gap, and sale recency, and bundles the best into exportable lead packs under plan quotas.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// env bundles the wired services behind the CLI commands.
type env struct {
	Cache *propcache.Cache
	Usage *usage.Service
	Radar *radar.Service

	store usage.Store
}

func (e *env) Close() {
	if e.store != nil {
		e.store.Close()
	}
}

// initEnv wires the upstream client, scorer, cache, usage store, and plan
// catalog from config.
func initEnv(ctx context.Context) (*env, error) {
	source := upstream.NewClient(cfg.Upstream)
	scorer := scoring.NewScorer(cfg.Scoring)
	cache := propcache.New(source, scorer, cfg.Cache.TTL(), cfg.Upstream.Timeout())

	store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}

	catalog, err := plan.LoadCatalog(cfg.Usage.CatalogPath, cfg.Usage.DefaultPlan)
	if err != nil {
		store.Close()
		return nil, err
	}

	var alerter usage.Alerter
	if wa := usage.NewWebhookAlerter(cfg.Usage.AlertWebhookURL); wa != nil {
		alerter = wa
	}
	usageSvc := usage.NewService(store, catalog, cfg.Usage.Enabled, alerter, cfg.Usage.AlertMinInterval())

	return &env{
		Cache: cache,
		Usage: usageSvc,
		Radar: radar.New(cache, usageSvc),
		store: store,
	}, nil
}

func openStore(ctx context.Context) (usage.Store, error) {
	switch cfg.Usage.Driver {
	case "", "sqlite":
		return usage.NewSQLite(cfg.Usage.DSN)
	case "postgres":
		return usage.NewPostgres(ctx, cfg.Usage.DSN)
	default:
		return nil, eris.Errorf("unsupported usage store driver %q", cfg.Usage.Driver)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
