package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/landcover/internal/fetcher"
	"github.com/sells-group/landcover/internal/geo"
	"github.com/sells-group/landcover/internal/model"
	"github.com/sells-group/landcover/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "landcover.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// readFeatures reads a local vector file or downloads a remote one.
func readFeatures(ctx context.Context, location string, srid int) ([]geo.Feature, error) {
	if !fetcher.IsRemote(location) {
		return geo.ReadFile(location, srid)
	}
	timeout := time.Duration(cfg.Source.TimeoutSecs) * time.Second
	mux := fetcher.NewMux(
		fetcher.HTTPOptions{UserAgent: cfg.Source.UserAgent, Timeout: timeout},
		fetcher.FTPOptions{Timeout: timeout},
	)
	return geo.ReadRemote(ctx, mux, location, srid)
}

// openStore opens the configured store and applies migrations.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the run and geometry store",
}

var storeInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or upgrade the store schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		zap.L().Info("store migrated", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

var storeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show label counts and stored regions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		counts, err := st.CountLabels(ctx)
		if err != nil {
			return eris.Wrap(err, "store status")
		}
		regions, err := st.ListRegions(ctx)
		if err != nil {
			return eris.Wrap(err, "store status")
		}

		for _, c := range model.Classes {
			fmt.Fprintf(os.Stdout, "%-12s %d\n", c.String(), counts[c])
		}
		fmt.Fprintf(os.Stdout, "%-12s %d\n", "regions", len(regions))
		return nil
	},
}

func init() {
	storeCmd.AddCommand(storeInitCmd)
	storeCmd.AddCommand(storeStatusCmd)
	rootCmd.AddCommand(storeCmd)
}
