package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/landcover/internal/export"
	"github.com/sells-group/landcover/internal/fetcher"
	"github.com/sells-group/landcover/internal/pipeline"
	"github.com/sells-group/landcover/internal/resilience"
	"github.com/sells-group/landcover/internal/scene"
)

var (
	classifyYear    int
	classifyStart   string
	classifyEnd     string
	classifySeed    uint64
	classifyAOI     string
	classifyRegions []string
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Run the land-cover classification pipeline",
	Long:  "Fetches and masks scenes, builds the median composite, trains the random forest and exports the classified map for every configured region.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyClassifyFlags(cmd)
		if err := cfg.Validate("classify"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		params, err := pipeline.ParamsFromConfig(cfg)
		if err != nil {
			return err
		}

		sink := &export.FileSink{Dir: cfg.Export.Dir}
		p := pipeline.New(cfg, st, newSource(), sink)

		out, err := p.Run(ctx, params)
		if err != nil {
			if out != nil {
				return eris.Wrapf(err, "classify run %s", out.RunID)
			}
			return eris.Wrap(err, "classify")
		}

		res := out.Result
		zap.L().Info("classification complete",
			zap.String("run_id", out.RunID),
			zap.Int("scenes", res.Scenes),
			zap.Int("classified_pixels", res.ClassifiedPixels),
			zap.Int("failed_exports", res.FailedExports()),
		)

		for _, e := range res.Exports {
			line := fmt.Sprintf("%-14s %-22s %s", e.Region, e.Description, e.Status)
			if e.Error != "" {
				line += "  " + e.Error
			}
			fmt.Fprintln(os.Stdout, line)
		}
		return nil
	},
}

// applyClassifyFlags overrides the run section with any flags the user set.
func applyClassifyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("year") {
		cfg.Run.Year = classifyYear
		if !flags.Changed("start") && !flags.Changed("end") {
			cfg.Run.Start = fmt.Sprintf("%d-01-01", classifyYear)
			cfg.Run.End = fmt.Sprintf("%d-12-31", classifyYear)
		}
	}
	if flags.Changed("start") {
		cfg.Run.Start = classifyStart
	}
	if flags.Changed("end") {
		cfg.Run.End = classifyEnd
	}
	if flags.Changed("seed") {
		cfg.Run.Seed = classifySeed
	}
	if flags.Changed("aoi") {
		cfg.Run.AOI = classifyAOI
	}
	if flags.Changed("regions") {
		regions := make([]string, 0, len(classifyRegions))
		for _, r := range classifyRegions {
			if r = strings.TrimSpace(r); r != "" {
				regions = append(regions, r)
			}
		}
		cfg.Run.Regions = regions
	}
}

// newSource builds the scene catalog with the configured retry policy.
func newSource() scene.Source {
	timeout := time.Duration(cfg.Source.TimeoutSecs) * time.Second
	mux := fetcher.NewMux(
		fetcher.HTTPOptions{UserAgent: cfg.Source.UserAgent, Timeout: timeout},
		fetcher.FTPOptions{Timeout: timeout},
	)
	catalog := scene.NewCatalog(cfg.Source.Catalog, cfg.Source.CacheDir, mux)

	r := cfg.Source.Retry
	return scene.NewRetrying(catalog, resilience.FromRetryConfig(
		r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction,
	))
}

func init() {
	classifyCmd.Flags().IntVar(&classifyYear, "year", 0, "processing year (sets start/end to the calendar year unless given)")
	classifyCmd.Flags().StringVar(&classifyStart, "start", "", "first acquisition date (YYYY-MM-DD)")
	classifyCmd.Flags().StringVar(&classifyEnd, "end", "", "last acquisition date, inclusive (YYYY-MM-DD)")
	classifyCmd.Flags().Uint64Var(&classifySeed, "seed", 0, "split and forest seed")
	classifyCmd.Flags().StringVar(&classifyAOI, "aoi", "", "stored region used as the area of interest")
	classifyCmd.Flags().StringSliceVar(&classifyRegions, "regions", nil, "comma-separated export regions")
	rootCmd.AddCommand(classifyCmd)
}
