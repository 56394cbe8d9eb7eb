package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"glycopaint/pkg/generate"
	"glycopaint/pkg/store"
)

type squaresOptions struct {
	experiment bool
	force      bool
	workers    int
	db         string
	heatmaps   bool

	nrSquares       int
	neighbourMode   string
	minRSquared     float64
	minDensityRatio float64
	maxVariability  float64
	minTracks       int
}

func squaresCmd() *cobra.Command {
	var opts squaresOptions
	cmd := &cobra.Command{
		Use:   "squares <project-or-experiment-dir>",
		Short: "Generate the squares of every recording in a project or experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSquares(cmd, args[0], opts)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.experiment, "experiment", false, "Treat the directory as a single experiment")
	f.BoolVar(&opts.force, "force", false, "Reprocess experiments whose squares are up to date")
	f.IntVar(&opts.workers, "workers", 0, "Recordings processed in parallel")
	f.StringVar(&opts.db, "db", "", "Run ledger database")
	f.BoolVar(&opts.heatmaps, "heatmaps", false, "Write a heatmap per recording")
	f.IntVar(&opts.nrSquares, "nr-squares", 0, "Number of squares in a row")
	f.StringVar(&opts.neighbourMode, "neighbour-mode", "", "Neighbour mode: Free, Strict or Relaxed")
	f.Float64Var(&opts.minRSquared, "min-r-squared", 0, "Minimum allowable R squared")
	f.Float64Var(&opts.minDensityRatio, "min-density-ratio", 0, "Minimum required density ratio")
	f.Float64Var(&opts.maxVariability, "max-variability", 0, "Maximum allowable variability")
	f.IntVar(&opts.minTracks, "min-tracks", 0, "Minimum number of tracks for Tau")
	return cmd
}

// applyOverrides copies the flags set on the command line into the configuration
func applyOverrides(cmd *cobra.Command, opts squaresOptions) error {
	f := cmd.Flags()
	gs := &cfg.GenerateSquares
	if f.Changed("force") {
		cfg.Processing.Force = opts.force
	}
	if f.Changed("workers") {
		cfg.Processing.Workers = opts.workers
	}
	if f.Changed("db") {
		cfg.Output.Database = opts.db
	}
	if f.Changed("heatmaps") {
		cfg.Output.SaveHeatmaps = opts.heatmaps
	}
	if f.Changed("nr-squares") {
		gs.NrOfSquaresInRow = opts.nrSquares
	}
	if f.Changed("neighbour-mode") {
		gs.NeighbourMode = opts.neighbourMode
	}
	if f.Changed("min-r-squared") {
		gs.MinAllowableRSquared = opts.minRSquared
	}
	if f.Changed("min-density-ratio") {
		gs.MinRequiredDensityRatio = opts.minDensityRatio
	}
	if f.Changed("max-variability") {
		gs.MaxAllowableVariability = opts.maxVariability
	}
	if f.Changed("min-tracks") {
		gs.MinTracksForTau = opts.minTracks
	}
	return cfg.Validate()
}

func runSquares(cmd *cobra.Command, dir string, opts squaresOptions) error {
	if err := applyOverrides(cmd, opts); err != nil {
		return err
	}
	params, err := generate.ParamsFromConfig(cfg)
	if err != nil {
		return err
	}

	genOpts := []generate.Option{}
	if cfg.Output.Database != "" {
		ledger, err := store.Open(cfg.Output.Database)
		if err != nil {
			return err
		}
		defer ledger.Close()
		genOpts = append(genOpts, generate.WithRecorder(ledger))
	}

	g := generate.New(params, logger, genOpts...)
	ctx := cmd.Context()
	if opts.experiment {
		es, err := g.ProcessExperiment(ctx, dir)
		if err != nil {
			return err
		}
		if es.Skipped {
			fmt.Printf("%s is up to date, use --force to reprocess\n", es.Name)
			return nil
		}
		fmt.Printf("%s: %d of %d recordings processed in %s\n", es.Name, es.Processed, es.Recordings, es.Elapsed.Round(time.Millisecond))
		return nil
	}

	summary, err := g.ProcessProject(ctx, dir)
	fmt.Printf("Experiments: %d processed, %d up to date, %d failed\n", summary.Processed, summary.Skipped, summary.Failed)
	fmt.Printf("Recordings processed: %d in %s\n", summary.Recordings, summary.Elapsed.Round(time.Millisecond))
	if err != nil {
		logger.Debug("Project finished with errors", zap.Error(err))
		return fmt.Errorf("%d experiment(s) failed: %w", summary.Failed, err)
	}
	return nil
}
