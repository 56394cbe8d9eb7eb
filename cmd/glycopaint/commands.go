package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"glycopaint/internal/fsutil"
	"glycopaint/pkg/compile"
	"glycopaint/pkg/config"
	"glycopaint/pkg/store"
)

func compileCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "compile <project-dir>",
		Short: "Concatenate the experiment tables of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := compile.Project(fsutil.OSFileSystem{}, args[0], output, logger)
			if err != nil {
				return err
			}
			fmt.Printf("Compiled %d experiments: %d recordings, %d squares, %d tracks\n",
				len(res.Experiments), res.Recordings, res.Squares, res.Tracks)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output directory (default: <project>/Output)")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file with the default values",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.CreateDefaultConfigFile(path); err != nil {
				return err
			}
			fmt.Printf("Default configuration written to %s\n", path)
			return nil
		},
	})
	return cmd
}

func runsCmd() *cobra.Command {
	var db string
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List the runs in the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if db == "" {
				db = cfg.Output.Database
			}
			if db == "" {
				return fmt.Errorf("no ledger configured, use --db")
			}
			ledger, err := store.Open(db)
			if err != nil {
				return err
			}
			defer ledger.Close()

			runs, err := ledger.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSTARTED\tDURATION\tPROCESSED\tROOT\tERROR")
			for _, r := range runs {
				duration := "-"
				if !r.FinishedAt.IsZero() {
					duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", r.RunID, r.StartedAt.Format(time.DateTime),
					duration, r.Processed, r.Root, r.Error)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "Run ledger database (default: output.database)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to list, 0 for all")
	return cmd
}
