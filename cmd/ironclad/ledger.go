package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/alejandrodnm/ironclad/internal/adapters/csvboard"
	"github.com/alejandrodnm/ironclad/internal/analytics"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newDiffCmd(), newRunsCmd(), newStatusCmd(), newExposureCmd(), newExportCmd())
}

func newDiffCmd() *cobra.Command {
	var runA, runB string
	var top int
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Compare the sized picks of two runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if runA == "" || runB == "" {
				return errors.New("diff: --a and --b are required")
			}
			ledger, err := openLedger()
			if err != nil {
				return err
			}
			defer ledger.Close()

			ctx := cmd.Context()
			for _, id := range []string{runA, runB} {
				if _, err := ledger.GetRun(ctx, id); err != nil {
					return err
				}
			}
			a, err := ledger.FetchPicks(ctx, runA, true)
			if err != nil {
				return err
			}
			b, err := ledger.FetchPicks(ctx, runB, true)
			if err != nil {
				return err
			}

			d := analytics.DiffRuns(a, b)
			newConsole().PrintDiff(runA, runB, d, analytics.ExposureDelta(a, b), top)
			return nil
		},
	}
	cmd.Flags().StringVar(&runA, "a", "", "base run id")
	cmd.Flags().StringVar(&runB, "b", "", "compared run id")
	cmd.Flags().IntVar(&top, "top", 10, "rows to show per section")
	return cmd
}

func newRunsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ledger, err := openLedger()
			if err != nil {
				return err
			}
			defer ledger.Close()

			runs, err := ledger.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			newConsole().PrintRuns(runs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show ledger counts and the latest run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ledger, err := openLedger()
			if err != nil {
				return err
			}
			defer ledger.Close()

			st, err := ledger.Status(cmd.Context())
			if err != nil {
				return err
			}
			newConsole().PrintStatus(cfg.Storage.DSN, st)
			return nil
		},
	}
}

func newExposureCmd() *cobra.Command {
	var runID, by string
	cmd := &cobra.Command{
		Use:   "exposure",
		Short: "Break down the stake of a run by team, market, book or game",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dim, err := analytics.ParseDimension(by)
			if err != nil {
				return err
			}
			ledger, err := openLedger()
			if err != nil {
				return err
			}
			defer ledger.Close()

			ctx := cmd.Context()
			if runID == "" {
				latest, err := ledger.LatestRun(ctx)
				if err != nil {
					return err
				}
				runID = latest.RunID
			}
			sized, err := ledger.FetchPicks(ctx, runID, true)
			if err != nil {
				return err
			}
			newConsole().PrintExposure(dim, analytics.ExposureBy(sized, dim))
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (default: latest run)")
	cmd.Flags().StringVar(&by, "by", string(analytics.ByTeam), "team|market|book|game")
	return cmd
}

func newExportCmd() *cobra.Command {
	var runID, out string
	var sized bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the picks of a run as a CSV pick board",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if runID == "" {
				return errors.New("export: --run is required")
			}
			ledger, err := openLedger()
			if err != nil {
				return err
			}
			defer ledger.Close()

			ctx := cmd.Context()
			if _, err := ledger.GetRun(ctx, runID); err != nil {
				return err
			}
			picks, err := ledger.FetchPicks(ctx, runID, sized)
			if err != nil {
				return err
			}

			if out == "" || out == "-" {
				return csvboard.Write(cmd.OutOrStdout(), picks)
			}
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("export: create %q: %w", out, err)
			}
			if err := csvboard.Write(f, picks); err != nil {
				f.Close()
				return fmt.Errorf("export: write %q: %w", out, err)
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id to export")
	cmd.Flags().StringVar(&out, "out", "-", "output file, - for stdout")
	cmd.Flags().BoolVar(&sized, "sized", true, "export picks_sized instead of raw picks")
	return cmd
}
