package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/alejandrodnm/ironclad/internal/adapters/storage"
	"github.com/alejandrodnm/ironclad/internal/guardrail"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newGuardrailCmd(), newValidateCmd(), newQualityCmd())
}

// guardrail lee el ledger en solo lectura: si no existe, el board está vacío
// y el check falla cerrado con insufficient_picks.
func newGuardrailCmd() *cobra.Command {
	var (
		season, week int
		raw          bool
	)
	cmd := &cobra.Command{
		Use:   "guardrail",
		Short: "Check a week's board against the exposure caps",
		Long: `guardrail loads every sized pick of (season, week) from the ledger and checks
it against the configured exposure caps. The JSON report goes to stdout. The
exit code is 0 when the board passes and 2 when it does not.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if season <= 0 || week <= 0 {
				return errors.New("guardrail: --season and --week are required")
			}

			src := storage.FileBoardSource{Path: cfg.Storage.DSN}
			report, err := guardrail.CheckExposure(cmd.Context(), src, season, week, cfg.Caps, !raw)
			if err != nil {
				return err
			}

			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.OK {
				slog.Warn("guardrail failed", "season", season, "week", week, "violations", len(report.Violations))
				return exitError{code: exitGuardrailFail}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&season, "season", 0, "season")
	cmd.Flags().IntVar(&week, "week", 0, "week number")
	cmd.Flags().BoolVar(&raw, "raw", false, "check the unsized picks table instead of picks_sized")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var runA, runB string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check whether a challenger run can replace the production run",
		Long: `validate compares the sized picks of the challenger run (--b) with the
production run (--a): hard caps on the challenger alone, the exposure increase
over production, grade mix and price bounds, as configured under challenger.
The JSON report goes to stdout. The exit code is 2 when any check fails.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if runA == "" || runB == "" {
				return errors.New("validate: --a and --b are required")
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

			report := guardrail.ValidateChallenger(a, b, cfg.Challenger)
			report.RunA, report.RunB = runA, runB
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.OK {
				slog.Warn("challenger rejected", "a", runA, "b", runB, "violations", len(report.Violations))
				return exitError{code: exitGuardrailFail}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runA, "a", "", "production run id")
	cmd.Flags().StringVar(&runB, "b", "", "challenger run id")
	return cmd
}

func newQualityCmd() *cobra.Command {
	var season, week int
	cmd := &cobra.Command{
		Use:   "quality",
		Short: "Check freshness and line count of a week's latest harvest",
		Long: `quality reads the newest harvest snapshot of (season, week) from the ledger,
ignoring replays, and checks its age and number of board lines against the
quality section of the config. The JSON report goes to stdout. The exit code
is 2 when either check fails, including when there is no harvest at all.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if season <= 0 || week <= 0 {
				return errors.New("quality: --season and --week are required")
			}
			policy := cfg.Quality
			if f := cmd.Flags().Lookup("max-age"); f.Changed {
				policy.MaxAgeMinutes, _ = cmd.Flags().GetInt("max-age")
			}
			if f := cmd.Flags().Lookup("min-lines"); f.Changed {
				policy.MinLines, _ = cmd.Flags().GetInt("min-lines")
			}

			src := storage.FileBoardSource{Path: cfg.Storage.DSN}
			report, err := guardrail.CheckQuality(cmd.Context(), src, season, week, policy, time.Now())
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.OK {
				slog.Warn("harvest quality failed", "season", season, "week", week,
					"fresh", report.Freshness.OK, "quorum", report.Quorum.OK)
				return exitError{code: exitGuardrailFail}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&season, "season", 0, "season")
	cmd.Flags().IntVar(&week, "week", 0, "week number")
	cmd.Flags().Int("max-age", 0, "max harvest age in minutes (default: config quality.max_age_minutes)")
	cmd.Flags().Int("min-lines", 0, "min board lines (default: config quality.min_lines)")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
