package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/alejandrodnm/ironclad/internal/adapters/csvboard"
	"github.com/alejandrodnm/ironclad/internal/domain"
	"github.com/alejandrodnm/ironclad/internal/portfolio"
	"github.com/alejandrodnm/ironclad/internal/runner"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func init() {
	rootCmd.AddCommand(newRunCmd(), newReplayCmd(), newSizeCmd())
}

func newRunCmd() *cobra.Command {
	var (
		season, week int
		profile      string
		demo         bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch the board, synthesize and size picks, check exposure",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if season <= 0 || week <= 0 {
				return errors.New("run: --season and --week are required")
			}
			if err := domain.ValidateSlate(season, week); err != nil {
				return fmt.Errorf("run: %w", err)
			}
			if demo {
				cfg.Odds.Demo = true
			}
			if profile == "" {
				profile = cfg.Profile
			}

			ledger, err := openLedger()
			if err != nil {
				return err
			}
			defer ledger.Close()

			rc := runner.NewContext(season, week, profile, nil)
			slog.Info("starting run", "run_id", rc.RunID, "season", season, "week", week, "demo", cfg.Odds.Demo)

			res, err := runner.New(runnerConfig(), ledger, boardProvider(), newConsole()).Run(cmd.Context(), rc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d picks, %.2fu\n", rc.RunID, len(res.Sized), res.Summary.TotalU)
			return nil
		},
	}
	cmd.Flags().IntVar(&season, "season", 0, "season (e.g. 2025)")
	cmd.Flags().IntVar(&week, "week", 0, "week number")
	cmd.Flags().StringVar(&profile, "profile", "", "profile name (default from config)")
	cmd.Flags().BoolVar(&demo, "demo", false, "use the built-in demo board instead of the odds API")
	return cmd
}

func newReplayCmd() *cobra.Command {
	var runID, profile string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-run a recorded run from its stage snapshots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if runID == "" {
				return errors.New("replay: --run is required")
			}
			ledger, err := openLedger()
			if err != nil {
				return err
			}
			defer ledger.Close()

			// Solo si falta el snapshot de harvest se vuelve a pedir el board.
			res, err := runner.New(runnerConfig(), ledger, boardProvider(), newConsole()).Replay(cmd.Context(), runID, profile)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replay %s of %s: %d picks, %.2fu\n", res.Context.RunID, runID, len(res.Sized), res.Summary.TotalU)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id to replay")
	cmd.Flags().StringVar(&profile, "profile", "", "profile for the new run (default: source run's)")
	return cmd
}

func newSizeCmd() *cobra.Command {
	var runID, in, out string
	cmd := &cobra.Command{
		Use:   "size",
		Short: "Size picks into a bounded portfolio",
		Long: `size re-sizes the picks of a recorded run into a new run (--run), or sizes a
CSV pick board into a new CSV file (--in/--out). Sizing flags override the
configured values.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sizing, err := sizingFromFlags(cmd.Flags(), cfg.Sizing)
			if err != nil {
				return err
			}
			switch {
			case runID != "":
				return resizeRun(cmd, runID, sizing)
			case in != "" && out != "":
				return sizeCSV(in, out, sizing)
			default:
				return errors.New("size: use --run, or --in with --out")
			}
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id whose picks are re-sized into a new run")
	cmd.Flags().StringVar(&in, "in", "", "input CSV pick board")
	cmd.Flags().StringVar(&out, "out", "", "output CSV with stake_units filled in")
	addSizingFlags(cmd.Flags())
	return cmd
}

func resizeRun(cmd *cobra.Command, runID string, sizing domain.SizingConfig) error {
	ledger, err := openLedger()
	if err != nil {
		return err
	}
	defer ledger.Close()

	res, err := runner.New(runnerConfig(), ledger, nil, nil).Resize(cmd.Context(), runID, sizing)
	if err != nil {
		return err
	}
	console := newConsole()
	if err := console.Board("Sized picks "+res.Context.RunID, res.Sized); err != nil {
		return err
	}
	if err := console.Guardrail(res.Exposure); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "resized %s into %s: %.2fu\n", runID, res.Context.RunID, res.Summary.TotalU)
	return nil
}

func sizeCSV(in, out string, sizing domain.SizingConfig) error {
	f, err := os.Open(in)
	if err != nil {
		return fmt.Errorf("size: open %q: %w", in, err)
	}
	board, err := csvboard.Read(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("size: %s: %w", in, err)
	}

	sized, err := portfolio.SizePortfolio(board, sizing)
	if err != nil {
		return err
	}

	w, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("size: create %q: %w", out, err)
	}
	if err := csvboard.Write(w, sized); err != nil {
		w.Close()
		return fmt.Errorf("size: write %q: %w", out, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("size: close %q: %w", out, err)
	}

	var total float64
	for _, p := range sized {
		total += p.StakeUnits
	}
	slog.Info("portfolio sized", "in", in, "out", out, "picks", len(sized), "total_u", total)
	return nil
}

// addSizingFlags registra los overrides del sizer; sin flag se usa la config.
func addSizingFlags(fs *pflag.FlagSet) {
	fs.Float64("bankroll", 0, "bankroll in units")
	fs.Float64("kelly-scale", 0, "fractional Kelly multiplier")
	fs.Float64("max-per-bet", 0, "cap per bet in units")
	fs.Float64("max-per-game", 0, "cap per game in units")
	fs.Float64("max-total", 0, "cap for the whole portfolio in units")
}

// sizingFromFlags aplica sobre base solo los flags que el usuario pasó.
func sizingFromFlags(fs *pflag.FlagSet, base domain.SizingConfig) (domain.SizingConfig, error) {
	targets := map[string]*float64{
		"bankroll":     &base.BankrollUnits,
		"kelly-scale":  &base.KellyScale,
		"max-per-bet":  &base.MaxPerBetU,
		"max-per-game": &base.MaxPerGameU,
		"max-total":    &base.MaxTotalU,
	}
	var err error
	fs.Visit(func(f *pflag.Flag) {
		dst, ok := targets[f.Name]
		if !ok || err != nil {
			return
		}
		*dst, err = fs.GetFloat64(f.Name)
	})
	if err != nil {
		return base, fmt.Errorf("size: sizing flags: %w", err)
	}
	return base, nil
}
