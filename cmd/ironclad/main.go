package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alejandrodnm/ironclad/config"
	"github.com/alejandrodnm/ironclad/internal/adapters/notify"
	"github.com/alejandrodnm/ironclad/internal/adapters/odds"
	"github.com/alejandrodnm/ironclad/internal/adapters/storage"
	"github.com/alejandrodnm/ironclad/internal/picks"
	"github.com/alejandrodnm/ironclad/internal/ports"
	"github.com/alejandrodnm/ironclad/internal/runner"
	"github.com/spf13/cobra"
)

// Exit code del guardrail cuando el board no pasa.
const exitGuardrailFail = 2

// exitError termina el proceso con un código concreto sin imprimir nada más.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

var (
	configPath string
	verbose    bool
	logFormat  string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ironclad",
	Short: "Sports-betting picks: synthesize, size, check exposure, replay",
	Long: `ironclad turns a board of book quotes into graded picks, sizes them into a
bounded portfolio and verifies the result against hierarchical exposure caps.
Every run is recorded in a SQLite ledger with per-stage snapshots so it can be
replayed and diffed later.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			loaded.Log.Level = "debug"
		}
		if logFormat != "" {
			loaded.Log.Format = logFormat
		}
		cfg = loaded
		setupLogger(cfg.Log)
		slog.Debug("config loaded", "path", configPath, "profile", cfg.Profile, "dsn", cfg.Storage.DSN, "demo", cfg.Odds.Demo)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "set log level to debug")
	rootCmd.PersistentFlags().StringVar(&logFormat, "format", "", "log format: text|json (overrides config)")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()

	var exit exitError
	switch {
	case errors.As(err, &exit):
		os.Exit(exit.code)
	case err != nil:
		slog.Error("ironclad failed", "err", err)
		os.Exit(1)
	}
}

// openLedger abre el ledger configurado.
func openLedger() (*storage.SQLiteStorage, error) {
	if dir := dirOf(cfg.Storage.DSN); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	return storage.NewSQLiteStorage(cfg.Storage.DSN)
}

// boardProvider elige el board real o el de demo según la configuración.
func boardProvider() ports.BoardProvider {
	if cfg.Odds.Demo {
		return odds.Fixture{}
	}
	timeout := time.Duration(cfg.Odds.TimeoutSeconds) * time.Second
	return odds.NewClient(cfg.Odds.BaseURL, cfg.Odds.APIKey, odds.WithHTTPClient(&http.Client{Timeout: timeout}))
}

// runnerConfig traduce la configuración al pipeline.
func runnerConfig() runner.Config {
	rc := runner.DefaultConfig()
	rc.Policy = picks.Policy{
		Markets: cfg.GradingMarkets(),
		Thresholds: picks.Thresholds{
			A: cfg.Grading.Thresholds.A,
			B: cfg.Grading.Thresholds.B,
			C: cfg.Grading.Thresholds.C,
		},
		KellyByGrade: cfg.KellyByGrade(),
		Model:        picks.FixedEdge(cfg.Grading.Edge),
	}
	rc.Filter = picks.FilterConfig{
		Markets:     cfg.PreslateMarkets(),
		Books:       cfg.Preslate.Books,
		MaxAbsPrice: cfg.Preslate.MaxAbsPrice,
	}
	rc.Sizing = cfg.Sizing
	rc.Caps = cfg.Caps
	return rc
}

func newConsole() *notify.Console {
	return notify.NewConsole()
}

// dirOf devuelve el directorio a crear para dsn, o "" si no hace falta.
func dirOf(dsn string) string {
	if dsn == ":memory:" {
		return ""
	}
	if dir := filepath.Dir(dsn); dir != "." {
		return dir
	}
	return ""
}

// setupLogger escribe a stderr: stdout queda para tablas y JSON.
func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
