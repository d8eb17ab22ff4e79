package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/alejandrodnm/ironclad/internal/domain"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa de ironclad.
type Config struct {
	Profile    string                  `yaml:"profile"`
	Odds       OddsConfig              `yaml:"odds"`
	Storage    StorageConfig           `yaml:"storage"`
	Log        LogConfig               `yaml:"log"`
	Preslate   PreslateConfig          `yaml:"preslate"`
	Grading    GradingConfig           `yaml:"grading"`
	Sizing     domain.SizingConfig     `yaml:"sizing"`
	Caps       domain.ExposureCaps     `yaml:"caps"`
	Challenger domain.ChallengerPolicy `yaml:"challenger"`
	Quality    domain.QualityPolicy    `yaml:"quality"`
}

// OddsConfig controla de dónde sale el board.
type OddsConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"-"`    // solo por entorno: ODDSAPI_KEY
	Demo           bool   `yaml:"demo"` // usa el board de demo, sin red
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// PreslateConfig filtra el board antes de generar picks.
type PreslateConfig struct {
	Markets     []string `yaml:"markets"`
	Books       []string `yaml:"books"`
	MaxAbsPrice int      `yaml:"max_abs_price"` // 0 = sin límite
}

// GradingConfig es la política del synthesizer.
type GradingConfig struct {
	Edge         float64            `yaml:"edge"`    // margen sumado a la prob. implícita
	Markets      []string           `yaml:"markets"` // mercados que generan picks
	Thresholds   ThresholdsConfig   `yaml:"thresholds"`
	KellyByGrade map[string]float64 `yaml:"kelly_by_grade"`
}

// ThresholdsConfig son los cortes de EV% por grade.
type ThresholdsConfig struct {
	A float64 `yaml:"a"`
	B float64 `yaml:"b"`
	C float64 `yaml:"c"`
}

// Default devuelve la configuración de referencia.
func Default() Config {
	return Config{
		Profile: "default",
		Odds:    OddsConfig{TimeoutSeconds: 10},
		Storage: StorageConfig{DSN: "out/ironclad.db"},
		Log:     LogConfig{Level: "info", Format: "text"},
		Preslate: PreslateConfig{
			Markets: []string{"ML", "ATS", "OU"},
		},
		Grading: GradingConfig{
			Edge:       0.02,
			Markets:    []string{"ML"},
			Thresholds: ThresholdsConfig{A: 2.5, B: 1.2, C: 0},
			KellyByGrade: map[string]float64{
				"A":       0.05,
				"B":       0.05,
				"C":       0.02,
				"NO_PICK": 0,
			},
		},
		Sizing:     domain.DefaultSizingConfig(),
		Caps:       domain.DefaultExposureCaps(),
		Challenger: domain.DefaultChallengerPolicy(),
		Quality:    domain.DefaultQualityPolicy(),
	}
}

// Load carga la configuración: defaults, luego el YAML (si path no está vacío),
// luego .env y variables de entorno. Los campos ausentes del YAML conservan
// su default, así que un 0 explícito es un valor válido.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			slog.Debug("config file not found, using defaults", "path", path)
		case err != nil:
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
			}
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("IRONCLAD_PROFILE"); v != "" {
		cfg.Profile = v
	}
	if v := os.Getenv("IRONCLAD_DB_PATH"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("ODDSAPI_KEY"); v != "" {
		cfg.Odds.APIKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	var bad []string
	if v := os.Getenv("IRONCLAD_DEMO"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			bad = append(bad, "IRONCLAD_DEMO="+v)
		}
		cfg.Odds.Demo = b
	}
	floats := []struct {
		env string
		dst *float64
	}{
		{"CAPS__MAX_TOTAL_U", &cfg.Caps.MaxTotalU},
		{"CAPS__MAX_TEAM_U", &cfg.Caps.MaxTeamU},
		{"CAPS__MAX_MARKET_U", &cfg.Caps.MaxMarketU},
		{"CAPS__MAX_GAME_U", &cfg.Caps.MaxGameU},
	}
	for _, f := range floats {
		if v := os.Getenv(f.env); v != "" {
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				bad = append(bad, f.env+"="+v)
				continue
			}
			*f.dst = n
		}
	}
	if v := os.Getenv("CAPS__REQUIRE_MIN_PICKS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			bad = append(bad, "CAPS__REQUIRE_MIN_PICKS="+v)
		}
		cfg.Caps.RequireMinPicks = n
	}
	if len(bad) > 0 {
		return fmt.Errorf("config.Load: %w", &domain.ValidationError{Context: "environment", Fields: bad})
	}
	return nil
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Profile == "" {
		cfg.Profile = "default"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "out/ironclad.db"
	}
	if cfg.Odds.TimeoutSeconds <= 0 {
		cfg.Odds.TimeoutSeconds = 10
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	// Sin key no hay board real: caemos al demo como hace el vendor client.
	if cfg.Odds.APIKey == "" && !cfg.Odds.Demo {
		slog.Debug("no odds API key, falling back to demo board")
		cfg.Odds.Demo = true
	}
}

// Validate comprueba mercados, grades y los mínimos del sizer.
func (c *Config) Validate() error {
	var bad []string
	for _, m := range append(append([]string{}, c.Preslate.Markets...), c.Grading.Markets...) {
		if _, err := domain.ParseMarket(m); err != nil {
			bad = append(bad, "market="+m)
		}
	}
	for g, k := range c.Grading.KellyByGrade {
		if _, err := domain.ParseGrade(g); err != nil {
			bad = append(bad, "kelly_by_grade."+g)
		}
		if !(k >= 0 && k <= 1) {
			bad = append(bad, fmt.Sprintf("kelly_by_grade.%s=%v", g, k))
		}
	}
	if !(c.Sizing.BankrollUnits > 0) {
		bad = append(bad, "sizing.bankroll_units")
	}
	if !(c.Sizing.KellyScale >= 0) {
		bad = append(bad, "sizing.kelly_scale")
	}
	if c.Caps.RequireMinPicks < 0 {
		bad = append(bad, "caps.require_min_picks")
	}

	// NaN pasaría todas las comparaciones del guardrail: los límites deben ser finitos.
	for name, v := range c.limits() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			bad = append(bad, fmt.Sprintf("%s=%v", name, v))
		}
	}
	t := c.Grading.Thresholds
	if !(t.A >= t.B && t.B >= t.C) {
		bad = append(bad, fmt.Sprintf("grading.thresholds: want a >= b >= c, got a=%v b=%v c=%v", t.A, t.B, t.C))
	}
	bad = append(bad, c.validateChallenger()...)
	if c.Quality.MaxAgeMinutes < 0 {
		bad = append(bad, fmt.Sprintf("quality.max_age_minutes=%d", c.Quality.MaxAgeMinutes))
	}
	if c.Quality.MinLines < 0 {
		bad = append(bad, fmt.Sprintf("quality.min_lines=%d", c.Quality.MinLines))
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return &domain.ValidationError{Context: "config", Fields: bad}
	}
	return nil
}

// validateChallenger comprueba el rango de precios y que cada grade_shares
// sea un grade conocido con 0 <= min <= max <= 1.
func (c *Config) validateChallenger() []string {
	var bad []string
	ch := c.Challenger
	if ch.MinPrice > ch.MaxPrice {
		bad = append(bad, fmt.Sprintf("challenger.min_price=%d > max_price=%d", ch.MinPrice, ch.MaxPrice))
	}
	for g, lim := range ch.GradeShares {
		if !g.Valid() {
			bad = append(bad, "challenger.grade_shares."+string(g))
			continue
		}
		for name, v := range map[string]*float64{"min": lim.Min, "max": lim.Max} {
			if v != nil && !(*v >= 0 && *v <= 1) {
				bad = append(bad, fmt.Sprintf("challenger.grade_shares.%s.%s=%v", g, name, *v))
			}
		}
		if lim.Min != nil && lim.Max != nil && *lim.Min > *lim.Max {
			bad = append(bad, fmt.Sprintf("challenger.grade_shares.%s: min > max", g))
		}
	}
	return bad
}

// limits devuelve los valores numéricos que deben ser finitos, por nombre YAML.
func (c *Config) limits() map[string]float64 {
	return map[string]float64{
		"caps.max_total_u":      c.Caps.MaxTotalU,
		"caps.max_team_u":       c.Caps.MaxTeamU,
		"caps.max_market_u":     c.Caps.MaxMarketU,
		"caps.max_game_u":       c.Caps.MaxGameU,
		"sizing.bankroll_units": c.Sizing.BankrollUnits,
		"sizing.kelly_scale":    c.Sizing.KellyScale,
		"sizing.max_per_bet_u":  c.Sizing.MaxPerBetU,
		"sizing.max_per_game_u": c.Sizing.MaxPerGameU,
		"sizing.max_total_u":    c.Sizing.MaxTotalU,
		"grading.edge":          c.Grading.Edge,
		"grading.thresholds.a":  c.Grading.Thresholds.A,
		"grading.thresholds.b":  c.Grading.Thresholds.B,
		"grading.thresholds.c":  c.Grading.Thresholds.C,

		"challenger.max_total_u":      c.Challenger.MaxTotalU,
		"challenger.max_game_u":       c.Challenger.MaxGameU,
		"challenger.max_market_u":     c.Challenger.MaxMarketU,
		"challenger.max_side_u":       c.Challenger.MaxSideU,
		"challenger.max_increase_u":   c.Challenger.MaxIncreaseU,
		"challenger.max_increase_pct": c.Challenger.MaxIncreasePct,
	}
}

// GradingMarkets devuelve Grading.Markets ya parseados.
func (c *Config) GradingMarkets() []domain.Market {
	return parseMarkets(c.Grading.Markets)
}

// PreslateMarkets devuelve Preslate.Markets ya parseados.
func (c *Config) PreslateMarkets() []domain.Market {
	return parseMarkets(c.Preslate.Markets)
}

// KellyByGrade devuelve Grading.KellyByGrade con claves tipadas.
func (c *Config) KellyByGrade() map[domain.Grade]float64 {
	out := make(map[domain.Grade]float64, len(c.Grading.KellyByGrade))
	for g, k := range c.Grading.KellyByGrade {
		if grade, err := domain.ParseGrade(g); err == nil {
			out[grade] = k
		}
	}
	return out
}

func parseMarkets(in []string) []domain.Market {
	out := make([]domain.Market, 0, len(in))
	for _, s := range in {
		if m, err := domain.ParseMarket(strings.TrimSpace(s)); err == nil {
			out = append(out, m)
		}
	}
	return out
}
