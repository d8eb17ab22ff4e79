package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Market es el tipo de apuesta. Conjunto cerrado.
type Market string

const (
	MarketML   Market = "ML"   // moneyline
	MarketATS  Market = "ATS"  // against the spread
	MarketOU   Market = "OU"   // over/under
	MarketProp Market = "PROP" // player/game prop
	MarketATD  Market = "ATD"  // alternate-team derivative
)

// Markets devuelve todos los mercados conocidos en orden estable.
func Markets() []Market {
	return []Market{MarketML, MarketATS, MarketOU, MarketProp, MarketATD}
}

// ParseMarket acepta cualquier capitalización ("ml", "Ats"...).
func ParseMarket(s string) (Market, error) {
	m := Market(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", &ValidationError{Context: "ParseMarket", Fields: []string{fmt.Sprintf("market=%q", s)}}
	}
	return m, nil
}

// Valid devuelve true si el mercado pertenece al conjunto cerrado.
func (m Market) Valid() bool {
	switch m {
	case MarketML, MarketATS, MarketOU, MarketProp, MarketATD:
		return true
	}
	return false
}

// Grade es la categoría de un pick según su EV%. Orden: A > B > C > NO_PICK.
type Grade string

const (
	GradeA      Grade = "A"
	GradeB      Grade = "B"
	GradeC      Grade = "C"
	GradeNoPick Grade = "NO_PICK"
)

// Grades devuelve todos los grades de mejor a peor.
func Grades() []Grade {
	return []Grade{GradeA, GradeB, GradeC, GradeNoPick}
}

// ParseGrade acepta "A", "b", "no_pick"...
func ParseGrade(s string) (Grade, error) {
	g := Grade(strings.ToUpper(strings.TrimSpace(s)))
	if !g.Valid() {
		return "", &ValidationError{Context: "ParseGrade", Fields: []string{fmt.Sprintf("grade=%q", s)}}
	}
	return g, nil
}

// Valid devuelve true si el grade es conocido.
func (g Grade) Valid() bool {
	switch g {
	case GradeA, GradeB, GradeC, GradeNoPick:
		return true
	}
	return false
}

// Rank devuelve el orden del grade: A=3, B=2, C=1, NO_PICK=0.
func (g Grade) Rank() int {
	switch g {
	case GradeA:
		return 3
	case GradeB:
		return 2
	case GradeC:
		return 1
	}
	return 0
}

// BoardLine es una cotización de un book para un lado de un mercado.
type BoardLine struct {
	GameID        string   `json:"game_id"`
	Book          string   `json:"book"`
	Market        string   `json:"market"`
	Side          string   `json:"side"`
	Line          *float64 `json:"line"`
	PriceAmerican int      `json:"price_american"`
	TS            string   `json:"ts"`
}

// Pick es una apuesta candidata o ya dimensionada.
// Creado por el synthesizer, mutado solo por el sizer, inmutable una vez persistido.
type Pick struct {
	RunID  string `json:"run_id"`
	GameID string `json:"game_id"`
	Season int    `json:"season"`
	Week   int    `json:"week"`

	Market        Market   `json:"market"`
	Side          string   `json:"side"` // "TEAM:detalle"; la clave de equipo es lo anterior al primer ':'
	Line          *float64 `json:"line"`
	PriceAmerican int      `json:"price_american"`
	Book          string   `json:"book"`

	ModelProb         float64 `json:"model_prob"`
	FairPriceAmerican int     `json:"fair_price_american"`
	EVPercent         float64 `json:"ev_percent"`
	ZScore            float64 `json:"z_score"`
	RobustEVPercent   float64 `json:"robust_ev_percent"`
	Grade             Grade   `json:"grade"`
	KellyFraction     float64 `json:"kelly_fraction"` // sin recortar, en [0,1]
	StakeUnits        float64 `json:"stake_units"`    // siempre >= 0 tras el sizer

	CreatedAt time.Time `json:"ts_created"`
}

// TeamKey deriva la clave de equipo del side: "PHI:-3.5" → "PHI".
func (p Pick) TeamKey() string {
	return TeamKey(p.Side)
}

// TeamKey devuelve el substring anterior al primer ':'.
func TeamKey(side string) string {
	if i := strings.IndexByte(side, ':'); i >= 0 {
		return side[:i]
	}
	return side
}

// Validate comprueba los límites del schema de un pick persistible.
// Reporta todos los campos inválidos, no solo el primero.
func (p Pick) Validate() error {
	var bad []string
	if p.RunID == "" {
		bad = append(bad, "run_id")
	}
	if p.GameID == "" {
		bad = append(bad, "game_id")
	}
	bad = append(bad, slateFields(p.Season, p.Week)...)
	if !p.Market.Valid() {
		bad = append(bad, fmt.Sprintf("market=%q", p.Market))
	}
	if p.PriceAmerican == 0 {
		bad = append(bad, "price_american=0")
	}
	if math.IsNaN(p.ModelProb) || p.ModelProb < 0 || p.ModelProb > 1 {
		bad = append(bad, fmt.Sprintf("model_prob=%v", p.ModelProb))
	}
	if !p.Grade.Valid() {
		bad = append(bad, fmt.Sprintf("grade=%q", p.Grade))
	}
	if math.IsNaN(p.KellyFraction) || p.KellyFraction < 0 || p.KellyFraction > 1 {
		bad = append(bad, fmt.Sprintf("kelly_fraction=%v", p.KellyFraction))
	}
	if math.IsNaN(p.StakeUnits) || p.StakeUnits < 0 {
		bad = append(bad, fmt.Sprintf("stake_units=%v", p.StakeUnits))
	}
	if len(bad) > 0 {
		return &ValidationError{Context: fmt.Sprintf("pick %s/%s/%s", p.RunID, p.GameID, p.Side), Fields: bad}
	}
	return nil
}

// Rango válido de season/week, el mismo que exige el schema de picks.
const (
	MinSeason = 2000
	MinWeek   = 1
	MaxWeek   = 23
)

// ValidateSlate comprueba que (season, week) esté dentro del rango persistible.
func ValidateSlate(season, week int) error {
	if bad := slateFields(season, week); len(bad) > 0 {
		return &ValidationError{Context: "slate", Fields: bad}
	}
	return nil
}

func slateFields(season, week int) []string {
	var bad []string
	if season < MinSeason {
		bad = append(bad, fmt.Sprintf("season=%d", season))
	}
	if week < MinWeek || week > MaxWeek {
		bad = append(bad, fmt.Sprintf("week=%d", week))
	}
	return bad
}

// LineKey identifica la misma apuesta entre runs distintos
// (season, week, game, market, side, line, book).
func (p Pick) LineKey() string {
	line := "-"
	if p.Line != nil {
		line = fmt.Sprintf("%g", *p.Line)
	}
	return fmt.Sprintf("%d|%d|%s|%s|%s|%s|%s", p.Season, p.Week, p.GameID, p.Market, p.Side, line, p.Book)
}

// TotalStake suma stake_units del board.
func TotalStake(board []Pick) float64 {
	total := 0.0
	for _, p := range board {
		total += p.StakeUnits
	}
	return total
}

// StakeBy agrupa stake_units por la clave que devuelve key.
func StakeBy(board []Pick, key func(Pick) string) map[string]float64 {
	out := make(map[string]float64)
	for _, p := range board {
		out[key(p)] += p.StakeUnits
	}
	return out
}

// Float64Ptr es un helper para construir Line en tests y fixtures.
func Float64Ptr(v float64) *float64 {
	return &v
}
