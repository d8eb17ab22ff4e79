package domain

// ExposureCaps son los límites de exposición que verifica el guardrail.
// Configuración externa, no datos derivados: se construye una vez y se pasa por valor.
type ExposureCaps struct {
	MaxTotalU       float64 `json:"max_total_u" yaml:"max_total_u"`
	MaxTeamU        float64 `json:"max_team_u" yaml:"max_team_u"`
	MaxMarketU      float64 `json:"max_market_u" yaml:"max_market_u"`
	MaxGameU        float64 `json:"max_game_u" yaml:"max_game_u"`
	RequireMinPicks int     `json:"require_min_picks" yaml:"require_min_picks"`
}

// DefaultExposureCaps: total 25u, equipo 10u, mercado 15u, partido 10u, mínimo 1 pick.
func DefaultExposureCaps() ExposureCaps {
	return ExposureCaps{
		MaxTotalU:       25,
		MaxTeamU:        10,
		MaxMarketU:      15,
		MaxGameU:        10,
		RequireMinPicks: 1,
	}
}

// SizingConfig son los parámetros del sizer (cascada per-bet → per-game → total).
type SizingConfig struct {
	BankrollUnits float64 `json:"bankroll_units" yaml:"bankroll_units"`
	KellyScale    float64 `json:"kelly_scale" yaml:"kelly_scale"`
	MaxPerBetU    float64 `json:"max_per_bet_u" yaml:"max_per_bet_u"`
	MaxPerGameU   float64 `json:"max_per_game_u" yaml:"max_per_game_u"`
	MaxTotalU     float64 `json:"max_total_u" yaml:"max_total_u"`
}

// DefaultSizingConfig: bankroll 100u, kelly 0.25, 3u por apuesta, 10u por partido, 25u total.
func DefaultSizingConfig() SizingConfig {
	return SizingConfig{
		BankrollUnits: 100,
		KellyScale:    0.25,
		MaxPerBetU:    3,
		MaxPerGameU:   10,
		MaxTotalU:     25,
	}
}

// ShareLimit acota la fracción de picks de un grade. Un extremo nil no se comprueba.
type ShareLimit struct {
	Min *float64 `json:"min,omitempty" yaml:"min"`
	Max *float64 `json:"max,omitempty" yaml:"max"`
}

// ChallengerPolicy son los límites para promover un run challenger (B) sobre
// el run en producción (A). Los caps absolutos miran solo B; los de
// incremento comparan el total de B con el de A.
type ChallengerPolicy struct {
	RequireNonEmpty bool                 `json:"require_non_empty" yaml:"require_non_empty"`
	MaxTotalU       float64              `json:"max_total_u" yaml:"max_total_u"`
	MaxGameU        float64              `json:"max_game_u" yaml:"max_game_u"`
	MaxMarketU      float64              `json:"max_market_u" yaml:"max_market_u"`
	MaxSideU        float64              `json:"max_side_u" yaml:"max_side_u"`
	MaxIncreaseU    float64              `json:"max_increase_u" yaml:"max_increase_u"`
	MaxIncreasePct  float64              `json:"max_increase_pct" yaml:"max_increase_pct"` // fracción: 0.5 = 50%
	GradeShares     map[Grade]ShareLimit `json:"grade_shares,omitempty" yaml:"grade_shares"`
	MinPrice        int                  `json:"min_price" yaml:"min_price"`
	MaxPrice        int                  `json:"max_price" yaml:"max_price"`
}

// DefaultChallengerPolicy: mismos caps que DefaultExposureCaps, 5u por lado,
// como mucho +5u y +50% sobre A, cuotas en [-2000, +2000].
func DefaultChallengerPolicy() ChallengerPolicy {
	return ChallengerPolicy{
		RequireNonEmpty: true,
		MaxTotalU:       25,
		MaxGameU:        10,
		MaxMarketU:      15,
		MaxSideU:        5,
		MaxIncreaseU:    5,
		MaxIncreasePct:  0.5,
		MinPrice:        -2000,
		MaxPrice:        2000,
	}
}

// QualityPolicy son los umbrales de frescura y quórum del board cosechado.
type QualityPolicy struct {
	MaxAgeMinutes int `json:"max_age_minutes" yaml:"max_age_minutes"`
	MinLines      int `json:"min_lines" yaml:"min_lines"`
}

// DefaultQualityPolicy: snapshot de harvest de hace 3h como mucho, 10 líneas como mínimo.
func DefaultQualityPolicy() QualityPolicy {
	return QualityPolicy{MaxAgeMinutes: 180, MinLines: 10}
}

// ViolationType identifica qué límite se superó.
type ViolationType string

const (
	ViolationInsufficientPicks ViolationType = "insufficient_picks"
	ViolationTotal             ViolationType = "total_u"
	ViolationGame              ViolationType = "game_u"
	ViolationTeam              ViolationType = "team_u"
	ViolationMarket            ViolationType = "market_u"

	// Solo en la validación de challenger.
	ViolationSide           ViolationType = "side_u"
	ViolationIncrease       ViolationType = "increase_u"
	ViolationIncreasePct    ViolationType = "increase_pct"
	ViolationGradeShareLow  ViolationType = "grade_share_min"
	ViolationGradeShareHigh ViolationType = "grade_share_max"
	ViolationPrice          ViolationType = "price"
)

// Violation es un límite superado. Key identifica el grupo (partido, equipo,
// mercado) y va vacío en total_u e insufficient_picks. Para insufficient_picks,
// Value es el número de picks encontrados y Cap el mínimo exigido.
type Violation struct {
	Type  ViolationType `json:"type"`
	Key   string        `json:"key,omitempty"`
	Value float64       `json:"value"`
	Cap   float64       `json:"cap"`
}

// Report es el resultado serializable de un chequeo de exposición.
type Report struct {
	OK         bool         `json:"ok"`
	Violations []Violation  `json:"violations"`
	Season     int          `json:"season"`
	Week       int          `json:"week"`
	Sized      bool         `json:"sized"`
	Caps       ExposureCaps `json:"caps"`
	Picks      int          `json:"picks"`
	TotalU     float64      `json:"total_u"`
}

// Count devuelve cuántas violaciones hay de un tipo.
func (r Report) Count(t ViolationType) int {
	n := 0
	for _, v := range r.Violations {
		if v.Type == t {
			n++
		}
	}
	return n
}
