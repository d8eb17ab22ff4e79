// Package picks convierte un board de cuotas en picks candidatos con grade.
package picks

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alejandrodnm/ironclad/internal/domain"
)

// La probabilidad del modelo se mantiene lejos de 0 y 1 para que el precio justo sea finito.
const (
	minModelProb = 0.01
	maxModelProb = 0.99
)

// ProbabilityModel estima la probabilidad de acierto de una línea a partir
// de la probabilidad implícita del mercado.
type ProbabilityModel interface {
	ModelProb(line domain.BoardLine, implied float64) float64
}

// FixedEdge suma un margen fijo a la probabilidad implícita.
type FixedEdge float64

// ModelProb implementa ProbabilityModel.
func (e FixedEdge) ModelProb(_ domain.BoardLine, implied float64) float64 {
	return implied + float64(e)
}

// Thresholds son los cortes de EV%: ev >= A → A, ev >= B → B, ev > C → C.
type Thresholds struct {
	A float64 `yaml:"a"`
	B float64 `yaml:"b"`
	C float64 `yaml:"c"`
}

// Grade asigna un grade a un EV%. Definido para cualquier float; NaN es NO_PICK.
func (t Thresholds) Grade(evPct float64) domain.Grade {
	switch {
	case evPct >= t.A:
		return domain.GradeA
	case evPct >= t.B:
		return domain.GradeB
	case evPct > t.C:
		return domain.GradeC
	default:
		return domain.GradeNoPick
	}
}

// Policy es el apetito de riesgo de un profile.
type Policy struct {
	Markets      []domain.Market
	Thresholds   Thresholds
	KellyByGrade map[domain.Grade]float64
	Model        ProbabilityModel
}

// DefaultPolicy: solo moneyline, edge +2%, A≥2.5 B≥1.2 C>0, kelly 0.05/0.05/0.02.
func DefaultPolicy() Policy {
	return Policy{
		Markets:    []domain.Market{domain.MarketML},
		Thresholds: Thresholds{A: 2.5, B: 1.2, C: 0},
		KellyByGrade: map[domain.Grade]float64{
			domain.GradeA:      0.05,
			domain.GradeB:      0.05,
			domain.GradeC:      0.02,
			domain.GradeNoPick: 0,
		},
		Model: FixedEdge(0.02),
	}
}

// Synthesizer construye los picks de un run. No tiene efectos secundarios.
type Synthesizer struct {
	policy Policy
	now    func() time.Time
}

// NewSynthesizer crea un synthesizer con el reloj dado (nil → time.Now en UTC).
func NewSynthesizer(policy Policy, now func() time.Time) *Synthesizer {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if policy.Model == nil {
		policy.Model = FixedEdge(0)
	}
	return &Synthesizer{policy: policy, now: now}
}

// Synthesize devuelve un pick por línea elegible, en el orden del board.
// Las líneas de otros mercados se saltan; un precio 0 es un DomainError.
func (s *Synthesizer) Synthesize(runID string, season, week int, board []domain.BoardLine) ([]domain.Pick, error) {
	ts := s.now()
	out := make([]domain.Pick, 0, len(board))
	skipped := 0

	for i, line := range board {
		market, err := domain.ParseMarket(line.Market)
		if err != nil || !s.eligible(market) {
			skipped++
			continue
		}

		pick, err := s.pick(runID, season, week, market, line, ts)
		if err != nil {
			return nil, fmt.Errorf("picks.Synthesize: line %d (%s %s): %w", i, line.GameID, line.Side, err)
		}
		out = append(out, pick)
	}

	slog.Debug("picks synthesized", "run_id", runID, "lines", len(board), "picks", len(out), "skipped", skipped)
	return out, nil
}

func (s *Synthesizer) pick(runID string, season, week int, market domain.Market, line domain.BoardLine, ts time.Time) (domain.Pick, error) {
	implied, err := domain.AmericanToProb(line.PriceAmerican)
	if err != nil {
		return domain.Pick{}, err
	}

	prob := domain.Clamp(s.policy.Model.ModelProb(line, implied), minModelProb, maxModelProb)
	if math.IsNaN(prob) {
		prob = minModelProb
	}
	fair, err := domain.ProbToAmerican(prob)
	if err != nil {
		return domain.Pick{}, err
	}

	ev := round4(domain.ExpectedValuePct(prob, line.PriceAmerican))
	grade := s.policy.Thresholds.Grade(ev)

	return domain.Pick{
		RunID:             runID,
		GameID:            line.GameID,
		Season:            season,
		Week:              week,
		Market:            market,
		Side:              line.Side,
		Line:              line.Line,
		PriceAmerican:     line.PriceAmerican,
		Book:              line.Book,
		ModelProb:         prob,
		FairPriceAmerican: fair,
		EVPercent:         ev,
		ZScore:            0,
		RobustEVPercent:   ev,
		Grade:             grade,
		KellyFraction:     s.policy.KellyByGrade[grade],
		StakeUnits:        0,
		CreatedAt:         ts,
	}, nil
}

func (s *Synthesizer) eligible(m domain.Market) bool {
	for _, allowed := range s.policy.Markets {
		if allowed == m {
			return true
		}
	}
	return false
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
