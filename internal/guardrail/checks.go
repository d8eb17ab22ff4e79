package guardrail

import "github.com/alejandrodnm/ironclad/internal/domain"

// Límites por defecto de los chequeos por pick.
const (
	DefaultMinPrice = -2000
	DefaultMaxPrice = 2000
)

// DefaultGradeCaps limita cuántos picks de cada grade puede producir un run.
func DefaultGradeCaps() map[domain.Grade]int {
	return map[domain.Grade]int{
		domain.GradeA: 5,
		domain.GradeB: 10,
		domain.GradeC: 15,
	}
}

// CheckResult es el resultado de un chequeo por pick.
type CheckResult struct {
	Name      string         `json:"name"`
	Passed    bool           `json:"passed"`
	Counts    map[string]int `json:"counts,omitempty"`
	Caps      map[string]int `json:"caps,omitempty"`
	Failures  map[string]int `json:"failures,omitempty"`
	MinPrice  int            `json:"min_price,omitempty"`
	MaxPrice  int            `json:"max_price,omitempty"`
	Offending []PriceIssue   `json:"violations,omitempty"`
}

// PriceIssue es un pick con la cuota fuera del rango razonable.
type PriceIssue struct {
	GameID        string `json:"game_id"`
	Side          string `json:"side"`
	PriceAmerican int    `json:"price_american"`
}

// GradeCaps falla si un grade aparece más veces que su cap.
// Un grade sin cap no tiene límite. Con caps nil se usa DefaultGradeCaps.
func GradeCaps(picks []domain.Pick, caps map[domain.Grade]int) CheckResult {
	if caps == nil {
		caps = DefaultGradeCaps()
	}
	counts := make(map[domain.Grade]int)
	for _, p := range picks {
		counts[p.Grade]++
	}

	res := CheckResult{
		Name:     "grade_caps",
		Counts:   make(map[string]int),
		Caps:     make(map[string]int),
		Failures: make(map[string]int),
	}
	for _, g := range domain.Grades() {
		res.Counts[string(g)] = counts[g]
		limit, ok := caps[g]
		if !ok {
			continue
		}
		res.Caps[string(g)] = limit
		if counts[g] > limit {
			res.Failures[string(g)] = counts[g]
		}
	}
	res.Passed = len(res.Failures) == 0
	return res
}

// PriceSanity falla si alguna cuota queda fuera de [minPrice, maxPrice].
func PriceSanity(picks []domain.Pick, minPrice, maxPrice int) CheckResult {
	res := CheckResult{Name: "price_sanity", MinPrice: minPrice, MaxPrice: maxPrice}
	for _, p := range picks {
		if p.PriceAmerican < minPrice || p.PriceAmerican > maxPrice {
			res.Offending = append(res.Offending, PriceIssue{
				GameID:        p.GameID,
				Side:          p.Side,
				PriceAmerican: p.PriceAmerican,
			})
		}
	}
	res.Passed = len(res.Offending) == 0
	return res
}

// RunPickChecks corre todos los chequeos por pick con los límites por defecto.
func RunPickChecks(picks []domain.Pick) []CheckResult {
	return []CheckResult{
		GradeCaps(picks, nil),
		PriceSanity(picks, DefaultMinPrice, DefaultMaxPrice),
	}
}
