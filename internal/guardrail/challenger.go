package guardrail

import (
	"github.com/alejandrodnm/ironclad/internal/domain"
)

// ChallengerReport es el veredicto de promover el run B sobre el run A.
type ChallengerReport struct {
	OK         bool                    `json:"ok"`
	Violations []domain.Violation      `json:"violations"`
	RunA       string                  `json:"run_a,omitempty"`
	RunB       string                  `json:"run_b,omitempty"`
	PicksA     int                     `json:"picks_a"`
	PicksB     int                     `json:"picks_b"`
	TotalA     float64                 `json:"total_a"`
	TotalB     float64                 `json:"total_b"`
	IncreaseU  float64                 `json:"increase_u"`
	Policy     domain.ChallengerPolicy `json:"policy"`
}

// ValidateChallenger compara los picks dimensionados del challenger b con los
// de producción a. Corre todos los chequeos y acumula cada fallo.
//
// Un challenger vacío con RequireNonEmpty falla y no sigue. El porcentaje de
// incremento solo se comprueba si A tiene stake.
func ValidateChallenger(a, b []domain.Pick, policy domain.ChallengerPolicy) ChallengerReport {
	report := ChallengerReport{
		Policy:     policy,
		PicksA:     len(a),
		PicksB:     len(b),
		TotalA:     totalStake(a),
		TotalB:     totalStake(b),
		Violations: []domain.Violation{},
	}
	if len(a) > 0 {
		report.RunA = a[0].RunID
	}
	if len(b) > 0 {
		report.RunB = b[0].RunID
	}

	if policy.RequireNonEmpty && len(b) == 0 {
		report.Violations = append(report.Violations, domain.Violation{
			Type: domain.ViolationInsufficientPicks,
			Cap:  1,
		})
		return report
	}

	if report.TotalB > policy.MaxTotalU {
		report.Violations = append(report.Violations, domain.Violation{
			Type:  domain.ViolationTotal,
			Value: report.TotalB,
			Cap:   policy.MaxTotalU,
		})
	}
	report.Violations = append(report.Violations,
		overCap(b, domain.ViolationGame, policy.MaxGameU, func(p domain.Pick) string { return p.GameID })...)
	report.Violations = append(report.Violations,
		overCap(b, domain.ViolationMarket, policy.MaxMarketU, func(p domain.Pick) string { return string(p.Market) })...)
	report.Violations = append(report.Violations,
		overCap(b, domain.ViolationSide, policy.MaxSideU, func(p domain.Pick) string { return string(p.Market) + ":" + p.Side })...)

	report.IncreaseU = max(0, report.TotalB-report.TotalA)
	if report.IncreaseU > policy.MaxIncreaseU {
		report.Violations = append(report.Violations, domain.Violation{
			Type:  domain.ViolationIncrease,
			Value: report.IncreaseU,
			Cap:   policy.MaxIncreaseU,
		})
	}
	if report.TotalA > 0 {
		if pct := report.IncreaseU / report.TotalA; pct > policy.MaxIncreasePct {
			report.Violations = append(report.Violations, domain.Violation{
				Type:  domain.ViolationIncreasePct,
				Value: pct,
				Cap:   policy.MaxIncreasePct,
			})
		}
	}

	report.Violations = append(report.Violations, gradeShares(b, policy.GradeShares)...)

	for _, p := range b {
		switch {
		case p.PriceAmerican < policy.MinPrice:
			report.Violations = append(report.Violations, domain.Violation{
				Type: domain.ViolationPrice, Key: p.GameID + ":" + p.Side,
				Value: float64(p.PriceAmerican), Cap: float64(policy.MinPrice),
			})
		case p.PriceAmerican > policy.MaxPrice:
			report.Violations = append(report.Violations, domain.Violation{
				Type: domain.ViolationPrice, Key: p.GameID + ":" + p.Side,
				Value: float64(p.PriceAmerican), Cap: float64(policy.MaxPrice),
			})
		}
	}

	report.OK = len(report.Violations) == 0
	return report
}

// gradeShares compara la fracción de picks de cada grade con sus límites,
// en el orden de domain.Grades.
func gradeShares(b []domain.Pick, limits map[domain.Grade]domain.ShareLimit) []domain.Violation {
	if len(limits) == 0 {
		return nil
	}
	counts := make(map[domain.Grade]int)
	for _, p := range b {
		counts[p.Grade]++
	}

	var out []domain.Violation
	for _, g := range domain.Grades() {
		lim, ok := limits[g]
		if !ok {
			continue
		}
		share := 0.0
		if len(b) > 0 {
			share = float64(counts[g]) / float64(len(b))
		}
		if lim.Min != nil && share < *lim.Min {
			out = append(out, domain.Violation{Type: domain.ViolationGradeShareLow, Key: string(g), Value: share, Cap: *lim.Min})
		}
		if lim.Max != nil && share > *lim.Max {
			out = append(out, domain.Violation{Type: domain.ViolationGradeShareHigh, Key: string(g), Value: share, Cap: *lim.Max})
		}
	}
	return out
}

func totalStake(picks []domain.Pick) float64 {
	total := 0.0
	for _, p := range picks {
		total += stake(p)
	}
	return total
}
