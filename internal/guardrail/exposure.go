// Package guardrail verifica un board persistido contra los límites de exposición.
//
// El chequeo no depende del sizer: vuelve a agregar lo que haya en el ledger,
// venga del sizer, de un replay o de una edición manual.
package guardrail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/alejandrodnm/ironclad/internal/domain"
)

// BoardSource carga los picks de un (season, week). Si el store o la tabla no
// existen, el error envuelve domain.ErrStorageUnavailable.
type BoardSource interface {
	LoadBoard(ctx context.Context, season, week int, sized bool) ([]domain.Pick, error)
}

// BoardSourceFunc adapta una función a BoardSource.
type BoardSourceFunc func(ctx context.Context, season, week int, sized bool) ([]domain.Pick, error)

// LoadBoard implementa BoardSource.
func (f BoardSourceFunc) LoadBoard(ctx context.Context, season, week int, sized bool) ([]domain.Pick, error) {
	return f(ctx, season, week, sized)
}

// CheckExposure carga el board y lo compara con caps.
//
// Un store o tabla inexistente es un board vacío, que falla cerrado con
// insufficient_picks. Cualquier otro error de carga se devuelve tal cual.
func CheckExposure(ctx context.Context, src BoardSource, season, week int, caps domain.ExposureCaps, sized bool) (domain.Report, error) {
	board, err := src.LoadBoard(ctx, season, week, sized)
	if err != nil {
		if !errors.Is(err, domain.ErrStorageUnavailable) {
			return domain.Report{}, fmt.Errorf("guardrail.CheckExposure: load board: %w", err)
		}
		slog.Warn("board unavailable, checking as empty", "season", season, "week", week, "sized", sized, "err", err)
		board = nil
	}

	report := CheckBoard(board, caps)
	report.Season = season
	report.Week = week
	report.Sized = sized
	return report, nil
}

// CheckBoard es la parte en memoria de CheckExposure.
//
// Un board vacío, o con menos picks que RequireMinPicks, reporta
// insufficient_picks y no sigue: vacío falla siempre, aunque el mínimo sea 0.
// Pasado ese filtro corren todos los chequeos y se reporta cada grupo excedido.
func CheckBoard(board []domain.Pick, caps domain.ExposureCaps) domain.Report {
	report := domain.Report{
		Caps:       caps,
		Picks:      len(board),
		Violations: []domain.Violation{},
	}

	if len(board) == 0 || len(board) < caps.RequireMinPicks {
		report.Violations = append(report.Violations, domain.Violation{
			Type:  domain.ViolationInsufficientPicks,
			Value: float64(len(board)),
			Cap:   float64(caps.RequireMinPicks),
		})
		return report
	}

	total := 0.0
	for _, p := range board {
		total += stake(p)
	}
	report.TotalU = total
	if total > caps.MaxTotalU {
		report.Violations = append(report.Violations, domain.Violation{
			Type:  domain.ViolationTotal,
			Value: total,
			Cap:   caps.MaxTotalU,
		})
	}

	report.Violations = append(report.Violations,
		overCap(board, domain.ViolationGame, caps.MaxGameU, func(p domain.Pick) string { return p.GameID })...)
	report.Violations = append(report.Violations,
		overCap(board, domain.ViolationTeam, caps.MaxTeamU, domain.Pick.TeamKey)...)
	report.Violations = append(report.Violations,
		overCap(board, domain.ViolationMarket, caps.MaxMarketU, func(p domain.Pick) string { return string(p.Market) })...)

	report.OK = len(report.Violations) == 0
	return report
}

// overCap devuelve una violación por grupo sobre el límite, mayor primero.
func overCap(board []domain.Pick, t domain.ViolationType, limit float64, key func(domain.Pick) string) []domain.Violation {
	sums := make(map[string]float64)
	for _, p := range board {
		sums[key(p)] += stake(p)
	}

	var out []domain.Violation
	for k, u := range sums {
		if u > limit {
			out = append(out, domain.Violation{Type: t, Key: k, Value: u, Cap: limit})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Un stake nulo en el board persistido cuenta como 0.
func stake(p domain.Pick) float64 {
	if math.IsNaN(p.StakeUnits) {
		return 0
	}
	return p.StakeUnits
}
