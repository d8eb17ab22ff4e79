// Package portfolio convierte picks en stakes acotados.
//
// El sizer es una cascada de tres etapas; cada una solo reduce lo que dejó
// la anterior:
//
//  1. por apuesta: stake = kelly × bankroll × kelly_scale, recortado a [0, max_per_bet_u]
//  2. por partido: si los stakes de un partido suman más de max_per_game_u,
//     se escalan por max_per_game_u / suma
//  3. total:       si el board suma más de max_total_u, todos los stakes se
//     escalan por max_total_u / total
//
// Los recortes son proporcionales: la razón entre dos stakes de un partido
// (o del board) es la misma antes y después.
package portfolio

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/alejandrodnm/ironclad/internal/domain"
)

// SizePortfolio devuelve una copia dimensionada de picks, en el mismo orden.
// No modifica la entrada. Mismas entradas, misma salida.
func SizePortfolio(picks []domain.Pick, cfg domain.SizingConfig) ([]domain.Pick, error) {
	if err := validate(picks, cfg); err != nil {
		return nil, err
	}

	sized := make([]domain.Pick, len(picks))
	copy(sized, picks)
	if len(sized) == 0 {
		return sized, nil
	}

	perBet := nonNegative(cfg.MaxPerBetU)
	perGame := nonNegative(cfg.MaxPerGameU)
	total := nonNegative(cfg.MaxTotalU)

	// 1. por apuesta
	for i := range sized {
		kelly := sized[i].KellyFraction
		if math.IsNaN(kelly) {
			kelly = 0
		}
		kelly = domain.Clamp(kelly, 0, 1)
		sized[i].KellyFraction = kelly
		sized[i].StakeUnits = domain.Clamp(kelly*cfg.BankrollUnits*cfg.KellyScale, 0, perBet)
	}

	// 2. por partido
	games := groupByGame(sized)
	for _, gameID := range sortedKeys(games) {
		idx := games[gameID]
		sum := stableSum(sized, idx)
		if sum <= perGame || sum == 0 {
			continue
		}
		ratio := perGame / sum
		for _, i := range idx {
			sized[i].StakeUnits *= ratio
		}
		slog.Debug("game exposure shrunk", "game_id", gameID, "sum", sum, "cap", perGame, "ratio", ratio)
	}

	// 3. total
	all := make([]int, len(sized))
	for i := range all {
		all[i] = i
	}
	grand := stableSum(sized, all)
	if grand > total && grand != 0 {
		ratio := total / grand
		for i := range sized {
			sized[i].StakeUnits *= ratio
		}
		slog.Debug("total exposure shrunk", "total", grand, "cap", total, "ratio", ratio)
	}

	return sized, nil
}

func validate(picks []domain.Pick, cfg domain.SizingConfig) error {
	var bad []string
	if !(cfg.BankrollUnits > 0) || math.IsInf(cfg.BankrollUnits, 0) {
		bad = append(bad, fmt.Sprintf("bankroll_units=%v", cfg.BankrollUnits))
	}
	if !(cfg.KellyScale >= 0) || math.IsInf(cfg.KellyScale, 0) {
		bad = append(bad, fmt.Sprintf("kelly_scale=%v", cfg.KellyScale))
	}
	for name, v := range map[string]float64{
		"max_per_bet_u":  cfg.MaxPerBetU,
		"max_per_game_u": cfg.MaxPerGameU,
		"max_total_u":    cfg.MaxTotalU,
	} {
		if math.IsNaN(v) {
			bad = append(bad, name+"=NaN")
		}
	}
	for i, p := range picks {
		if p.GameID == "" {
			bad = append(bad, fmt.Sprintf("picks[%d].game_id", i))
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return &domain.ValidationError{Context: "portfolio.SizePortfolio", Fields: bad}
	}
	return nil
}

// Un cap negativo es degenerado pero legal: equivale a 0.
func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func groupByGame(picks []domain.Pick) map[string][]int {
	games := make(map[string][]int)
	for i, p := range picks {
		games[p.GameID] = append(games[p.GameID], i)
	}
	return games
}

func sortedKeys(m map[string][]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// stableSum suma los stakes de idx en orden ascendente: el resultado no
// depende del orden de llegada de las filas.
func stableSum(picks []domain.Pick, idx []int) float64 {
	vals := make([]float64, len(idx))
	for j, i := range idx {
		vals[j] = picks[i].StakeUnits
	}
	sort.Float64s(vals)
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum
}
