// Package analytics compara runs y agrega exposición de boards persistidos.
package analytics

// diff.go: compara dos runs pick a pick.
//
// La clave de cruce es (season, week, game_id, market, side, line, book):
// la misma apuesta en dos runs distintos. Para cada clave se reporta si
// aparece solo en A, solo en B o en ambos, y los deltas B − A.

import (
	"math"
	"sort"

	"github.com/alejandrodnm/ironclad/internal/domain"
)

// Presence indica en qué run aparece una clave.
type Presence string

const (
	OnlyA Presence = "only_a"
	OnlyB Presence = "only_b"
	Both  Presence = "both"
)

// DiffRow es una clave de apuesta comparada entre los runs A y B.
// Los campos de un lado ausente quedan en cero.
type DiffRow struct {
	Season   int           `json:"season"`
	Week     int           `json:"week"`
	GameID   string        `json:"game_id"`
	Market   domain.Market `json:"market"`
	Side     string        `json:"side"`
	Line     *float64      `json:"line"`
	Book     string        `json:"book"`
	Presence Presence      `json:"presence"`
	A        *domain.Pick  `json:"a,omitempty"`
	B        *domain.Pick  `json:"b,omitempty"`

	GradeChanged bool    `json:"grade_changed"`
	StakeChanged bool    `json:"stake_changed"`
	DeltaEV      float64 `json:"delta_ev_pct"`
	DeltaStake   float64 `json:"delta_stake_u"`
	DeltaPrice   int     `json:"delta_price"`
	DeltaProb    float64 `json:"delta_prob"`
}

// Diff es el resultado de DiffRuns.
type Diff struct {
	OnlyA        int       `json:"only_a"`
	OnlyB        int       `json:"only_b"`
	Both         int       `json:"both"`
	GradeChanges int       `json:"grade_changes"`
	StakeChanges int       `json:"stake_changes"`
	Rows         []DiffRow `json:"rows"`

	// MixedWeeks es true si A y B cubren combinaciones season/week distintas.
	MixedWeeks bool `json:"mixed_weeks"`
}

// stakeEpsilon absorbe el ruido de float al comparar stakes persistidos.
const stakeEpsilon = 1e-9

// DiffRuns cruza los picks de dos runs. Las filas salen ordenadas por clave.
// Si una clave se repite dentro de un run, gana la última aparición.
func DiffRuns(a, b []domain.Pick) Diff {
	byKeyA := indexByLine(a)
	byKeyB := indexByLine(b)

	keys := make(map[string]struct{}, len(byKeyA)+len(byKeyB))
	for k := range byKeyA {
		keys[k] = struct{}{}
	}
	for k := range byKeyB {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	d := Diff{Rows: make([]DiffRow, 0, len(sorted)), MixedWeeks: !sameWeeks(a, b)}
	for _, k := range sorted {
		pa, inA := byKeyA[k]
		pb, inB := byKeyB[k]

		var row DiffRow
		switch {
		case inA && inB:
			row = keyed(pa)
			row.Presence = Both
			row.A, row.B = &pa, &pb
			row.GradeChanged = pa.Grade != pb.Grade
			row.StakeChanged = math.Abs(pb.StakeUnits-pa.StakeUnits) > stakeEpsilon
			row.DeltaEV = pb.EVPercent - pa.EVPercent
			row.DeltaStake = pb.StakeUnits - pa.StakeUnits
			row.DeltaPrice = pb.PriceAmerican - pa.PriceAmerican
			row.DeltaProb = pb.ModelProb - pa.ModelProb
			d.Both++
		case inA:
			row = keyed(pa)
			row.Presence = OnlyA
			row.A = &pa
			d.OnlyA++
		default:
			row = keyed(pb)
			row.Presence = OnlyB
			row.B = &pb
			d.OnlyB++
		}
		if row.GradeChanged {
			d.GradeChanges++
		}
		if row.StakeChanged {
			d.StakeChanges++
		}
		d.Rows = append(d.Rows, row)
	}
	return d
}

func keyed(p domain.Pick) DiffRow {
	return DiffRow{
		Season: p.Season,
		Week:   p.Week,
		GameID: p.GameID,
		Market: p.Market,
		Side:   p.Side,
		Line:   p.Line,
		Book:   p.Book,
	}
}

func indexByLine(picks []domain.Pick) map[string]domain.Pick {
	out := make(map[string]domain.Pick, len(picks))
	for _, p := range picks {
		out[p.LineKey()] = p
	}
	return out
}

func sameWeeks(a, b []domain.Pick) bool {
	weeks := func(ps []domain.Pick) map[[2]int]bool {
		m := make(map[[2]int]bool)
		for _, p := range ps {
			m[[2]int{p.Season, p.Week}] = true
		}
		return m
	}
	wa, wb := weeks(a), weeks(b)
	if len(wa) != len(wb) {
		return false
	}
	for k := range wa {
		if !wb[k] {
			return false
		}
	}
	return true
}
