package analytics

import (
	"fmt"
	"sort"

	"github.com/alejandrodnm/ironclad/internal/domain"
)

// Dimension es el eje de agregación de exposición.
type Dimension string

const (
	ByTeam   Dimension = "team"
	ByMarket Dimension = "market"
	ByBook   Dimension = "book"
	ByGame   Dimension = "game"
)

// ParseDimension valida el nombre de una dimensión.
func ParseDimension(s string) (Dimension, error) {
	switch d := Dimension(s); d {
	case ByTeam, ByMarket, ByBook, ByGame:
		return d, nil
	}
	return "", &domain.ValidationError{Context: "analytics.ParseDimension", Fields: []string{fmt.Sprintf("dimension=%q", s)}}
}

func (d Dimension) key() func(domain.Pick) string {
	switch d {
	case ByMarket:
		return func(p domain.Pick) string { return string(p.Market) }
	case ByBook:
		return func(p domain.Pick) string { return p.Book }
	case ByGame:
		return func(p domain.Pick) string { return p.GameID }
	}
	return domain.Pick.TeamKey
}

// Exposure es el stake acumulado de un grupo.
type Exposure struct {
	Key   string  `json:"key"`
	Stake float64 `json:"stake_u"`
	Picks int     `json:"picks"`
}

// ExposureBy agrupa stake_units por dimensión, mayor primero.
func ExposureBy(board []domain.Pick, dim Dimension) []Exposure {
	key := dim.key()
	idx := make(map[string]int)
	out := []Exposure{}
	for _, p := range board {
		k := key(p)
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, Exposure{Key: k})
		}
		out[i].Stake += p.StakeUnits
		out[i].Picks++
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Stake != out[j].Stake {
			return out[i].Stake > out[j].Stake
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// ExposureChange es el stake de un (market, side) en A y en B.
type ExposureChange struct {
	Market domain.Market `json:"market"`
	Side   string        `json:"side"`
	StakeA float64       `json:"stake_a"`
	StakeB float64       `json:"stake_b"`
	Delta  float64       `json:"delta"`
}

// ExposureDelta suma stake por (market, side) en cada run y ordena por delta
// descendente. Un lado ausente en un run cuenta como 0.
func ExposureDelta(a, b []domain.Pick) []ExposureChange {
	type mk struct {
		market domain.Market
		side   string
	}
	idx := make(map[mk]int)
	out := []ExposureChange{}
	add := func(p domain.Pick, inB bool) {
		k := mk{p.Market, p.Side}
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, ExposureChange{Market: p.Market, Side: p.Side})
		}
		if inB {
			out[i].StakeB += p.StakeUnits
		} else {
			out[i].StakeA += p.StakeUnits
		}
	}
	for _, p := range a {
		add(p, false)
	}
	for _, p := range b {
		add(p, true)
	}
	for i := range out {
		out[i].Delta = out[i].StakeB - out[i].StakeA
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Delta != out[j].Delta {
			return out[i].Delta > out[j].Delta
		}
		if out[i].Market != out[j].Market {
			return out[i].Market < out[j].Market
		}
		return out[i].Side < out[j].Side
	})
	return out
}

// TopPicks devuelve los k picks con mayor stake (empate: mayor EV%).
// k <= 0 devuelve todos. No modifica board.
func TopPicks(board []domain.Pick, k int) []domain.Pick {
	out := make([]domain.Pick, len(board))
	copy(out, board)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StakeUnits != out[j].StakeUnits {
			return out[i].StakeUnits > out[j].StakeUnits
		}
		return out[i].EVPercent > out[j].EVPercent
	})
	if k > 0 && k < len(out) {
		out = out[:k]
	}
	return out
}
