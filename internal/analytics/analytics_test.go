package analytics_test

import (
	"testing"

	"github.com/alejandrodnm/ironclad/internal/analytics"
	"github.com/alejandrodnm/ironclad/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pick(run, game, side string, market domain.Market, stake float64) domain.Pick {
	return domain.Pick{
		RunID:         run,
		GameID:        game,
		Season:        2025,
		Week:          1,
		Market:        market,
		Side:          side,
		PriceAmerican: -110,
		Book:          "DK",
		ModelProb:     0.55,
		EVPercent:     5,
		Grade:         domain.GradeA,
		StakeUnits:    stake,
	}
}

func TestDiffRuns(t *testing.T) {
	a := []domain.Pick{
		pick("A", "G1", "WAS", domain.MarketML, 2),
		pick("A", "G1", "NYG", domain.MarketML, 1),
		pick("A", "G2", "DAL", domain.MarketML, 1),
	}
	changed := pick("B", "G1", "WAS", domain.MarketML, 3)
	changed.Grade = domain.GradeB
	changed.EVPercent = 2
	changed.PriceAmerican = -120
	b := []domain.Pick{
		changed,
		pick("B", "G1", "NYG", domain.MarketML, 1),
		pick("B", "G3", "PHI", domain.MarketML, 1),
	}

	d := analytics.DiffRuns(a, b)

	assert.Equal(t, 1, d.OnlyA)
	assert.Equal(t, 1, d.OnlyB)
	assert.Equal(t, 2, d.Both)
	assert.Equal(t, 1, d.GradeChanges)
	assert.Equal(t, 1, d.StakeChanges)
	assert.False(t, d.MixedWeeks)
	require.Len(t, d.Rows, 4)

	var was analytics.DiffRow
	for _, r := range d.Rows {
		if r.Side == "WAS" {
			was = r
		}
	}
	assert.Equal(t, analytics.Both, was.Presence)
	assert.InDelta(t, 1.0, was.DeltaStake, 1e-9)
	assert.InDelta(t, -3.0, was.DeltaEV, 1e-9)
	assert.Equal(t, -10, was.DeltaPrice)
	require.NotNil(t, was.A)
	require.NotNil(t, was.B)
}

func TestDiffRuns_LineIsPartOfKey(t *testing.T) {
	a := pick("A", "G1", "WAS:-3", domain.MarketATS, 1)
	a.Line = domain.Float64Ptr(-3)
	b := pick("B", "G1", "WAS:-3", domain.MarketATS, 1)
	b.Line = domain.Float64Ptr(-3.5)
	b.Week = 2

	d := analytics.DiffRuns([]domain.Pick{a}, []domain.Pick{b})
	assert.Equal(t, 1, d.OnlyA)
	assert.Equal(t, 1, d.OnlyB)
	assert.Zero(t, d.Both)
	assert.True(t, d.MixedWeeks)
}

func TestExposureDelta(t *testing.T) {
	a := []domain.Pick{
		pick("A", "G1", "WAS", domain.MarketML, 2),
		pick("A", "G2", "DAL", domain.MarketML, 1),
	}
	b := []domain.Pick{
		pick("B", "G1", "WAS", domain.MarketML, 0.5),
		pick("B", "G3", "PHI", domain.MarketML, 3),
	}

	got := analytics.ExposureDelta(a, b)
	require.Len(t, got, 3)
	assert.Equal(t, "PHI", got[0].Side)
	assert.InDelta(t, 3.0, got[0].Delta, 1e-9)
	assert.Equal(t, "DAL", got[1].Side)
	assert.InDelta(t, -1.0, got[1].Delta, 1e-9)
	assert.Equal(t, "WAS", got[2].Side)
	assert.InDelta(t, -1.5, got[2].Delta, 1e-9)
}

func TestExposureBy(t *testing.T) {
	board := []domain.Pick{
		pick("A", "G1", "PHI:-3", domain.MarketATS, 2),
		pick("A", "G2", "PHI", domain.MarketML, 1),
		pick("A", "G2", "DAL", domain.MarketML, 4),
	}

	team := analytics.ExposureBy(board, analytics.ByTeam)
	require.Len(t, team, 2)
	assert.Equal(t, analytics.Exposure{Key: "DAL", Stake: 4, Picks: 1}, team[0])
	assert.Equal(t, analytics.Exposure{Key: "PHI", Stake: 3, Picks: 2}, team[1])

	market := analytics.ExposureBy(board, analytics.ByMarket)
	assert.Equal(t, "ML", market[0].Key)
	assert.InDelta(t, 5.0, market[0].Stake, 1e-9)

	assert.Empty(t, analytics.ExposureBy(nil, analytics.ByBook))
}

func TestParseDimension(t *testing.T) {
	d, err := analytics.ParseDimension("book")
	require.NoError(t, err)
	assert.Equal(t, analytics.ByBook, d)

	_, err = analytics.ParseDimension("league")
	assert.True(t, domain.IsValidation(err))
}

func TestTopPicks(t *testing.T) {
	board := []domain.Pick{
		pick("A", "G1", "WAS", domain.MarketML, 1),
		pick("A", "G2", "DAL", domain.MarketML, 3),
		pick("A", "G3", "PHI", domain.MarketML, 2),
	}
	top := analytics.TopPicks(board, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "DAL", top[0].Side)
	assert.Equal(t, "PHI", top[1].Side)
	assert.Equal(t, "WAS", board[0].Side, "input untouched")

	assert.Len(t, analytics.TopPicks(board, 0), 3)
}
