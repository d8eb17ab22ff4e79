package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPick() Pick {
	return Pick{
		RunID:         "run-1",
		GameID:        "2025W1-NYG@WAS",
		Season:        2025,
		Week:          1,
		Market:        MarketML,
		Side:          "WAS",
		PriceAmerican: -145,
		ModelProb:     0.61,
		Grade:         GradeA,
		KellyFraction: 0.05,
		StakeUnits:    1.25,
		CreatedAt:     time.Date(2025, 9, 7, 12, 0, 0, 0, time.UTC),
	}
}

func TestTeamKey(t *testing.T) {
	assert.Equal(t, "PHI", TeamKey("PHI:-3.5"))
	assert.Equal(t, "PHI", TeamKey("PHI"))
	assert.Equal(t, "", TeamKey(":ML"))
	assert.Equal(t, "Over", TeamKey("Over:42.5:alt"))

	p := validPick()
	p.Side = "DAL:+3"
	assert.Equal(t, "DAL", p.TeamKey())
}

func TestParseMarket(t *testing.T) {
	m, err := ParseMarket(" ats ")
	require.NoError(t, err)
	assert.Equal(t, MarketATS, m)

	_, err = ParseMarket("parlay")
	assert.True(t, IsValidation(err))
}

func TestParseGrade(t *testing.T) {
	g, err := ParseGrade("no_pick")
	require.NoError(t, err)
	assert.Equal(t, GradeNoPick, g)

	_, err = ParseGrade("D")
	assert.True(t, IsValidation(err))
}

func TestGradeRankOrder(t *testing.T) {
	grades := Grades()
	for i := 1; i < len(grades); i++ {
		assert.Greater(t, grades[i-1].Rank(), grades[i].Rank())
	}
}

func TestPickValidate_OK(t *testing.T) {
	assert.NoError(t, validPick().Validate())
}

func TestPickValidate_ReportsEveryField(t *testing.T) {
	p := validPick()
	p.GameID = ""
	p.Week = 30
	p.PriceAmerican = 0
	p.StakeUnits = -1

	err := p.Validate()
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Fields, 4)
	assert.Contains(t, err.Error(), "game_id")
	assert.Contains(t, err.Error(), "week=30")
}

func TestLineKey_DistinguishesLine(t *testing.T) {
	a := validPick()
	b := validPick()
	b.Line = Float64Ptr(-3)
	assert.NotEqual(t, a.LineKey(), b.LineKey())

	b.RunID = "run-2"
	b.Line = nil
	assert.Equal(t, a.LineKey(), b.LineKey(), "run id is not part of the key")
}

func TestStakeBy(t *testing.T) {
	board := []Pick{
		{GameID: "G1", Side: "PHI:-3", StakeUnits: 2},
		{GameID: "G1", Side: "DAL:+3", StakeUnits: 1},
		{GameID: "G2", Side: "PHI:ML", StakeUnits: 4},
	}
	byTeam := StakeBy(board, Pick.TeamKey)
	assert.InDelta(t, 6.0, byTeam["PHI"], 1e-9)
	assert.InDelta(t, 1.0, byTeam["DAL"], 1e-9)
	assert.InDelta(t, 7.0, TotalStake(board), 1e-9)
}
