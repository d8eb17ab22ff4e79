package picks

import (
	"testing"

	"github.com/alejandrodnm/ironclad/internal/domain"
	"github.com/stretchr/testify/assert"
)

func boardLine(market, book string, price int) domain.BoardLine {
	return domain.BoardLine{GameID: "G1", Book: book, Market: market, Side: "WAS", PriceAmerican: price}
}

func TestFilter_Apply_DefaultMarkets(t *testing.T) {
	f := NewFilter(DefaultFilterConfig())
	board := []domain.BoardLine{
		boardLine("ML", "DK", -145),
		boardLine("ats", "DK", -110),
		boardLine("OU", "DK", -110),
		boardLine("PROP", "DK", 300),
		boardLine("PARLAY", "DK", 600),
	}

	got := f.Apply(board)
	assert.Len(t, got, 3)
	assert.Equal(t, "ats", got[1].Market, "las líneas salen sin modificar")
}

func TestFilter_Apply_ByBookAndPrice(t *testing.T) {
	f := NewFilter(FilterConfig{Books: []string{"draftkings"}, MaxAbsPrice: 1000})
	board := []domain.BoardLine{
		boardLine("ML", "DraftKings", -145),
		boardLine("ML", "FanDuel", -140),
		boardLine("ML", "DraftKings", 2500),
		boardLine("ML", "DraftKings", 0),
	}

	got := f.Apply(board)
	assert.Len(t, got, 2)
	assert.Equal(t, -145, got[0].PriceAmerican)
	assert.Equal(t, 0, got[1].PriceAmerican)
}

func TestFilter_Apply_Empty(t *testing.T) {
	got := NewFilter(DefaultFilterConfig()).Apply(nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
