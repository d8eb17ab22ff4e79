// Package odds contiene los proveedores de board: el cliente HTTP del vendor
// y un board de demo integrado.
package odds

import (
	"context"
	"time"

	"github.com/alejandrodnm/ironclad/internal/domain"
)

// Fixture devuelve siempre el board de demo (NYG@WAS, DraftKings), sin red.
type Fixture struct {
	// Now fija el timestamp de las líneas; nil usa time.Now.
	Now func() time.Time
}

// FetchBoard implementa ports.BoardProvider.
func (f Fixture) FetchBoard(_ context.Context, _, _ int) ([]domain.BoardLine, error) {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	ts := now().UTC().Format(time.RFC3339)

	const game, book = "2025W1-NYG@WAS", "DraftKings"
	return []domain.BoardLine{
		{GameID: game, Book: book, Market: "ML", Side: "WAS", PriceAmerican: -145, TS: ts},
		{GameID: game, Book: book, Market: "ML", Side: "NYG", PriceAmerican: 125, TS: ts},
		{GameID: game, Book: book, Market: "ATS", Side: "WAS", Line: domain.Float64Ptr(-3.0), PriceAmerican: -110, TS: ts},
		{GameID: game, Book: book, Market: "OU", Side: "Over", Line: domain.Float64Ptr(42.5), PriceAmerican: -110, TS: ts},
		{GameID: game, Book: book, Market: "OU", Side: "Under", Line: domain.Float64Ptr(42.5), PriceAmerican: -110, TS: ts},
	}, nil
}
