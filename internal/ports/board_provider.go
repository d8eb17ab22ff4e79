package ports

import (
	"context"

	"github.com/alejandrodnm/ironclad/internal/domain"
)

// BoardProvider obtiene las cotizaciones de los books para una jornada.
type BoardProvider interface {
	// FetchBoard devuelve una línea por (partido, book, mercado, lado).
	FetchBoard(ctx context.Context, season, week int) ([]domain.BoardLine, error)
}
