package ports

import (
	"github.com/alejandrodnm/ironclad/internal/domain"
)

// Reporter presenta boards y reportes de guardrail al usuario.
// En la implementación de consola, imprime tablas formateadas.
type Reporter interface {
	Board(title string, picks []domain.Pick) error
	Guardrail(report domain.Report) error
}
