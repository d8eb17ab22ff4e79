package picks

import (
	"strings"

	"github.com/alejandrodnm/ironclad/internal/domain"
)

// FilterConfig contiene los parámetros del preslate: qué líneas del board
// llegan al synthesizer.
type FilterConfig struct {
	// Markets son los mercados admitidos. Vacío admite todos los conocidos.
	Markets []domain.Market
	// Books limita a ciertos books (sin distinguir mayúsculas). Vacío admite todos.
	Books []string
	// MaxAbsPrice descarta cuotas con |precio| mayor. 0 desactiva el filtro.
	// Un precio 0 nunca se descarta aquí: el synthesizer lo reporta como error.
	MaxAbsPrice int
}

// DefaultFilterConfig: ML, ATS y OU, cualquier book, sin límite de precio.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		Markets: []domain.Market{domain.MarketML, domain.MarketATS, domain.MarketOU},
	}
}

// Filter aplica el preslate sobre un board.
type Filter struct {
	cfg FilterConfig
}

// NewFilter crea un Filter con la configuración dada.
func NewFilter(cfg FilterConfig) *Filter {
	return &Filter{cfg: cfg}
}

// Apply devuelve las líneas que pasan todos los filtros, en orden.
func (f *Filter) Apply(board []domain.BoardLine) []domain.BoardLine {
	result := make([]domain.BoardLine, 0, len(board))
	for _, line := range board {
		if f.passes(line) {
			result = append(result, line)
		}
	}
	return result
}

// passes devuelve true si la línea supera todos los criterios.
func (f *Filter) passes(line domain.BoardLine) bool {
	market, err := domain.ParseMarket(line.Market)
	if err != nil {
		return false
	}
	if len(f.cfg.Markets) > 0 && !containsMarket(f.cfg.Markets, market) {
		return false
	}
	if len(f.cfg.Books) > 0 && !containsFold(f.cfg.Books, line.Book) {
		return false
	}
	if f.cfg.MaxAbsPrice > 0 && abs(line.PriceAmerican) > f.cfg.MaxAbsPrice {
		return false
	}
	return true
}

func containsMarket(ms []domain.Market, m domain.Market) bool {
	for _, x := range ms {
		if x == m {
			return true
		}
	}
	return false
}

func containsFold(xs []string, s string) bool {
	for _, x := range xs {
		if strings.EqualFold(x, s) {
			return true
		}
	}
	return false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
