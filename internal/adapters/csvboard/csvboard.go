// Package csvboard lee y escribe boards de picks en CSV.
//
// La lectura valida el schema: las columnas obligatorias deben estar y solo
// pueden faltar las que aparecen en Defaults.
package csvboard

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/ironclad/internal/domain"
)

// Columns es el orden canónico de columnas que escribe Write.
var Columns = []string{
	"run_id", "game_id", "season", "week", "market", "side", "line", "price_american",
	"model_prob", "fair_price_american", "ev_percent", "z_score", "robust_ev_percent",
	"grade", "kelly_fraction", "stake_units", "book", "ts_created",
}

// Required son las columnas que deben estar en la cabecera.
var Required = []string{
	"run_id", "game_id", "season", "week", "market", "side", "line", "price_american",
	"model_prob", "ev_percent", "book", "ts_created",
}

// Defaults es la única tabla de valores para una columna opcional ausente de
// la cabecera o vacía en una fila.
var Defaults = map[string]string{
	"grade":               string(domain.GradeNoPick),
	"kelly_fraction":      "0",
	"stake_units":         "0",
	"fair_price_american": "0",
	"z_score":             "0",
	"robust_ev_percent":   "0",
}

// Read parsea un board. Si faltan columnas obligatorias o hay celdas
// ilegibles, devuelve un *domain.ValidationError con todos los problemas.
func Read(r io.Reader) ([]domain.Pick, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &domain.ValidationError{Context: "csvboard.Read", Fields: []string{"header"}}
	}
	if err != nil {
		return nil, fmt.Errorf("csvboard.Read: header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	var missing []string
	for _, col := range Required {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &domain.ValidationError{Context: "csvboard.Read: missing columns", Fields: missing}
	}

	picks := []domain.Pick{}
	var bad []string
	for row := 2; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csvboard.Read: row %d: %w", row, err)
		}
		p, fields := decodeRow(rec, idx)
		for _, f := range fields {
			bad = append(bad, fmt.Sprintf("row %d: %s", row, f))
		}
		picks = append(picks, p)
	}
	if len(bad) > 0 {
		return nil, &domain.ValidationError{Context: "csvboard.Read", Fields: bad}
	}
	return picks, nil
}

type rowReader struct {
	rec []string
	idx map[string]int
	bad []string
}

func (r *rowReader) str(col string) string {
	if i, ok := r.idx[col]; ok && i < len(r.rec) {
		if v := strings.TrimSpace(r.rec[i]); v != "" {
			return v
		}
	}
	return Defaults[col]
}

func (r *rowReader) int(col string) int {
	s := r.str(col)
	if s == "" {
		r.bad = append(r.bad, col)
		return 0
	}
	// Los exports de pandas escriben enteros como "-145.0".
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		r.bad = append(r.bad, fmt.Sprintf("%s=%q", col, s))
		return 0
	}
	return int(f)
}

func (r *rowReader) float(col string) float64 {
	s := r.str(col)
	if s == "" {
		r.bad = append(r.bad, col)
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		r.bad = append(r.bad, fmt.Sprintf("%s=%q", col, s))
		return 0
	}
	return f
}

func decodeRow(rec []string, idx map[string]int) (domain.Pick, []string) {
	r := &rowReader{rec: rec, idx: idx}
	p := domain.Pick{
		RunID:             r.str("run_id"),
		GameID:            r.str("game_id"),
		Season:            r.int("season"),
		Week:              r.int("week"),
		Side:              r.str("side"),
		PriceAmerican:     r.int("price_american"),
		Book:              r.str("book"),
		ModelProb:         r.float("model_prob"),
		FairPriceAmerican: r.int("fair_price_american"),
		EVPercent:         r.float("ev_percent"),
		ZScore:            r.float("z_score"),
		RobustEVPercent:   r.float("robust_ev_percent"),
		KellyFraction:     r.float("kelly_fraction"),
		StakeUnits:        r.float("stake_units"),
	}

	if m, err := domain.ParseMarket(r.str("market")); err == nil {
		p.Market = m
	} else {
		r.bad = append(r.bad, fmt.Sprintf("market=%q", r.str("market")))
	}
	if g, err := domain.ParseGrade(r.str("grade")); err == nil {
		p.Grade = g
	} else {
		r.bad = append(r.bad, fmt.Sprintf("grade=%q", r.str("grade")))
	}
	if s := r.str("line"); s != "" {
		p.Line = domain.Float64Ptr(r.float("line"))
	}
	if s := r.str("ts_created"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			r.bad = append(r.bad, fmt.Sprintf("ts_created=%q", s))
		}
		p.CreatedAt = t.UTC()
	}
	return p, r.bad
}

// Write escribe picks con la cabecera canónica. Una línea nil y un
// timestamp cero quedan como celdas vacías.
func Write(w io.Writer, picks []domain.Pick) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("csvboard.Write: header: %w", err)
	}
	for _, p := range picks {
		if err := cw.Write(encodeRow(p)); err != nil {
			return fmt.Errorf("csvboard.Write: %s/%s: %w", p.GameID, p.Side, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("csvboard.Write: flush: %w", err)
	}
	return nil
}

func encodeRow(p domain.Pick) []string {
	line := ""
	if p.Line != nil {
		line = ftoa(*p.Line)
	}
	ts := ""
	if !p.CreatedAt.IsZero() {
		ts = p.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return []string{
		p.RunID, p.GameID, strconv.Itoa(p.Season), strconv.Itoa(p.Week),
		string(p.Market), p.Side, line, strconv.Itoa(p.PriceAmerican),
		ftoa(p.ModelProb), strconv.Itoa(p.FairPriceAmerican), ftoa(p.EVPercent),
		ftoa(p.ZScore), ftoa(p.RobustEVPercent),
		string(p.Grade), ftoa(p.KellyFraction), ftoa(p.StakeUnits), p.Book, ts,
	}
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// OptionalColumns lista, ordenadas, las columnas que caen a Defaults.
func OptionalColumns() []string {
	cols := make([]string, 0, len(Defaults))
	for c := range Defaults {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}
