package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/alejandrodnm/ironclad/internal/domain"
)

const pickColumns = `run_id, game_id, season, week, market, side, line, price_american,
	model_prob, fair_price_american, ev_percent, z_score, robust_ev_percent,
	grade, kelly_fraction, stake_units, book, ts_created`

// querier es lo común entre *sql.DB y *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func pickTable(sized bool) string {
	if sized {
		return "picks_sized"
	}
	return "picks"
}

// WritePicks persiste los picks sin dimensionar de un run.
func (s *SQLiteStorage) WritePicks(ctx context.Context, picks []domain.Pick) (int, error) {
	return s.writePicks(ctx, "storage.WritePicks", pickTable(false), picks)
}

// WriteSizedPicks persiste los picks ya dimensionados de un run.
func (s *SQLiteStorage) WriteSizedPicks(ctx context.Context, picks []domain.Pick) (int, error) {
	return s.writePicks(ctx, "storage.WriteSizedPicks", pickTable(true), picks)
}

func (s *SQLiteStorage) writePicks(ctx context.Context, op, table string, picks []domain.Pick) (int, error) {
	if len(picks) == 0 {
		return 0, nil
	}
	runID := picks[0].RunID
	if err := validateBatch(op, runID, picks); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer tx.Rollback()

	if err := insertPicks(ctx, tx, op, table, runID, picks); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: commit: %w", op, err)
	}
	return len(picks), nil
}

// CommitRun escribe picks y picks_sized de un run y lo marca complete en una
// sola transacción: o queda todo, o no queda nada.
func (s *SQLiteStorage) CommitRun(ctx context.Context, runID string, raw, sized []domain.Pick) error {
	const op = "storage.CommitRun"
	if err := validateBatch(op, runID, raw); err != nil {
		return err
	}
	if err := validateBatch(op, runID, sized); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE run_id = ?`, runID).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %s: %w", op, runID, domain.ErrRunNotFound)
	case err != nil:
		return fmt.Errorf("%s: %s: %w", op, runID, err)
	case domain.RunStatus(status) == domain.RunComplete:
		return fmt.Errorf("%s: %s is complete: %w", op, runID, domain.ErrRunImmutable)
	}

	if err := insertPicks(ctx, tx, op, pickTable(false), runID, raw); err != nil {
		return err
	}
	if err := insertPicks(ctx, tx, op, pickTable(true), runID, sized); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ? WHERE run_id = ?`, string(domain.RunComplete), runID,
	); err != nil {
		return fmt.Errorf("%s: %s: set status: %w", op, runID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

// validateBatch exige que todos los picks sean válidos y de runID.
func validateBatch(op, runID string, picks []domain.Pick) error {
	for i, p := range picks {
		if p.RunID != runID {
			return &domain.ValidationError{
				Context: op,
				Fields:  []string{fmt.Sprintf("picks[%d].run_id=%q (batch run_id %q)", i, p.RunID, runID)},
			}
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%s: picks[%d]: %w", op, i, err)
		}
	}
	return nil
}

func insertPicks(ctx context.Context, tx *sql.Tx, op, table, runID string, picks []domain.Pick) error {
	// Un run escrito no se reescribe: re-dimensionar crea un run nuevo.
	var existing int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+table+` WHERE run_id = ?`, runID,
	).Scan(&existing); err != nil {
		return fmt.Errorf("%s: check run %s: %w", op, runID, err)
	}
	if existing > 0 {
		return fmt.Errorf("%s: %s already has %d rows in %s: %w", op, runID, existing, table, domain.ErrRunImmutable)
	}
	if len(picks) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO `+table+` (`+pickColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%s: prepare: %w", op, err)
	}
	defer stmt.Close()

	for _, p := range picks {
		var created any
		if !p.CreatedAt.IsZero() {
			created = formatTS(p.CreatedAt)
		}
		if _, err := stmt.ExecContext(ctx,
			p.RunID,
			p.GameID,
			p.Season,
			p.Week,
			string(p.Market),
			p.Side,
			p.Line, // NULL cuando el mercado no tiene línea
			p.PriceAmerican,
			p.ModelProb,
			p.FairPriceAmerican,
			p.EVPercent,
			p.ZScore,
			p.RobustEVPercent,
			string(p.Grade),
			p.KellyFraction,
			p.StakeUnits,
			p.Book,
			created,
		); err != nil {
			return fmt.Errorf("%s: insert %s/%s: %w", op, p.GameID, p.Side, err)
		}
	}
	return nil
}

// FetchPicks devuelve los picks de un run en orden de inserción.
func (s *SQLiteStorage) FetchPicks(ctx context.Context, runID string, sized bool) ([]domain.Pick, error) {
	picks, err := queryPicks(ctx, s.db,
		`SELECT `+pickColumns+` FROM `+pickTable(sized)+` WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage.FetchPicks: %s: %w", runID, err)
	}
	return picks, nil
}

// LoadBoard devuelve todos los picks de (season, week), de cualquier run.
func (s *SQLiteStorage) LoadBoard(ctx context.Context, season, week int, sized bool) ([]domain.Pick, error) {
	picks, err := loadBoard(ctx, s.db, season, week, sized)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadBoard: %w", err)
	}
	return picks, nil
}

func loadBoard(ctx context.Context, q querier, season, week int, sized bool) ([]domain.Pick, error) {
	return queryPicks(ctx, q,
		`SELECT `+pickColumns+` FROM `+pickTable(sized)+` WHERE season = ? AND week = ? ORDER BY rowid`,
		season, week)
}

// queryPicks escanea filas de picks aplicando los defaults de columnas nulas:
// grade → NO_PICK; kelly, stake y métricas → 0.
func queryPicks(ctx context.Context, q querier, query string, args ...any) ([]domain.Pick, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	picks := []domain.Pick{}
	for rows.Next() {
		var (
			p                        domain.Pick
			market                   string
			line                     sql.NullFloat64
			modelProb, ev, z, robust sql.NullFloat64
			kelly, stake             sql.NullFloat64
			fair                     sql.NullInt64
			grade, book, created     sql.NullString
		)
		if err := rows.Scan(
			&p.RunID, &p.GameID, &p.Season, &p.Week, &market, &p.Side, &line, &p.PriceAmerican,
			&modelProb, &fair, &ev, &z, &robust,
			&grade, &kelly, &stake, &book, &created,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		p.Market = domain.Market(market)
		if line.Valid {
			p.Line = domain.Float64Ptr(line.Float64)
		}
		p.ModelProb = modelProb.Float64
		p.FairPriceAmerican = int(fair.Int64)
		p.EVPercent = ev.Float64
		p.ZScore = z.Float64
		p.RobustEVPercent = robust.Float64
		p.Grade = domain.GradeNoPick
		if grade.Valid && grade.String != "" {
			p.Grade = domain.Grade(grade.String)
		}
		p.KellyFraction = kelly.Float64
		p.StakeUnits = stake.Float64
		p.Book = book.String
		if created.Valid {
			p.CreatedAt = parseTS(created.String)
		}
		picks = append(picks, p)
	}
	return picks, rows.Err()
}

// FileBoardSource lee el board directamente de un fichero de ledger, en solo lectura.
// Un fichero o una tabla inexistentes se reportan como domain.ErrStorageUnavailable.
type FileBoardSource struct {
	Path string
}

// LoadBoard implementa guardrail.BoardSource.
func (f FileBoardSource) LoadBoard(ctx context.Context, season, week int, sized bool) ([]domain.Pick, error) {
	db, err := f.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	picks, err := loadBoard(ctx, db, season, week, sized)
	if err != nil {
		return nil, f.wrap(err)
	}
	return picks, nil
}

// HarvestStats implementa guardrail.StatsSource.
func (f FileBoardSource) HarvestStats(ctx context.Context, season, week int) (domain.HarvestStats, error) {
	db, err := f.open()
	if err != nil {
		return domain.HarvestStats{Season: season, Week: week}, err
	}
	defer db.Close()

	stats, err := harvestStats(ctx, db, season, week)
	if err != nil {
		return stats, f.wrap(err)
	}
	return stats, nil
}

func (f FileBoardSource) open() (*sql.DB, error) {
	if _, err := os.Stat(f.Path); err != nil {
		return nil, fmt.Errorf("storage.FileBoardSource: %s: %v: %w", f.Path, err, domain.ErrStorageUnavailable)
	}
	db, err := sql.Open("sqlite", "file:"+f.Path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("storage.FileBoardSource: open %s: %v: %w", f.Path, err, domain.ErrStorageUnavailable)
	}
	return db, nil
}

// wrap marca "no such table" como ledger no disponible.
func (f FileBoardSource) wrap(err error) error {
	if strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("storage.FileBoardSource: %s: %v: %w", f.Path, err, domain.ErrStorageUnavailable)
	}
	return fmt.Errorf("storage.FileBoardSource: %w", err)
}
