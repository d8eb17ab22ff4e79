package storage

// sqlite.go: ledger de runs sobre SQLite (pure Go, sin CGo).
//
// Tablas:
//   runs         manifest por run (profile, season/week, settings JSON, status)
//   picks        picks sin dimensionar, inmutables una vez escritos
//   picks_sized  mismos campos con stake_units calculado por el sizer
//   snapshots    payload JSON por (run_id, stage) para replay determinista

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/ironclad/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id        TEXT PRIMARY KEY,
    season        INTEGER NOT NULL,
    week          INTEGER NOT NULL,
    profile       TEXT    NOT NULL,
    settings_json TEXT    NOT NULL DEFAULT '{}',
    status        TEXT    NOT NULL DEFAULT 'running',
    started_at    TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS picks (` + pickColumnsDDL + `);
CREATE TABLE IF NOT EXISTS picks_sized (` + pickColumnsDDL + `);

CREATE TABLE IF NOT EXISTS snapshots (
    run_id     TEXT NOT NULL,
    stage      TEXT NOT NULL,
    payload    TEXT NOT NULL,
    ts_created TEXT NOT NULL,
    PRIMARY KEY (run_id, stage)
);

CREATE INDEX IF NOT EXISTS idx_runs_started      ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_picks_run         ON picks(run_id);
CREATE INDEX IF NOT EXISTS idx_picks_week        ON picks(season, week);
CREATE INDEX IF NOT EXISTS idx_picks_sized_run   ON picks_sized(run_id);
CREATE INDEX IF NOT EXISTS idx_picks_sized_week  ON picks_sized(season, week);
`

const pickColumnsDDL = `
    run_id              TEXT    NOT NULL,
    game_id             TEXT    NOT NULL,
    season              INTEGER NOT NULL,
    week                INTEGER NOT NULL,
    market              TEXT    NOT NULL,
    side                TEXT    NOT NULL,
    line                REAL,
    price_american      INTEGER NOT NULL,
    model_prob          REAL,
    fair_price_american INTEGER,
    ev_percent          REAL,
    z_score             REAL,
    robust_ev_percent   REAL,
    grade               TEXT,
    kelly_fraction      REAL,
    stake_units         REAL,
    book                TEXT,
    ts_created          TEXT
`

// Ancho fijo: ordenar el texto equivale a ordenar por tiempo.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStorage implementa ports.Ledger usando SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada y aplica el schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	if err := migrateRunStatus(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// migrateRunStatus añade runs.status a ledgers anteriores a la columna.
// Esos runs se escribieron enteros, así que quedan como complete.
func migrateRunStatus(db *sql.DB) error {
	var n int
	if err := db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('runs') WHERE name = 'status'`,
	).Scan(&n); err != nil {
		return fmt.Errorf("inspect runs: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.Exec(`ALTER TABLE runs ADD COLUMN status TEXT NOT NULL DEFAULT 'complete'`); err != nil {
		return fmt.Errorf("add runs.status: %w", err)
	}
	return nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// ─── Runs ────────────────────────────────────────────────────────────────────

// SaveRun inserta o reemplaza el manifest de un run y lo deja en running.
// Un run complete no se reemplaza: devuelve domain.ErrRunImmutable.
func (s *SQLiteStorage) SaveRun(ctx context.Context, m domain.RunManifest, startedAt time.Time) error {
	settings, err := json.Marshal(orEmpty(m.Settings))
	if err != nil {
		return fmt.Errorf("storage.SaveRun: marshal settings: %w", err)
	}
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveRun: begin tx: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE run_id = ?`, m.RunID).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("storage.SaveRun: %s: %w", m.RunID, err)
	case domain.RunStatus(status) == domain.RunComplete:
		return fmt.Errorf("storage.SaveRun: %s is complete: %w", m.RunID, domain.ErrRunImmutable)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (run_id, season, week, profile, settings_json, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.RunID, m.Season, m.Week, m.Profile, string(settings), string(domain.RunRunning), formatTS(startedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveRun: %s: %w", m.RunID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveRun: %s: commit: %w", m.RunID, err)
	}
	return nil
}

// SetRunStatus cambia el estado de un run que todavía no está complete.
// Solo CommitRun marca un run como complete.
func (s *SQLiteStorage) SetRunStatus(ctx context.Context, runID string, status domain.RunStatus) error {
	if status == domain.RunComplete {
		return &domain.ValidationError{Context: "storage.SetRunStatus", Fields: []string{"status=complete (use CommitRun)"}}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ? WHERE run_id = ? AND status != ?`,
		string(status), runID, string(domain.RunComplete))
	if err != nil {
		return fmt.Errorf("storage.SetRunStatus: %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := s.GetRun(ctx, runID); err != nil {
			return fmt.Errorf("storage.SetRunStatus: %w", err)
		}
		return fmt.Errorf("storage.SetRunStatus: %s is complete: %w", runID, domain.ErrRunImmutable)
	}
	return nil
}

// GetRun devuelve el manifest o domain.ErrRunNotFound.
func (s *SQLiteStorage) GetRun(ctx context.Context, runID string) (domain.RunManifest, error) {
	var m domain.RunManifest
	var settings string
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, season, week, profile, settings_json FROM runs WHERE run_id = ?`, runID,
	).Scan(&m.RunID, &m.Season, &m.Week, &m.Profile, &settings)
	if errors.Is(err, sql.ErrNoRows) {
		return m, fmt.Errorf("storage.GetRun: %s: %w", runID, domain.ErrRunNotFound)
	}
	if err != nil {
		return m, fmt.Errorf("storage.GetRun: %s: %w", runID, err)
	}
	if err := decodeSettings(settings, &m); err != nil {
		return m, fmt.Errorf("storage.GetRun: %s: %w", runID, err)
	}
	return m, nil
}

// ListRuns devuelve los últimos runs, en cualquier estado, con su número de
// picks. Más reciente primero.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	runs, err := s.listRuns(ctx, "", limit)
	if err != nil {
		return nil, fmt.Errorf("storage.ListRuns: %w", err)
	}
	return runs, nil
}

func (s *SQLiteStorage) listRuns(ctx context.Context, status domain.RunStatus, limit int) ([]domain.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.season, r.week, r.profile, r.settings_json, r.status, r.started_at,
		       COALESCE(p.n, 0)
		FROM runs r
		LEFT JOIN (SELECT run_id, COUNT(*) AS n FROM picks GROUP BY run_id) p
		       ON p.run_id = r.run_id
		WHERE ? = '' OR r.status = ?
		ORDER BY r.started_at DESC, r.rowid DESC
		LIMIT ?`, string(status), string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []domain.RunSummary
	for rows.Next() {
		var rs domain.RunSummary
		var settings, st, started string
		if err := rows.Scan(&rs.RunID, &rs.Season, &rs.Week, &rs.Profile, &settings, &st, &started, &rs.PickCount); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if err := decodeSettings(settings, &rs.RunManifest); err != nil {
			return nil, fmt.Errorf("%s: %w", rs.RunID, err)
		}
		rs.Status = domain.RunStatus(st)
		rs.StartedAt = parseTS(started)
		out = append(out, rs)
	}
	return out, rows.Err()
}

// ─── Snapshots ───────────────────────────────────────────────────────────────

// SaveSnapshot serializa payload a JSON y lo guarda bajo (runID, stage).
func (s *SQLiteStorage) SaveSnapshot(ctx context.Context, runID, stage string, payload any) error {
	var data []byte
	switch v := payload.(type) {
	case json.RawMessage:
		data = v
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("storage.SaveSnapshot: %s/%s: marshal: %w", runID, stage, err)
		}
		data = b
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshots (run_id, stage, payload, ts_created)
		VALUES (?, ?, ?, ?)`,
		runID, stage, string(data), formatTS(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveSnapshot: %s/%s: %w", runID, stage, err)
	}
	return nil
}

// GetSnapshot devuelve el payload guardado, o ok=false si no existe.
func (s *SQLiteStorage) GetSnapshot(ctx context.Context, runID, stage string) (json.RawMessage, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM snapshots WHERE run_id = ? AND stage = ?`, runID, stage,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage.GetSnapshot: %s/%s: %w", runID, stage, err)
	}
	return json.RawMessage(payload), true, nil
}

// ListSnapshots devuelve las etapas guardadas de un run, en orden alfabético.
func (s *SQLiteStorage) ListSnapshots(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage FROM snapshots WHERE run_id = ? ORDER BY stage`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage.ListSnapshots: %w", err)
	}
	defer rows.Close()

	var stages []string
	for rows.Next() {
		var stage string
		if err := rows.Scan(&stage); err != nil {
			return nil, fmt.Errorf("storage.ListSnapshots: scan: %w", err)
		}
		stages = append(stages, stage)
	}
	return stages, rows.Err()
}

// HarvestStats devuelve el snapshot de harvest más reciente de (season, week)
// con su número de líneas. Las copias de un replay no cuentan: no son una
// cosecha nueva.
func (s *SQLiteStorage) HarvestStats(ctx context.Context, season, week int) (domain.HarvestStats, error) {
	stats, err := harvestStats(ctx, s.db, season, week)
	if err != nil {
		return stats, fmt.Errorf("storage.HarvestStats: %w", err)
	}
	return stats, nil
}

func harvestStats(ctx context.Context, q querier, season, week int) (domain.HarvestStats, error) {
	stats := domain.HarvestStats{Season: season, Week: week}
	rows, err := q.QueryContext(ctx, `
		SELECT s.run_id, s.payload, s.ts_created
		FROM snapshots s
		JOIN runs r ON r.run_id = s.run_id
		WHERE s.stage = ? AND r.season = ? AND r.week = ?
		  AND COALESCE(json_extract(r.settings_json, '$.use_snapshots'), 0) = 0
		ORDER BY s.ts_created DESC, s.rowid DESC
		LIMIT 1`, domain.StageHarvest, season, week)
	if err != nil {
		return stats, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return stats, rows.Err()
	}
	var payload, created string
	if err := rows.Scan(&stats.RunID, &payload, &created); err != nil {
		return stats, fmt.Errorf("scan row: %w", err)
	}
	var board struct {
		Board []json.RawMessage `json:"board"`
	}
	if err := json.Unmarshal([]byte(payload), &board); err != nil {
		return stats, fmt.Errorf("decode harvest of %s: %w", stats.RunID, err)
	}
	stats.Found = true
	stats.TakenAt = parseTS(created)
	stats.Lines = len(board.Board)
	return stats, rows.Err()
}

// ─── Status ──────────────────────────────────────────────────────────────────

// Status cuenta runs y picks y devuelve el último run.
func (s *SQLiteStorage) Status(ctx context.Context) (domain.LedgerStatus, error) {
	var st domain.LedgerStatus
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM runs),
		       (SELECT COUNT(*) FROM picks),
		       (SELECT COUNT(*) FROM picks_sized)`,
	).Scan(&st.Runs, &st.Picks, &st.SizedPicks)
	if err != nil {
		return st, fmt.Errorf("storage.Status: %w", err)
	}

	latest, err := s.LatestRun(ctx)
	switch {
	case errors.Is(err, domain.ErrRunNotFound):
	case err != nil:
		return st, err
	default:
		st.LatestRun = &latest
	}
	return st, nil
}

// LatestRun devuelve el run complete más reciente, o domain.ErrRunNotFound si
// no hay ninguno. Los runs running o failed no cuentan.
func (s *SQLiteStorage) LatestRun(ctx context.Context) (domain.RunSummary, error) {
	runs, err := s.listRuns(ctx, domain.RunComplete, 1)
	if err != nil {
		return domain.RunSummary{}, fmt.Errorf("storage.LatestRun: %w", err)
	}
	if len(runs) == 0 {
		return domain.RunSummary{}, fmt.Errorf("storage.LatestRun: %w", domain.ErrRunNotFound)
	}
	return runs[0], nil
}

// --- helpers internos ---

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

// parseTS acepta el layout propio y RFC3339; un valor ilegible queda en cero.
func parseTS(s string) time.Time {
	for _, layout := range []string{tsLayout, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func decodeSettings(raw string, m *domain.RunManifest) error {
	m.Settings = map[string]any{}
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &m.Settings); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	return nil
}
