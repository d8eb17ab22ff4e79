package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/alejandrodnm/ironclad/internal/domain"
)

// Ledger persiste runs, picks y snapshots bajo un run_id para auditoría y replay.
// Un run tiene un solo writer; una vez escritos, sus picks no se reescriben.
type Ledger interface {
	// SaveRun registra (o actualiza) el manifest de un run en estado running.
	// Devuelve domain.ErrRunImmutable si el run ya está complete.
	SaveRun(ctx context.Context, m domain.RunManifest, startedAt time.Time) error
	// SetRunStatus marca un run running o failed; nunca toca uno complete.
	SetRunStatus(ctx context.Context, runID string, status domain.RunStatus) error
	// GetRun devuelve domain.ErrRunNotFound si el run no existe.
	GetRun(ctx context.Context, runID string) (domain.RunManifest, error)
	ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error)
	// LatestRun devuelve el último run complete, o domain.ErrRunNotFound.
	LatestRun(ctx context.Context) (domain.RunSummary, error)

	// WritePicks y WriteSizedPicks exigen un único run_id por lote y devuelven
	// domain.ErrRunImmutable si ese run ya tiene filas en la tabla.
	WritePicks(ctx context.Context, picks []domain.Pick) (int, error)
	WriteSizedPicks(ctx context.Context, picks []domain.Pick) (int, error)
	// CommitRun escribe ambas tablas y marca el run complete en una transacción.
	CommitRun(ctx context.Context, runID string, raw, sized []domain.Pick) error
	FetchPicks(ctx context.Context, runID string, sized bool) ([]domain.Pick, error)

	// LoadBoard devuelve todos los picks de (season, week) de la tabla elegida.
	LoadBoard(ctx context.Context, season, week int, sized bool) ([]domain.Pick, error)

	SaveSnapshot(ctx context.Context, runID, stage string, payload any) error
	// GetSnapshot devuelve (nil, false, nil) si no hay snapshot para esa etapa.
	GetSnapshot(ctx context.Context, runID, stage string) (json.RawMessage, bool, error)
	ListSnapshots(ctx context.Context, runID string) ([]string, error)
	// HarvestStats describe la cosecha más reciente de (season, week), sin replays.
	HarvestStats(ctx context.Context, season, week int) (domain.HarvestStats, error)

	Status(ctx context.Context) (domain.LedgerStatus, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
