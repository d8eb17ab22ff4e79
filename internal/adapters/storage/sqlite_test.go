package storage_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alejandrodnm/ironclad/internal/adapters/storage"
	"github.com/alejandrodnm/ironclad/internal/domain"
	"github.com/alejandrodnm/ironclad/internal/guardrail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makePick(runID, game, side string, stake float64) domain.Pick {
	return domain.Pick{
		RunID:             runID,
		GameID:            game,
		Season:            2025,
		Week:              1,
		Market:            domain.MarketML,
		Side:              side,
		PriceAmerican:     -145,
		Book:              "DraftKings",
		ModelProb:         0.61,
		FairPriceAmerican: -156,
		EVPercent:         3.07,
		RobustEVPercent:   3.07,
		Grade:             domain.GradeA,
		KellyFraction:     0.05,
		StakeUnits:        stake,
		CreatedAt:         time.Date(2025, 9, 7, 12, 0, 0, 0, time.UTC),
	}
}

func newLedger(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteStorage_WriteAndFetchPicks(t *testing.T) {
	db := newLedger(t)
	ctx := context.Background()

	ats := makePick("r1", "2025W1-NYG@WAS", "WAS:-3", 0)
	ats.Market = domain.MarketATS
	ats.Line = domain.Float64Ptr(-3)

	n, err := db.WritePicks(ctx, []domain.Pick{makePick("r1", "2025W1-NYG@WAS", "WAS", 0), ats})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := db.FetchPicks(ctx, "r1", false)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "WAS", got[0].Side)
	assert.Nil(t, got[0].Line)
	require.NotNil(t, got[1].Line)
	assert.Equal(t, -3.0, *got[1].Line)
	assert.Equal(t, domain.GradeA, got[0].Grade)
	assert.Equal(t, -156, got[0].FairPriceAmerican)
	assert.True(t, got[0].CreatedAt.Equal(time.Date(2025, 9, 7, 12, 0, 0, 0, time.UTC)))

	sized, err := db.FetchPicks(ctx, "r1", true)
	require.NoError(t, err)
	assert.Empty(t, sized, "picks y picks_sized son tablas separadas")
}

func TestSQLiteStorage_RunIsImmutable(t *testing.T) {
	db := newLedger(t)
	ctx := context.Background()

	_, err := db.WriteSizedPicks(ctx, []domain.Pick{makePick("r1", "G1", "WAS", 1)})
	require.NoError(t, err)

	_, err = db.WriteSizedPicks(ctx, []domain.Pick{makePick("r1", "G2", "NYG", 1)})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRunImmutable)

	got, err := db.FetchPicks(ctx, "r1", true)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLiteStorage_RejectsMixedRunsAndInvalidPicks(t *testing.T) {
	db := newLedger(t)
	ctx := context.Background()

	_, err := db.WritePicks(ctx, []domain.Pick{makePick("r1", "G1", "WAS", 0), makePick("r2", "G1", "NYG", 0)})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	bad := makePick("r3", "G1", "WAS", 0)
	bad.PriceAmerican = 0
	bad.Week = 40
	_, err = db.WritePicks(ctx, []domain.Pick{bad})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.Contains(t, err.Error(), "price_american")
	assert.Contains(t, err.Error(), "week=40")

	// nada se escribió
	st, err := db.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Picks)
}

func TestSQLiteStorage_EmptyBatch(t *testing.T) {
	db := newLedger(t)
	n, err := db.WritePicks(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSQLiteStorage_LoadBoardAcrossRuns(t *testing.T) {
	db := newLedger(t)
	ctx := context.Background()

	_, err := db.WriteSizedPicks(ctx, []domain.Pick{makePick("r1", "G1", "WAS", 2)})
	require.NoError(t, err)
	_, err = db.WriteSizedPicks(ctx, []domain.Pick{makePick("r2", "G2", "NYG", 3)})
	require.NoError(t, err)

	other := makePick("r3", "G9", "DAL", 9)
	other.Week = 2
	_, err = db.WriteSizedPicks(ctx, []domain.Pick{other})
	require.NoError(t, err)

	board, err := db.LoadBoard(ctx, 2025, 1, true)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.InDelta(t, 5.0, domain.TotalStake(board), 1e-9)

	empty, err := db.LoadBoard(ctx, 2025, 1, false)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestSQLiteStorage_Runs(t *testing.T) {
	db := newLedger(t)
	ctx := context.Background()
	base := time.Date(2025, 9, 7, 10, 0, 0, 0, time.UTC)

	first := domain.RunManifest{RunID: "default-2025w1-aaaa1111", Season: 2025, Week: 1, Profile: "default",
		Settings: map[string]any{"kelly_scale": 0.25}}
	second := domain.RunManifest{RunID: "default-2025w1-bbbb2222", Season: 2025, Week: 1, Profile: "default"}

	require.NoError(t, db.SaveRun(ctx, first, base))
	require.NoError(t, db.SaveRun(ctx, second, base.Add(time.Minute)))
	err := db.CommitRun(ctx, first.RunID, []domain.Pick{makePick(first.RunID, "G1", "WAS", 0), makePick(first.RunID, "G1", "NYG", 0)}, nil)
	require.NoError(t, err)
	require.NoError(t, db.CommitRun(ctx, second.RunID, nil, nil))

	got, err := db.GetRun(ctx, first.RunID)
	require.NoError(t, err)
	assert.Equal(t, "default", got.Profile)
	assert.Equal(t, 0.25, got.Settings["kelly_scale"])

	_, err = db.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)

	runs, err := db.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunID, runs[0].RunID, "más reciente primero")
	assert.Equal(t, 2, runs[1].PickCount)
	assert.True(t, runs[1].StartedAt.Equal(base))
	assert.Equal(t, domain.RunComplete, runs[0].Status)

	st, err := db.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Runs)
	assert.Equal(t, 2, st.Picks)
	require.NotNil(t, st.LatestRun)
	assert.Equal(t, second.RunID, st.LatestRun.RunID)

	latest, err := db.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.RunID, latest.RunID)
}

func TestSQLiteStorage_LatestRunEmpty(t *testing.T) {
	db := newLedger(t)
	_, err := db.LatestRun(context.Background())
	assert.ErrorIs(t, err, domain.ErrRunNotFound)

	st, err := db.Status(context.Background())
	require.NoError(t, err)
	assert.Nil(t, st.LatestRun)
}

func TestSQLiteStorage_RunStatusLifecycle(t *testing.T) {
	db := newLedger(t)
	ctx := context.Background()
	m := domain.RunManifest{RunID: "default-2025w1-cccc3333", Season: 2025, Week: 1, Profile: "default"}

	require.NoError(t, db.SaveRun(ctx, m, time.Time{}))
	runs, err := db.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunRunning, runs[0].Status)

	_, err = db.LatestRun(ctx)
	assert.ErrorIs(t, err, domain.ErrRunNotFound, "un run running no es el último")

	require.NoError(t, db.CommitRun(ctx, m.RunID,
		[]domain.Pick{makePick(m.RunID, "G1", "WAS", 0)},
		[]domain.Pick{makePick(m.RunID, "G1", "WAS", 1.5)}))

	latest, err := db.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.RunComplete, latest.Status)
	assert.Equal(t, 1, latest.PickCount)

	assert.ErrorIs(t, db.SaveRun(ctx, m, time.Time{}), domain.ErrRunImmutable)
	assert.ErrorIs(t, db.SetRunStatus(ctx, m.RunID, domain.RunFailed), domain.ErrRunImmutable)
	assert.ErrorIs(t, db.CommitRun(ctx, m.RunID, nil, nil), domain.ErrRunImmutable)
	assert.ErrorIs(t, db.SetRunStatus(ctx, "missing", domain.RunFailed), domain.ErrRunNotFound)
	assert.True(t, domain.IsValidation(db.SetRunStatus(ctx, m.RunID, domain.RunComplete)))
}

func TestSQLiteStorage_CommitRunIsAtomic(t *testing.T) {
	db := newLedger(t)
	ctx := context.Background()
	m := domain.RunManifest{RunID: "default-2025w1-dddd4444", Season: 2025, Week: 1, Profile: "default"}
	require.NoError(t, db.SaveRun(ctx, m, time.Time{}))

	// Una fila previa en picks_sized hace fallar la segunda mitad del commit.
	_, err := db.WriteSizedPicks(ctx, []domain.Pick{makePick(m.RunID, "G0", "NYG", 1)})
	require.NoError(t, err)

	err = db.CommitRun(ctx, m.RunID,
		[]domain.Pick{makePick(m.RunID, "G1", "WAS", 0)},
		[]domain.Pick{makePick(m.RunID, "G1", "WAS", 1)})
	require.ErrorIs(t, err, domain.ErrRunImmutable)

	raw, err := db.FetchPicks(ctx, m.RunID, false)
	require.NoError(t, err)
	assert.Empty(t, raw, "los picks sin dimensionar no sobreviven al rollback")

	runs, err := db.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunRunning, runs[0].Status)
}

func TestSQLiteStorage_CommitRunValidatesBeforeWriting(t *testing.T) {
	db := newLedger(t)
	ctx := context.Background()
	m := domain.RunManifest{RunID: "default-2025w1-eeee5555", Season: 2025, Week: 1, Profile: "default"}
	require.NoError(t, db.SaveRun(ctx, m, time.Time{}))

	bad := makePick(m.RunID, "G1", "WAS", 1)
	bad.Season = 25
	err := db.CommitRun(ctx, m.RunID, []domain.Pick{makePick(m.RunID, "G1", "WAS", 0)}, []domain.Pick{bad})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	raw, err := db.FetchPicks(ctx, m.RunID, false)
	require.NoError(t, err)
	assert.Empty(t, raw)

	err = db.CommitRun(ctx, "missing", nil, nil)
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestNewSQLiteStorage_MigratesRunStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	raw, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = raw.Exec(`CREATE TABLE runs (
		run_id TEXT PRIMARY KEY, season INTEGER NOT NULL, week INTEGER NOT NULL,
		profile TEXT NOT NULL, settings_json TEXT NOT NULL DEFAULT '{}', started_at TEXT NOT NULL);
		INSERT INTO runs VALUES ('old-2025w1-ffff6666', 2025, 1, 'old', '{}', '2025-09-07T10:00:00.000000000Z');`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	db, err := storage.NewSQLiteStorage(path)
	require.NoError(t, err)
	defer db.Close()

	latest, err := db.LatestRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "old-2025w1-ffff6666", latest.RunID)
	assert.Equal(t, domain.RunComplete, latest.Status)
}

func TestSQLiteStorage_Snapshots(t *testing.T) {
	db := newLedger(t)
	ctx := context.Background()

	lines := []domain.BoardLine{{GameID: "G1", Book: "DK", Market: "ML", Side: "WAS", PriceAmerican: -145}}
	require.NoError(t, db.SaveSnapshot(ctx, "r1", domain.StageHarvest, lines))
	require.NoError(t, db.SaveSnapshot(ctx, "r1", domain.StageUI, map[string]int{"picks": 1}))

	raw, ok, err := db.GetSnapshot(ctx, "r1", domain.StageHarvest)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `[{"game_id":"G1","book":"DK","market":"ML","side":"WAS","line":null,"price_american":-145,"ts":""}]`, string(raw))

	_, ok, err = db.GetSnapshot(ctx, "r1", domain.StageSize)
	require.NoError(t, err)
	assert.False(t, ok)

	stages, err := db.ListSnapshots(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{domain.StageHarvest, domain.StageUI}, stages)
}

func TestFileBoardSource_MissingFileIsUnavailable(t *testing.T) {
	src := storage.FileBoardSource{Path: filepath.Join(t.TempDir(), "nope.db")}
	_, err := src.LoadBoard(context.Background(), 2025, 1, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

// Un fichero SQLite válido pero sin el schema del ledger se trata como ledger ausente.
func TestFileBoardSource_MissingTableIsUnavailable(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, path string)
	}{
		{
			name: "empty file",
			setup: func(t *testing.T, path string) {
				require.NoError(t, os.WriteFile(path, nil, 0o600))
			},
		},
		{
			name: "other schema",
			setup: func(t *testing.T, path string) {
				db, err := sql.Open("sqlite", path)
				require.NoError(t, err)
				_, err = db.Exec(`CREATE TABLE notes (body TEXT)`)
				require.NoError(t, err)
				require.NoError(t, db.Close())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "ledger.db")
			tt.setup(t, path)
			src := storage.FileBoardSource{Path: path}

			_, err := src.LoadBoard(context.Background(), 2025, 1, true)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrStorageUnavailable)

			caps := domain.DefaultExposureCaps()
			caps.RequireMinPicks = 0
			report, err := guardrail.CheckExposure(context.Background(), src, 2025, 1, caps, true)
			require.NoError(t, err)
			assert.False(t, report.OK)
			require.Len(t, report.Violations, 1)
			assert.Equal(t, domain.ViolationInsufficientPicks, report.Violations[0].Type)

			_, err = src.HarvestStats(context.Background(), 2025, 1)
			assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
		})
	}
}

func TestSQLiteStorage_HarvestStats(t *testing.T) {
	db := newLedger(t)
	ctx := context.Background()

	stats, err := db.HarvestStats(ctx, 2025, 1)
	require.NoError(t, err)
	assert.False(t, stats.Found)

	orig := domain.RunManifest{RunID: "default-2025w1-aaaa1111", Season: 2025, Week: 1, Profile: "default",
		Settings: map[string]any{"use_snapshots": false}}
	require.NoError(t, db.SaveRun(ctx, orig, time.Time{}))
	require.NoError(t, db.SaveSnapshot(ctx, orig.RunID, domain.StageHarvest,
		map[string]any{"board": []map[string]any{{"game_id": "G1"}, {"game_id": "G1"}, {"game_id": "G2"}}}))

	// Un replay copia el snapshot pero no es una cosecha nueva.
	replay := domain.RunManifest{RunID: "default-2025w1-replay-bbbb2222", Season: 2025, Week: 1, Profile: "default",
		Settings: map[string]any{"use_snapshots": true}}
	require.NoError(t, db.SaveRun(ctx, replay, time.Time{}))
	require.NoError(t, db.SaveSnapshot(ctx, replay.RunID, domain.StageHarvest,
		map[string]any{"board": []map[string]any{{"game_id": "G9"}}}))

	stats, err = db.HarvestStats(ctx, 2025, 1)
	require.NoError(t, err)
	assert.True(t, stats.Found)
	assert.Equal(t, orig.RunID, stats.RunID)
	assert.Equal(t, 3, stats.Lines)
	assert.WithinDuration(t, time.Now(), stats.TakenAt, time.Minute)

	other, err := db.HarvestStats(ctx, 2025, 2)
	require.NoError(t, err)
	assert.False(t, other.Found)
}

func TestFileBoardSource_ReadsPersistedBoard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := storage.NewSQLiteStorage(path)
	require.NoError(t, err)
	_, err = db.WriteSizedPicks(context.Background(), []domain.Pick{makePick("r1", "G1", "WAS", 2)})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	board, err := storage.FileBoardSource{Path: path}.LoadBoard(context.Background(), 2025, 1, true)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, 2.0, board[0].StakeUnits)
}
