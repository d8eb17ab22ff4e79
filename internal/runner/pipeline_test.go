package runner_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/alejandrodnm/ironclad/internal/adapters/odds"
	"github.com/alejandrodnm/ironclad/internal/adapters/storage"
	"github.com/alejandrodnm/ironclad/internal/domain"
	"github.com/alejandrodnm/ironclad/internal/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 9, 7, 16, 0, 0, 0, time.UTC)

func testConfig() runner.Config {
	cfg := runner.DefaultConfig()
	cfg.Now = func() time.Time { return fixedNow }
	return cfg
}

func newLedger(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type recordingReporter struct {
	boards  int
	reports []domain.Report
}

func (r *recordingReporter) Board(string, []domain.Pick) error { r.boards++; return nil }
func (r *recordingReporter) Guardrail(rep domain.Report) error {
	r.reports = append(r.reports, rep)
	return nil
}

type failingBoard struct{}

func (failingBoard) FetchBoard(context.Context, int, int) ([]domain.BoardLine, error) {
	return nil, errors.New("network disabled")
}

func TestRun_DemoBoard(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	rep := &recordingReporter{}
	r := runner.New(testConfig(), ledger, odds.Fixture{}, rep)

	rc := runner.NewContext(2025, 1, "default", nil)
	res, err := r.Run(ctx, rc)
	require.NoError(t, err)

	assert.Len(t, res.Board, 5, "preslate keeps ML, ATS and OU")
	require.Len(t, res.Picks, 2, "default policy only prices moneylines")
	require.Len(t, res.Sized, 2)
	for _, p := range res.Sized {
		assert.InDelta(t, 1.25, p.StakeUnits, 1e-9)
		assert.Equal(t, rc.RunID, p.RunID)
	}
	assert.True(t, res.OK())
	assert.InDelta(t, 2.5, res.Summary.TotalU, 1e-9)

	stages, err := ledger.ListSnapshots(ctx, rc.RunID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		domain.StageHarvest, domain.StagePreslate, domain.StagePicks,
		domain.StageSize, domain.StageGuardrails, domain.StageUI,
	}, stages)

	persisted, err := ledger.FetchPicks(ctx, rc.RunID, true)
	require.NoError(t, err)
	assert.Len(t, persisted, 2)

	m, err := ledger.GetRun(ctx, rc.RunID)
	require.NoError(t, err)
	assert.Equal(t, "default", m.Settings[runner.SettingProfile])
	assert.Equal(t, false, m.Settings[runner.SettingUseSnapshots])
	assert.Contains(t, m.Settings, "sizing")

	assert.Equal(t, 1, rep.boards)
	require.Len(t, rep.reports, 1)
	assert.True(t, rep.reports[0].OK)

	latest, err := ledger.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, rc.RunID, latest.RunID)
	assert.Equal(t, domain.RunComplete, latest.Status)
}

func TestRun_SameRunCannotBeWrittenTwice(t *testing.T) {
	ctx := context.Background()
	r := runner.New(testConfig(), newLedger(t), odds.Fixture{}, nil)
	rc := runner.NewContext(2025, 1, "default", nil)

	_, err := r.Run(ctx, rc)
	require.NoError(t, err)

	_, err = r.Run(ctx, rc)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRunImmutable)
}

func TestRun_ExposureFailureIsData(t *testing.T) {
	cfg := testConfig()
	cfg.Caps.MaxTotalU = 1

	res, err := runner.New(cfg, newLedger(t), odds.Fixture{}, nil).Run(context.Background(), runner.NewContext(2025, 1, "default", nil))
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.False(t, res.Exposure.OK)
	assert.Equal(t, 1, res.Exposure.Count(domain.ViolationTotal))
}

func TestRun_BoardErrorAborts(t *testing.T) {
	_, err := runner.New(testConfig(), newLedger(t), failingBoard{}, nil).
		Run(context.Background(), runner.NewContext(2025, 1, "default", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network disabled")
}

// failingCommit deja que el run avance hasta el final y falla al persistir.
type failingCommit struct {
	*storage.SQLiteStorage
}

func (failingCommit) CommitRun(context.Context, string, []domain.Pick, []domain.Pick) error {
	return errors.New("disk full")
}

func TestRun_InvalidSlateTouchesNothing(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	r := runner.New(testConfig(), ledger, odds.Fixture{}, nil)

	for _, rc := range []runner.RunContext{
		runner.NewContext(25, 1, "default", nil),
		runner.NewContext(2025, 0, "default", nil),
		runner.NewContext(2025, 24, "default", nil),
	} {
		_, err := r.Run(ctx, rc)
		require.Error(t, err, "season=%d week=%d", rc.Season, rc.Week)
		assert.True(t, domain.IsValidation(err), "season=%d week=%d", rc.Season, rc.Week)

		stages, err := ledger.ListSnapshots(ctx, rc.RunID)
		require.NoError(t, err)
		assert.Empty(t, stages)
	}

	runs, err := ledger.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, runs, "no manifest for a slate that cannot be persisted")
}

func TestRun_CommitFailureMarksRunFailed(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	rc := runner.NewContext(2025, 1, "default", nil)

	_, err := runner.New(testConfig(), failingCommit{ledger}, odds.Fixture{}, nil).Run(ctx, rc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	runs, err := ledger.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, rc.RunID, runs[0].RunID)
	assert.Equal(t, domain.RunFailed, runs[0].Status)

	for _, sized := range []bool{false, true} {
		picks, err := ledger.FetchPicks(ctx, rc.RunID, sized)
		require.NoError(t, err)
		assert.Empty(t, picks, "sized=%t", sized)
	}

	_, err = ledger.LatestRun(ctx)
	assert.ErrorIs(t, err, domain.ErrRunNotFound, "a failed run is never the latest")
}

func TestRun_StageFailureMarksRunFailed(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	rc := runner.NewContext(2025, 1, "default", nil)

	_, err := runner.New(testConfig(), ledger, failingBoard{}, nil).Run(ctx, rc)
	require.Error(t, err)

	runs, err := ledger.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunFailed, runs[0].Status)
}

func TestReplay_UsesSnapshotsOnly(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)

	orig, err := runner.New(testConfig(), ledger, odds.Fixture{}, nil).
		Run(ctx, runner.NewContext(2025, 1, "default", nil))
	require.NoError(t, err)

	// Sin provider: todo debe salir de los snapshots.
	cfg := testConfig()
	cfg.Now = func() time.Time { return fixedNow.Add(time.Hour) }
	replayed, err := runner.New(cfg, ledger, failingBoard{}, nil).Replay(ctx, orig.Context.RunID, "")
	require.NoError(t, err)

	assert.NotEqual(t, orig.Context.RunID, replayed.Context.RunID)
	assert.Regexp(t, regexp.MustCompile(`^default-2025w1-replay-[0-9a-f]{8}$`), replayed.Context.RunID)
	require.Len(t, replayed.Sized, len(orig.Sized))
	for i := range orig.Sized {
		assert.Equal(t, orig.Sized[i].LineKey(), replayed.Sized[i].LineKey())
		assert.Equal(t, orig.Sized[i].StakeUnits, replayed.Sized[i].StakeUnits)
		assert.True(t, orig.Sized[i].CreatedAt.Equal(replayed.Sized[i].CreatedAt), "picks come from the snapshot, not the new clock")
		assert.Equal(t, replayed.Context.RunID, replayed.Sized[i].RunID)
	}
	assert.Equal(t, replayed.Context.RunID, replayed.Summary.RunID)

	m, err := ledger.GetRun(ctx, replayed.Context.RunID)
	require.NoError(t, err)
	assert.Equal(t, orig.Context.RunID, m.Settings[runner.SettingSnapshotSource])
	assert.Equal(t, true, m.Settings[runner.SettingUseSnapshots])

	stages, err := ledger.ListSnapshots(ctx, replayed.Context.RunID)
	require.NoError(t, err)
	assert.Len(t, stages, 6)

	persisted, err := ledger.FetchPicks(ctx, replayed.Context.RunID, true)
	require.NoError(t, err)
	assert.Len(t, persisted, 2)
}

func TestReplay_UnknownRun(t *testing.T) {
	_, err := runner.New(testConfig(), newLedger(t), nil, nil).Replay(context.Background(), "nope", "")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestResize_CreatesNewRun(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	r := runner.New(testConfig(), ledger, odds.Fixture{}, nil)

	orig, err := r.Run(ctx, runner.NewContext(2025, 1, "default", nil))
	require.NoError(t, err)

	sizing := domain.DefaultSizingConfig()
	sizing.MaxPerBetU = 0.5
	res, err := r.Resize(ctx, orig.Context.RunID, sizing)
	require.NoError(t, err)

	require.Len(t, res.Sized, 2)
	for _, p := range res.Sized {
		assert.InDelta(t, 0.5, p.StakeUnits, 1e-9)
	}

	m, err := ledger.GetRun(ctx, res.Context.RunID)
	require.NoError(t, err)
	assert.Equal(t, orig.Context.RunID, m.Settings[runner.SettingResizedFrom])

	latest, err := ledger.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Context.RunID, latest.RunID)

	// El run original no cambia.
	before, err := ledger.FetchPicks(ctx, orig.Context.RunID, true)
	require.NoError(t, err)
	for _, p := range before {
		assert.InDelta(t, 1.25, p.StakeUnits, 1e-9)
	}
}

func TestContext_RunIDs(t *testing.T) {
	rc := runner.NewContext(2025, 3, "Sharp", map[string]any{"note": "x"})
	assert.Regexp(t, regexp.MustCompile(`^sharp-2025w3-[0-9a-f]{8}$`), rc.RunID)
	assert.NotEqual(t, rc.RunID, runner.NewContext(2025, 3, "Sharp", nil).RunID)

	m := rc.Manifest()
	assert.Equal(t, "x", m.Settings["note"])
	assert.Equal(t, "Sharp", m.Settings[runner.SettingProfile])

	replay := runner.ForReplay(m, "alt")
	assert.Regexp(t, regexp.MustCompile(`^alt-2025w3-replay-[0-9a-f]{8}$`), replay.RunID)
	assert.True(t, replay.UseSnapshots)
	assert.Equal(t, rc.RunID, replay.SnapshotSourceRunID)
	assert.Equal(t, rc.RunID, replay.Manifest().Settings[runner.SettingSnapshotSource])
}
