// Package runner orquesta un run completo: harvest → preslate → picks →
// size → guardrails → ui, con un snapshot JSON por etapa para poder
// re-ejecutarlo (replay) sin red y con resultados idénticos.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/ironclad/internal/domain"
	"github.com/alejandrodnm/ironclad/internal/guardrail"
	"github.com/alejandrodnm/ironclad/internal/picks"
	"github.com/alejandrodnm/ironclad/internal/portfolio"
	"github.com/alejandrodnm/ironclad/internal/ports"
)

// Config contiene la configuración del pipeline.
type Config struct {
	Policy picks.Policy
	Filter picks.FilterConfig
	Sizing domain.SizingConfig
	Caps   domain.ExposureCaps
	// Now es el reloj del synthesizer; nil usa time.Now en UTC.
	Now func() time.Time
}

// DefaultConfig devuelve la configuración de referencia.
func DefaultConfig() Config {
	return Config{
		Policy: picks.DefaultPolicy(),
		Filter: picks.DefaultFilterConfig(),
		Sizing: domain.DefaultSizingConfig(),
		Caps:   domain.DefaultExposureCaps(),
	}
}

// Payloads de snapshot por etapa.
type (
	boardSnapshot struct {
		Board []domain.BoardLine `json:"board"`
	}
	picksSnapshot struct {
		Picks []domain.Pick `json:"picks"`
	}
	sizeSnapshot struct {
		Sizing domain.SizingConfig `json:"sizing"`
		Picks  []domain.Pick       `json:"picks"`
	}
	guardrailSnapshot struct {
		Checks   []guardrail.CheckResult `json:"checks"`
		Exposure domain.Report           `json:"exposure"`
	}
)

// Summary es el snapshot de la etapa ui.
type Summary struct {
	RunID      string  `json:"run_id"`
	Season     int     `json:"season"`
	Week       int     `json:"week"`
	Profile    string  `json:"profile"`
	PickCount  int     `json:"pick_count"`
	SizedCount int     `json:"sized_count"`
	TotalU     float64 `json:"total_u"`
	ChecksOK   bool    `json:"checks_ok"`
	ExposureOK bool    `json:"exposure_ok"`
}

// Result es el resultado de un run.
type Result struct {
	Context  RunContext
	Board    []domain.BoardLine
	Picks    []domain.Pick
	Sized    []domain.Pick
	Checks   []guardrail.CheckResult
	Exposure domain.Report
	Summary  Summary
}

// OK es true si pasan los checks por pick y el check de exposición.
func (r Result) OK() bool {
	return r.Summary.ChecksOK && r.Summary.ExposureOK
}

// Runner ejecuta runs contra un ledger y un proveedor de board.
type Runner struct {
	cfg      Config
	ledger   ports.Ledger
	board    ports.BoardProvider
	reporter ports.Reporter
	filter   *picks.Filter
	synth    *picks.Synthesizer
}

// New crea un Runner con todas las dependencias inyectadas.
// reporter puede ser nil; board solo es obligatorio fuera de replay.
func New(cfg Config, ledger ports.Ledger, board ports.BoardProvider, reporter ports.Reporter) *Runner {
	return &Runner{
		cfg:      cfg,
		ledger:   ledger,
		board:    board,
		reporter: reporter,
		filter:   picks.NewFilter(cfg.Filter),
		synth:    picks.NewSynthesizer(cfg.Policy, cfg.Now),
	}
}

// Run ejecuta todas las etapas para rc y persiste picks y picks dimensionados.
// Un guardrail en rojo no es un error: queda en el Result y en el snapshot.
// Season y week se validan antes de tocar el ledger; si una etapa falla, el
// run queda failed y sin picks.
func (r *Runner) Run(ctx context.Context, rc RunContext) (res Result, err error) {
	start := time.Now()
	res = Result{Context: rc}

	if err := domain.ValidateSlate(rc.Season, rc.Week); err != nil {
		return res, fmt.Errorf("runner.Run: %w", err)
	}
	if err := r.ledger.SaveRun(ctx, r.manifest(rc), rc.StartedAt); err != nil {
		return res, fmt.Errorf("runner.Run: save run: %w", err)
	}
	defer r.markFailed(ctx, rc.RunID, &err)

	if res.Board, err = r.harvest(ctx, rc); err != nil {
		return res, err
	}
	if res.Board, err = r.preslate(ctx, rc, res.Board); err != nil {
		return res, err
	}
	if res.Picks, err = r.synthesize(ctx, rc, res.Board); err != nil {
		return res, err
	}
	if res.Sized, err = r.size(ctx, rc, res.Picks); err != nil {
		return res, err
	}
	if res.Checks, res.Exposure, err = r.guardrails(ctx, rc, res.Sized); err != nil {
		return res, err
	}
	if res.Summary, err = r.ui(ctx, rc, res); err != nil {
		return res, err
	}

	if err := r.ledger.CommitRun(ctx, rc.RunID, res.Picks, res.Sized); err != nil {
		return res, fmt.Errorf("runner.Run: commit: %w", err)
	}

	r.report(res)
	slog.Info("run complete",
		"run_id", rc.RunID,
		"replay", rc.UseSnapshots,
		"picks", len(res.Picks),
		"total_u", res.Summary.TotalU,
		"ok", res.OK(),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return res, nil
}

// Replay re-ejecuta runID desde sus snapshots bajo un run nuevo.
func (r *Runner) Replay(ctx context.Context, runID, profile string) (Result, error) {
	m, err := r.ledger.GetRun(ctx, runID)
	if err != nil {
		return Result{}, fmt.Errorf("runner.Replay: %w", err)
	}
	return r.Run(ctx, ForReplay(m, profile))
}

// Resize dimensiona de nuevo los picks de runID con sizing y los guarda en
// un run nuevo cuyo manifest apunta al original (resized_from).
// El run original no se modifica.
func (r *Runner) Resize(ctx context.Context, runID string, sizing domain.SizingConfig) (res Result, err error) {
	src, err := r.ledger.GetRun(ctx, runID)
	if err != nil {
		return Result{}, fmt.Errorf("runner.Resize: %w", err)
	}
	raw, err := r.ledger.FetchPicks(ctx, runID, false)
	if err != nil {
		return Result{}, fmt.Errorf("runner.Resize: %w", err)
	}

	rc := NewContext(src.Season, src.Week, src.Profile, src.Settings)
	rc.Params[SettingResizedFrom] = runID
	delete(rc.Params, SettingSnapshotSource)
	delete(rc.Params, SettingUseSnapshots)
	delete(rc.Params, "sizing")

	sub := *r
	sub.cfg.Sizing = sizing
	res = Result{Context: rc, Picks: restamp(raw, rc.RunID)}

	if err := domain.ValidateSlate(rc.Season, rc.Week); err != nil {
		return res, fmt.Errorf("runner.Resize: %w", err)
	}
	if err := r.ledger.SaveRun(ctx, sub.manifest(rc), rc.StartedAt); err != nil {
		return res, fmt.Errorf("runner.Resize: save run: %w", err)
	}
	defer r.markFailed(ctx, rc.RunID, &err)

	if res.Sized, err = sub.size(ctx, rc, res.Picks); err != nil {
		return res, err
	}
	if res.Checks, res.Exposure, err = sub.guardrails(ctx, rc, res.Sized); err != nil {
		return res, err
	}
	if res.Summary, err = sub.ui(ctx, rc, res); err != nil {
		return res, err
	}
	if err := r.ledger.CommitRun(ctx, rc.RunID, res.Picks, res.Sized); err != nil {
		return res, fmt.Errorf("runner.Resize: commit: %w", err)
	}

	slog.Info("run resized", "from", runID, "run_id", rc.RunID, "total_u", res.Summary.TotalU)
	return res, nil
}

// ─── Etapas ──────────────────────────────────────────────────────────────────

func (r *Runner) harvest(ctx context.Context, rc RunContext) ([]domain.BoardLine, error) {
	var snap boardSnapshot
	ok, err := r.fromSnapshot(ctx, rc, domain.StageHarvest, &snap)
	if err != nil || ok {
		return snap.Board, err
	}

	if r.board == nil {
		return nil, fmt.Errorf("runner.harvest: no board provider configured")
	}
	board, err := r.board.FetchBoard(ctx, rc.Season, rc.Week)
	if err != nil {
		return nil, fmt.Errorf("runner.harvest: %w", err)
	}
	snap.Board = nonNilBoard(board)
	return snap.Board, r.save(ctx, rc, domain.StageHarvest, snap)
}

func (r *Runner) preslate(ctx context.Context, rc RunContext, board []domain.BoardLine) ([]domain.BoardLine, error) {
	var snap boardSnapshot
	ok, err := r.fromSnapshot(ctx, rc, domain.StagePreslate, &snap)
	if err != nil || ok {
		return snap.Board, err
	}

	snap.Board = r.filter.Apply(board)
	return snap.Board, r.save(ctx, rc, domain.StagePreslate, snap)
}

func (r *Runner) synthesize(ctx context.Context, rc RunContext, board []domain.BoardLine) ([]domain.Pick, error) {
	var snap picksSnapshot
	ok, err := r.fromSnapshot(ctx, rc, domain.StagePicks, &snap)
	if err != nil {
		return nil, err
	}
	if ok {
		return restamp(snap.Picks, rc.RunID), nil
	}

	snap.Picks, err = r.synth.Synthesize(rc.RunID, rc.Season, rc.Week, board)
	if err != nil {
		return nil, fmt.Errorf("runner.synthesize: %w", err)
	}
	return snap.Picks, r.save(ctx, rc, domain.StagePicks, snap)
}

func (r *Runner) size(ctx context.Context, rc RunContext, raw []domain.Pick) ([]domain.Pick, error) {
	var snap sizeSnapshot
	ok, err := r.fromSnapshot(ctx, rc, domain.StageSize, &snap)
	if err != nil {
		return nil, err
	}
	if ok {
		return restamp(snap.Picks, rc.RunID), nil
	}

	sized, err := portfolio.SizePortfolio(raw, r.cfg.Sizing)
	if err != nil {
		return nil, fmt.Errorf("runner.size: %w", err)
	}
	snap = sizeSnapshot{Sizing: r.cfg.Sizing, Picks: sized}
	return sized, r.save(ctx, rc, domain.StageSize, snap)
}

func (r *Runner) guardrails(ctx context.Context, rc RunContext, sized []domain.Pick) ([]guardrail.CheckResult, domain.Report, error) {
	var snap guardrailSnapshot
	ok, err := r.fromSnapshot(ctx, rc, domain.StageGuardrails, &snap)
	if err != nil || ok {
		return snap.Checks, snap.Exposure, err
	}

	snap.Checks = guardrail.RunPickChecks(sized)
	snap.Exposure = guardrail.CheckBoard(sized, r.cfg.Caps)
	snap.Exposure.Season, snap.Exposure.Week, snap.Exposure.Sized = rc.Season, rc.Week, true
	if !snap.Exposure.OK {
		slog.Warn("exposure caps exceeded", "run_id", rc.RunID, "violations", len(snap.Exposure.Violations))
	}
	return snap.Checks, snap.Exposure, r.save(ctx, rc, domain.StageGuardrails, snap)
}

func (r *Runner) ui(ctx context.Context, rc RunContext, res Result) (Summary, error) {
	var snap Summary
	ok, err := r.fromSnapshot(ctx, rc, domain.StageUI, &snap)
	if err != nil {
		return snap, err
	}
	if ok {
		// El resumen copiado conserva los números del run original; el id es el nuevo.
		snap.RunID = rc.RunID
		return snap, nil
	}

	checksOK := true
	for _, c := range res.Checks {
		checksOK = checksOK && c.Passed
	}
	snap = Summary{
		RunID:      rc.RunID,
		Season:     rc.Season,
		Week:       rc.Week,
		Profile:    rc.Profile,
		PickCount:  len(res.Picks),
		SizedCount: len(res.Sized),
		TotalU:     domain.TotalStake(res.Sized),
		ChecksOK:   checksOK,
		ExposureOK: res.Exposure.OK,
	}
	return snap, r.save(ctx, rc, domain.StageUI, snap)
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// fromSnapshot carga en out el snapshot del run origen cuando rc es un replay
// y lo vuelve a guardar bajo el run nuevo. Devuelve false si no aplica.
func (r *Runner) fromSnapshot(ctx context.Context, rc RunContext, stage string, out any) (bool, error) {
	if !rc.UseSnapshots || rc.SnapshotSourceRunID == "" {
		return false, nil
	}
	raw, ok, err := r.ledger.GetSnapshot(ctx, rc.SnapshotSourceRunID, stage)
	if err != nil {
		return false, fmt.Errorf("runner.%s: load snapshot: %w", stage, err)
	}
	if !ok {
		slog.Debug("no snapshot, recomputing stage", "source", rc.SnapshotSourceRunID, "stage", stage)
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("runner.%s: decode snapshot of %s: %w", stage, rc.SnapshotSourceRunID, err)
	}
	if err := r.ledger.SaveSnapshot(ctx, rc.RunID, stage, raw); err != nil {
		return false, fmt.Errorf("runner.%s: copy snapshot: %w", stage, err)
	}
	return true, nil
}

func (r *Runner) save(ctx context.Context, rc RunContext, stage string, payload any) error {
	if err := r.ledger.SaveSnapshot(ctx, rc.RunID, stage, payload); err != nil {
		return fmt.Errorf("runner.%s: save snapshot: %w", stage, err)
	}
	return nil
}

// markFailed deja el run en failed si *errp no es nil. Usa un contexto sin
// cancelación: un Ctrl-C a mitad de run también debe quedar registrado.
func (r *Runner) markFailed(ctx context.Context, runID string, errp *error) {
	if *errp == nil {
		return
	}
	if err := r.ledger.SetRunStatus(context.WithoutCancel(ctx), runID, domain.RunFailed); err != nil {
		slog.Warn("could not mark run failed", "run_id", runID, "err", err)
		return
	}
	slog.Warn("run failed", "run_id", runID, "err", *errp)
}

func (r *Runner) manifest(rc RunContext) domain.RunManifest {
	m := rc.Manifest()
	if _, ok := m.Settings["sizing"]; !ok {
		m.Settings["sizing"] = r.cfg.Sizing
	}
	if _, ok := m.Settings["caps"]; !ok {
		m.Settings["caps"] = r.cfg.Caps
	}
	return m
}

func (r *Runner) report(res Result) {
	if r.reporter == nil {
		return
	}
	if err := r.reporter.Board(fmt.Sprintf("%s sized", res.Context.RunID), res.Sized); err != nil {
		slog.Warn("reporter error", "err", err)
	}
	if err := r.reporter.Guardrail(res.Exposure); err != nil {
		slog.Warn("reporter error", "err", err)
	}
}

// restamp devuelve una copia de picks con el run_id dado.
func restamp(in []domain.Pick, runID string) []domain.Pick {
	out := make([]domain.Pick, len(in))
	for i, p := range in {
		p.RunID = runID
		out[i] = p
	}
	return out
}

func nonNilBoard(b []domain.BoardLine) []domain.BoardLine {
	if b == nil {
		return []domain.BoardLine{}
	}
	return b
}
