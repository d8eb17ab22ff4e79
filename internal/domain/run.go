package domain

import "time"

// Etapas del pipeline. Cada una se guarda como snapshot JSON bajo (run_id, stage).
const (
	StageHarvest    = "harvest"
	StagePreslate   = "preslate"
	StagePicks      = "picks"
	StageSize       = "size"
	StageGuardrails = "guardrails"
	StageUI         = "ui"
)

// RunManifest describe un run: quién, cuándo (season/week) y con qué parámetros.
type RunManifest struct {
	RunID    string         `json:"run_id"`
	Season   int            `json:"season"`
	Week     int            `json:"week"`
	Profile  string         `json:"profile"`
	Settings map[string]any `json:"settings"`
}

// RunStatus es el estado de un run en el ledger.
// Un run nace running y termina complete (picks persistidos) o failed.
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunFailed   RunStatus = "failed"
)

// RunSummary es un run listado desde el ledger.
type RunSummary struct {
	RunManifest
	Status    RunStatus `json:"status"`
	StartedAt time.Time `json:"started_at"`
	PickCount int       `json:"pick_count"`
}

// LedgerStatus resume el contenido del ledger.
type LedgerStatus struct {
	Runs       int         `json:"runs"`
	Picks      int         `json:"picks"`
	SizedPicks int         `json:"sized_picks"`
	LatestRun  *RunSummary `json:"latest_run"`
}

// HarvestStats describe el snapshot de harvest más reciente de (season, week).
// Found es false si ningún run ha cosechado esa semana.
type HarvestStats struct {
	Season  int       `json:"season"`
	Week    int       `json:"week"`
	Found   bool      `json:"found"`
	RunID   string    `json:"run_id,omitempty"`
	TakenAt time.Time `json:"ts"`
	Lines   int       `json:"lines"`
}
