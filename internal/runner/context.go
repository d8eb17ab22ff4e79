package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/alejandrodnm/ironclad/internal/domain"
	"github.com/google/uuid"
)

// Claves reservadas en RunManifest.Settings.
const (
	SettingProfile        = "profile"
	SettingUseSnapshots   = "use_snapshots"
	SettingSnapshotSource = "snapshot_source_run_id"
	SettingResizedFrom    = "resized_from"
)

// RunContext identifica un run y de dónde lee sus etapas.
type RunContext struct {
	RunID   string
	Season  int
	Week    int
	Profile string

	// UseSnapshots activa el modo replay: cada etapa busca primero el
	// snapshot de SnapshotSourceRunID.
	UseSnapshots        bool
	SnapshotSourceRunID string

	Params    map[string]any
	StartedAt time.Time
}

// NewContext crea el contexto de un run nuevo con id <profile>-<season>w<week>-<token>.
func NewContext(season, week int, profile string, params map[string]any) RunContext {
	return RunContext{
		RunID:     newRunID(profile, season, week, ""),
		Season:    season,
		Week:      week,
		Profile:   profile,
		Params:    copyParams(params),
		StartedAt: time.Now().UTC(),
	}
}

// ForReplay crea el contexto que re-ejecuta m desde sus snapshots.
// El id lleva el sufijo "replay"; profile vacío conserva el del manifest.
func ForReplay(m domain.RunManifest, profile string) RunContext {
	if profile == "" {
		profile = m.Profile
	}
	params := copyParams(m.Settings)
	params[SettingProfile] = profile
	params[SettingUseSnapshots] = true
	params[SettingSnapshotSource] = m.RunID
	return RunContext{
		RunID:               newRunID(profile, m.Season, m.Week, "replay"),
		Season:              m.Season,
		Week:                m.Week,
		Profile:             profile,
		UseSnapshots:        true,
		SnapshotSourceRunID: m.RunID,
		Params:              params,
		StartedAt:           time.Now().UTC(),
	}
}

// Manifest convierte el contexto en el manifest persistible.
// Los params explícitos tienen prioridad sobre profile y use_snapshots.
func (c RunContext) Manifest() domain.RunManifest {
	settings := copyParams(c.Params)
	if _, ok := settings[SettingProfile]; !ok {
		settings[SettingProfile] = c.Profile
	}
	if _, ok := settings[SettingUseSnapshots]; !ok {
		settings[SettingUseSnapshots] = c.UseSnapshots
	}
	if c.SnapshotSourceRunID != "" {
		settings[SettingSnapshotSource] = c.SnapshotSourceRunID
	}
	return domain.RunManifest{
		RunID:    c.RunID,
		Season:   c.Season,
		Week:     c.Week,
		Profile:  c.Profile,
		Settings: settings,
	}
}

func newRunID(profile string, season, week int, suffix string) string {
	token := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	parts := []string{strings.ToLower(profile), fmt.Sprintf("%dw%d", season, week)}
	if suffix != "" {
		parts = append(parts, strings.ToLower(suffix))
	}
	return strings.Join(append(parts, token), "-")
}

func copyParams(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+3)
	for k, v := range in {
		out[k] = v
	}
	return out
}
