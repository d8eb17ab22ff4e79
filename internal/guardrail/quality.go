package guardrail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/ironclad/internal/domain"
)

// StatsSource devuelve el último snapshot de harvest de (season, week).
type StatsSource interface {
	HarvestStats(ctx context.Context, season, week int) (domain.HarvestStats, error)
}

// Motivos de fallo sin dato que medir.
const (
	QualityMissingLedger   = "missing_table"
	QualityMissingSnapshot = "no_snapshot"
)

// Freshness dice si el board cosechado es reciente.
type Freshness struct {
	OK        bool       `json:"ok"`
	AgeMin    *int       `json:"age_min"`
	TS        *time.Time `json:"ts"`
	MaxAgeMin int        `json:"max_age_min"`
	Error     string     `json:"error,omitempty"`
}

// Quorum dice si el board cosechado tiene líneas suficientes.
type Quorum struct {
	OK        bool   `json:"ok"`
	Lines     int    `json:"lines"`
	Threshold int    `json:"threshold"`
	Error     string `json:"error,omitempty"`
}

// QualityReport junta frescura y quórum de una semana.
type QualityReport struct {
	OK        bool      `json:"ok"`
	Season    int       `json:"season"`
	Week      int       `json:"week"`
	RunID     string    `json:"run_id,omitempty"`
	Freshness Freshness `json:"freshness"`
	Quorum    Quorum    `json:"quorum"`
}

// CheckFreshness falla si no hay snapshot o si tiene más de MaxAgeMinutes.
// Una marca de tiempo futura cuenta como edad 0.
func CheckFreshness(stats domain.HarvestStats, now time.Time, policy domain.QualityPolicy) Freshness {
	f := Freshness{MaxAgeMin: policy.MaxAgeMinutes}
	if !stats.Found {
		f.Error = QualityMissingSnapshot
		return f
	}
	age := int(max(now.Sub(stats.TakenAt), 0) / time.Minute)
	ts := stats.TakenAt
	f.AgeMin, f.TS = &age, &ts
	f.OK = age <= policy.MaxAgeMinutes
	return f
}

// CheckQuorum falla si el snapshot tiene menos de MinLines líneas.
func CheckQuorum(stats domain.HarvestStats, policy domain.QualityPolicy) Quorum {
	q := Quorum{Lines: stats.Lines, Threshold: policy.MinLines}
	if !stats.Found {
		q.Error = QualityMissingSnapshot
		return q
	}
	q.OK = stats.Lines >= policy.MinLines
	return q
}

// CheckQuality carga las estadísticas de harvest y aplica ambos chequeos.
// Un ledger inexistente falla cerrado; cualquier otro error se devuelve.
func CheckQuality(ctx context.Context, src StatsSource, season, week int, policy domain.QualityPolicy, now time.Time) (QualityReport, error) {
	report := QualityReport{Season: season, Week: week}

	stats, err := src.HarvestStats(ctx, season, week)
	if err != nil {
		if !errors.Is(err, domain.ErrStorageUnavailable) {
			return report, fmt.Errorf("guardrail.CheckQuality: %w", err)
		}
		slog.Warn("ledger unavailable, quality fails closed", "season", season, "week", week, "err", err)
		report.Freshness = Freshness{MaxAgeMin: policy.MaxAgeMinutes, Error: QualityMissingLedger}
		report.Quorum = Quorum{Threshold: policy.MinLines, Error: QualityMissingLedger}
		return report, nil
	}

	report.RunID = stats.RunID
	report.Freshness = CheckFreshness(stats, now, policy)
	report.Quorum = CheckQuorum(stats, policy)
	report.OK = report.Freshness.OK && report.Quorum.OK
	return report, nil
}
