package risk

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/iyacare/iyacare/internal/domain/patient"
	"github.com/iyacare/iyacare/internal/domain/vitals"
	"github.com/iyacare/iyacare/internal/platform/events"
	"github.com/iyacare/iyacare/internal/platform/metrics"
)

const DefaultMinConfidence = 0.6

// StateStore persists reconciled risk state.
type StateStore interface {
	SetRisk(ctx context.Context, id uuid.UUID, state patient.RiskState) (*patient.Patient, string, error)
}

// ReadingSource yields the reading a sweep assesses for each patient.
type ReadingSource interface {
	Latest(ctx context.Context, patientID uuid.UUID) (*vitals.Reading, error)
}

// BatchResult is the per-sweep reconciliation tally. Patients without any
// reading are counted in Skipped, not Errors.
type BatchResult struct {
	Updated   int `json:"updated"`
	Errors    int `json:"errors"`
	Skipped   int `json:"skipped"`
	Changed   int `json:"changed"`
	Fallbacks int `json:"oracle_fallbacks"`
}

type Reconciler struct {
	store         StateStore
	readings      ReadingSource
	local         Assessor
	external      Assessor
	minConfidence float64
	publisher     events.Publisher
	metrics       metrics.Recorder
	logger        zerolog.Logger
}

func NewReconciler(store StateStore, readings ReadingSource, local Assessor, publisher events.Publisher, rec metrics.Recorder, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:         store,
		readings:      readings,
		local:         local,
		minConfidence: DefaultMinConfidence,
		publisher:     publisher,
		metrics:       rec,
		logger:        logger.With().Str("component", "reconciler").Logger(),
	}
}

// SetExternal enables the oracle. Assessments below minConfidence are
// ignored in favor of the local one.
func (r *Reconciler) SetExternal(a Assessor, minConfidence float64) {
	r.external = a
	r.minConfidence = minConfidence
}

func (r *Reconciler) confident(a *Assessment) bool {
	return a != nil && a.Confidence != nil && *a.Confidence >= r.minConfidence
}

// Resolve picks the authoritative assessment: a confident external one,
// else the local one.
func (r *Reconciler) Resolve(local, external *Assessment) *Assessment {
	if r.confident(external) {
		return external
	}
	return local
}

func normalize(a *Assessment) Level {
	if l, ok := ParseLevel(string(a.Level)); ok {
		return l
	}
	return LevelFor(a.Score)
}

// Reconcile persists the resolved assessment for one patient. needs_alert
// is raised by the store only when the level differs from the stored one.
func (r *Reconciler) Reconcile(ctx context.Context, patientID uuid.UUID, local, external *Assessment) (*patient.RiskState, error) {
	state, _, err := r.reconcile(ctx, patientID, local, external)
	return state, err
}

func (r *Reconciler) reconcile(ctx context.Context, patientID uuid.UUID, local, external *Assessment) (*patient.RiskState, bool, error) {
	if local == nil {
		return nil, false, fmt.Errorf("local assessment is required")
	}
	chosen := r.Resolve(local, external)
	level := normalize(chosen)
	at := chosen.AssessedAt

	state := patient.RiskState{
		Level:          string(level),
		Score:          chosen.Score,
		Factors:        append([]string(nil), chosen.Factors...),
		Source:         chosen.Source,
		Confidence:     chosen.Confidence,
		LastAssessedAt: &at,
	}
	updated, previous, err := r.store.SetRisk(ctx, patientID, state)
	if err != nil {
		return nil, false, fmt.Errorf("persist risk state: %w", err)
	}

	changed := previous != updated.Risk.Level
	if changed {
		r.publishChange(ctx, updated, previous)
	}
	return &updated.Risk, changed, nil
}

func (r *Reconciler) publishChange(ctx context.Context, p *patient.Patient, previous string) {
	factors := make([]any, len(p.Risk.Factors))
	for i, f := range p.Risk.Factors {
		factors[i] = f
	}
	ev := events.Event{
		Type: events.RiskAssessed,
		Key:  p.ID.String(),
		Data: map[string]any{
			"patient_id":     p.ID.String(),
			"level":          p.Risk.Level,
			"previous_level": previous,
			"score":          p.Risk.Score,
			"source":         p.Risk.Source,
			"factors":        factors,
		},
	}
	if p.Risk.LastAssessedAt != nil {
		ev.OccurredAt = *p.Risk.LastAssessedAt
	}
	if err := r.publisher.Publish(ctx, ev); err != nil {
		r.logger.Warn().Err(err).Str("patient_id", p.ID.String()).Msg("failed to publish risk change")
	}
}

// ReconcileAll assesses and persists every patient's latest reading with at
// most workers in flight. Failures are counted, never returned.
func (r *Reconciler) ReconcileAll(ctx context.Context, patients []*patient.Patient, workers int) BatchResult {
	if workers <= 0 {
		workers = 1
	}
	var updated, failed, skipped, changed, fallbacks atomic.Int64

	p := pool.New().WithMaxGoroutines(workers)
	for _, pt := range patients {
		if ctx.Err() != nil {
			break
		}
		p.Go(func() {
			out := r.reconcileOne(ctx, pt)
			switch {
			case out.err != nil:
				failed.Add(1)
			case out.skipped:
				skipped.Add(1)
			default:
				updated.Add(1)
			}
			if out.changed {
				changed.Add(1)
			}
			if out.fallback {
				fallbacks.Add(1)
			}
		})
	}
	p.Wait()

	res := BatchResult{
		Updated:   int(updated.Load()),
		Errors:    int(failed.Load()),
		Skipped:   int(skipped.Load()),
		Changed:   int(changed.Load()),
		Fallbacks: int(fallbacks.Load()),
	}
	r.metrics.Add(metrics.PatientsAssessed, uint64(res.Updated))
	r.metrics.Add(metrics.ReconcileErrors, uint64(res.Errors))
	r.metrics.Add(metrics.OracleFallbacks, uint64(res.Fallbacks))
	return res
}

type outcome struct {
	skipped  bool
	changed  bool
	fallback bool
	err      error
}

func (r *Reconciler) reconcileOne(ctx context.Context, p *patient.Patient) outcome {
	log := r.logger.With().Str("patient_id", p.ID.String()).Logger()
	if ctx.Err() != nil {
		return outcome{err: ctx.Err()}
	}

	reading, err := r.readings.Latest(ctx, p.ID)
	if errors.Is(err, vitals.ErrNotFound) {
		return outcome{skipped: true}
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to load latest reading")
		return outcome{err: err}
	}

	local, err := r.local.Assess(ctx, p, reading)
	if err != nil {
		log.Error().Err(err).Msg("local assessment failed")
		return outcome{err: err}
	}

	var out outcome
	var external *Assessment
	if r.external != nil {
		external, err = r.external.Assess(ctx, p, reading)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("oracle unavailable, using rule-based assessment")
			external = nil
			out.fallback = true
		case !r.confident(external):
			log.Debug().Msg("oracle not confident, using rule-based assessment")
			out.fallback = true
		}
	}

	_, changed, err := r.reconcile(ctx, p.ID, local, external)
	if err != nil {
		log.Error().Err(err).Msg("failed to reconcile risk")
		return outcome{err: err, fallback: out.fallback}
	}
	out.changed = changed
	return out
}
