// Package sweep runs the risk pipeline end to end: reconcile every patient,
// raise deduplicated alerts, and notify the affected patients.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iyacare/iyacare/internal/domain/alert"
	"github.com/iyacare/iyacare/internal/domain/dispatch"
	"github.com/iyacare/iyacare/internal/domain/patient"
	"github.com/iyacare/iyacare/internal/domain/risk"
	"github.com/iyacare/iyacare/internal/domain/template"
	"github.com/iyacare/iyacare/internal/platform/lock"
	"github.com/iyacare/iyacare/internal/platform/metrics"
)

const LockKey = "iyacare:sweep"

var ErrInProgress = errors.New("sweep already in progress")

type PatientSource interface {
	ListAll(ctx context.Context) ([]*patient.Patient, error)
}

type Reconciler interface {
	ReconcileAll(ctx context.Context, patients []*patient.Patient, workers int) risk.BatchResult
}

type Alerter interface {
	Sweep(ctx context.Context, patients []*patient.Patient) alert.SweepResult
}

type Renderer interface {
	Render(ctx context.Context, id, language string, vars map[string]string) (string, error)
	RecordUsage(ctx context.Context, id string) error
}

type Sender interface {
	SendBatch(ctx context.Context, msgs []*dispatch.OutboundMessage, batchSize int) *dispatch.BatchReport
}

type Deps struct {
	Patients   PatientSource
	Reconciler Reconciler
	Alerter    Alerter
	Renderer   Renderer
	Sender     Sender
	Locker     lock.Locker
	Metrics    metrics.Recorder
}

type Config struct {
	Workers         int
	PreviewLimit    int
	BatchSize       int
	LockTTL         time.Duration
	DefaultLanguage string
}

func DefaultConfig() Config {
	return Config{
		Workers:         4,
		PreviewLimit:    alert.DefaultPreviewLimit,
		BatchSize:       dispatch.DefaultBatchSize,
		LockTTL:         5 * time.Minute,
		DefaultLanguage: template.LanguageEnglish,
	}
}

type AlertTally struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

type DispatchTally struct {
	Total     int `json:"total"`
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Invalid   int `json:"invalid"`
	Cancelled int `json:"cancelled"`
	Batches   int `json:"batches"`
}

type HighRisk struct {
	Count   int                  `json:"count"`
	Preview []alert.PreviewEntry `json:"preview"`
}

// Report is the outcome of one sweep. Every per-patient and per-message
// failure is counted here; only a failure that stops the whole sweep is
// returned as an error.
type Report struct {
	ID           uuid.UUID        `json:"id"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   time.Time        `json:"finished_at"`
	Patients     int              `json:"patients"`
	Reconcile    risk.BatchResult `json:"reconcile"`
	Alerts       AlertTally       `json:"alerts"`
	RenderErrors int              `json:"render_errors"`
	Dispatch     DispatchTally    `json:"dispatch"`
	HighRisk     HighRisk         `json:"high_risk"`
}

type Runner struct {
	deps   Deps
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	mu   sync.RWMutex
	last *Report
}

func NewRunner(deps Deps, cfg Config, logger zerolog.Logger) *Runner {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NoOp{}
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocalLocker()
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = template.LanguageEnglish
	}
	return &Runner{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With().Str("component", "sweep").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Last returns the most recent completed report, or nil.
func (r *Runner) Last() *Report {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Run executes one sweep while holding the sweep lock. It fails with
// ErrInProgress when another sweep holds the lock.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	lease, err := r.deps.Locker.Acquire(ctx, LockKey, r.cfg.LockTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		r.deps.Metrics.Inc(metrics.SweepsSkipped)
		return nil, ErrInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("acquire sweep lock: %w", err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn().Err(err).Msg("failed to release sweep lock")
		}
	}()

	report := &Report{ID: uuid.New(), StartedAt: r.now()}
	log := r.logger.With().Str("sweep_id", report.ID.String()).Logger()

	patients, err := r.deps.Patients.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	report.Patients = len(patients)
	report.Reconcile = r.deps.Reconciler.ReconcileAll(ctx, patients, r.cfg.Workers)

	// Dedup, dispatch and the high-risk figures all read this one snapshot.
	current, err := r.deps.Patients.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("reload patients: %w", err)
	}
	alerts := r.deps.Alerter.Sweep(ctx, current)
	report.Alerts = AlertTally{Created: alerts.Created, Skipped: alerts.Skipped, Errors: alerts.Errors}

	msgs := r.compose(ctx, log, current, alerts.Notifications, report)
	if len(msgs) > 0 {
		d := r.deps.Sender.SendBatch(ctx, msgs, r.cfg.BatchSize)
		report.Dispatch = DispatchTally{
			Total:     d.Total,
			Attempted: d.Attempted,
			Sent:      d.Sent,
			Failed:    d.Failed,
			Invalid:   d.Invalid,
			Cancelled: d.Cancelled,
			Batches:   len(d.Batches),
		}
		for _, m := range d.Messages {
			if m.TemplateID == "" || !m.Status.Reached() {
				continue
			}
			if err := r.deps.Renderer.RecordUsage(ctx, m.TemplateID); err != nil {
				log.Warn().Err(err).Str("template_id", m.TemplateID).Msg("failed to record template usage")
			}
		}
	}

	report.HighRisk = HighRisk{
		Count:   alert.HighRiskPatientCount(current),
		Preview: alert.HighRiskPreview(current, r.cfg.PreviewLimit),
	}
	report.FinishedAt = r.now()
	r.deps.Metrics.Inc(metrics.Sweeps)

	r.mu.Lock()
	r.last = report
	r.mu.Unlock()

	log.Info().
		Int("patients", report.Patients).
		Int("updated", report.Reconcile.Updated).
		Int("reconcile_errors", report.Reconcile.Errors).
		Int("alerts_created", report.Alerts.Created).
		Int("messages_sent", report.Dispatch.Sent).
		Int("messages_failed", report.Dispatch.Failed).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("sweep finished")
	return report, nil
}

// compose renders the risk alert for each new notification in the patient's
// language: one SMS, plus one email when the patient has an address.
func (r *Runner) compose(ctx context.Context, log zerolog.Logger, patients []*patient.Patient, created []*alert.Notification, report *Report) []*dispatch.OutboundMessage {
	byID := make(map[uuid.UUID]*patient.Patient, len(patients))
	for _, p := range patients {
		byID[p.ID] = p
	}

	var msgs []*dispatch.OutboundMessage
	for _, n := range created {
		p, ok := byID[n.PatientID]
		if !ok {
			continue
		}
		lang := p.PreferredLanguage
		if lang == "" {
			lang = r.cfg.DefaultLanguage
		}
		level := p.Risk.Level
		if n.RiskLevel != nil {
			level = *n.RiskLevel
		}
		body, err := r.deps.Renderer.Render(ctx, template.RiskAlertID, lang, map[string]string{
			"patient_name": p.Name,
			"risk_level":   level,
			"factors":      strings.Join(p.Risk.Factors, ", "),
		})
		if err != nil {
			report.RenderErrors++
			log.Error().Err(err).Str("patient_id", p.ID.String()).Str("language", lang).Msg("failed to render risk alert")
			continue
		}

		pid := p.ID
		msgs = append(msgs, &dispatch.OutboundMessage{
			Channel:    dispatch.ChannelSMS,
			Recipient:  p.Phone,
			Body:       body,
			Category:   template.CategoryRiskAlert,
			Priority:   n.Priority,
			Automated:  true,
			PatientID:  &pid,
			TemplateID: template.RiskAlertID,
		})
		if p.Email != nil && *p.Email != "" {
			msgs = append(msgs, &dispatch.OutboundMessage{
				Channel:    dispatch.ChannelEmail,
				Recipient:  *p.Email,
				Subject:    emailSubject(lang),
				Body:       body,
				Category:   template.CategoryRiskAlert,
				Priority:   n.Priority,
				Automated:  true,
				PatientID:  &pid,
				TemplateID: template.RiskAlertID,
			})
		}
	}
	return msgs
}

func emailSubject(lang string) string {
	switch lang {
	case template.LanguageKinyarwanda:
		return "IyaCare: integuza y'ibyago"
	case template.LanguageFrench:
		return "IyaCare : alerte de risque"
	default:
		return "IyaCare: risk alert"
	}
}
