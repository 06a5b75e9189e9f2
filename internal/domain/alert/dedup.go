package alert

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iyacare/iyacare/internal/domain/patient"
	"github.com/iyacare/iyacare/internal/domain/risk"
	"github.com/iyacare/iyacare/internal/platform/events"
	"github.com/iyacare/iyacare/internal/platform/metrics"
)

const (
	DefaultPreviewLimit = 5
	systemCreator       = "system"
)

// PatientStore is the subset of patient persistence the deduplicator needs.
type PatientStore interface {
	ListAll(ctx context.Context) ([]*patient.Patient, error)
	ClearNeedsAlert(ctx context.Context, id uuid.UUID) error
}

// SweepResult tallies one dedup pass. Skipped counts high-risk patients that
// already hold an unread risk notification.
type SweepResult struct {
	Created       int             `json:"created"`
	Skipped       int             `json:"skipped"`
	Errors        int             `json:"errors"`
	Notifications []*Notification `json:"-"`
}

// PreviewEntry is one row of the high-risk preview list.
type PreviewEntry struct {
	PatientID uuid.UUID `json:"patient_id"`
	Name      string    `json:"name"`
	Level     string    `json:"level"`
	Score     int       `json:"score"`
	Factors   []string  `json:"factors"`
}

// Summary is the operator view of high-risk patients. All fields derive from
// the same patient snapshot and the same unread set.
type Summary struct {
	Count       int            `json:"count"`
	Preview     []PreviewEntry `json:"preview"`
	Outstanding int            `json:"outstanding"`
	Unalerted   int            `json:"unalerted"`
	GeneratedAt time.Time      `json:"generated_at"`
}

type Deduplicator struct {
	repo      Repository
	patients  PatientStore
	publisher events.Publisher
	metrics   metrics.Recorder
	logger    zerolog.Logger
	now       func() time.Time
}

func NewDeduplicator(repo Repository, patients PatientStore, publisher events.Publisher, rec metrics.Recorder, logger zerolog.Logger) *Deduplicator {
	return &Deduplicator{
		repo:      repo,
		patients:  patients,
		publisher: publisher,
		metrics:   rec,
		logger:    logger.With().Str("component", "dedup").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Compose builds the notification text from the patient's triggered factors.
func Compose(p *patient.Patient) string {
	level := risk.Of(p.Risk.Level)
	msg := fmt.Sprintf("%s is at %s risk (score %d)", p.Name, level, p.Risk.Score)
	if len(p.Risk.Factors) > 0 {
		msg += ": " + strings.Join(p.Risk.Factors, "; ")
	}
	return msg
}

// PriorityFor maps an alertable level onto notification priority.
func PriorityFor(level risk.Level) string {
	switch level {
	case risk.Critical, risk.High:
		return PriorityHigh
	case risk.Medium:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Sweep creates at most one unread risk notification per high-risk patient.
// Every patient whose needs_alert flag is set has it cleared afterwards, even
// when the patient is no longer alertable.
func (d *Deduplicator) Sweep(ctx context.Context, patients []*patient.Patient) SweepResult {
	var res SweepResult
	for _, p := range patients {
		if ctx.Err() != nil {
			break
		}
		level := risk.Of(p.Risk.Level)
		if !level.Alertable() {
			d.clear(ctx, p)
			continue
		}

		lvl := string(level)
		n := &Notification{
			PatientID:   p.ID,
			PatientName: p.Name,
			Category:    CategoryRisk,
			Message:     Compose(p),
			Priority:    PriorityFor(level),
			RiskLevel:   &lvl,
			CreatedBy:   systemCreator,
		}
		created, err := d.repo.CreateIfNoneUnread(ctx, n)
		if err != nil {
			res.Errors++
			d.logger.Error().Err(err).Str("patient_id", p.ID.String()).Msg("failed to create notification")
			continue
		}
		d.clear(ctx, p)
		if !created {
			res.Skipped++
			continue
		}
		res.Created++
		res.Notifications = append(res.Notifications, n)
		d.publish(ctx, n)
	}
	d.metrics.Add(metrics.NotificationsCreated, uint64(res.Created))
	return res
}

func (d *Deduplicator) clear(ctx context.Context, p *patient.Patient) {
	if !p.Risk.NeedsAlert {
		return
	}
	if err := d.patients.ClearNeedsAlert(ctx, p.ID); err != nil {
		d.logger.Warn().Err(err).Str("patient_id", p.ID.String()).Msg("failed to clear needs_alert")
	}
}

func (d *Deduplicator) publish(ctx context.Context, n *Notification) {
	ev := events.Event{
		Type:       events.AlertCreated,
		Key:        n.PatientID.String(),
		OccurredAt: n.CreatedAt,
		Data: map[string]any{
			"notification_id": n.ID.String(),
			"patient_id":      n.PatientID.String(),
			"priority":        n.Priority,
			"risk_level":      *n.RiskLevel,
		},
	}
	if err := d.publisher.Publish(ctx, ev); err != nil {
		d.logger.Warn().Err(err).Str("notification_id", n.ID.String()).Msg("failed to publish alert")
	}
}

// MarkRead re-arms alerting for the notification's patient.
func (d *Deduplicator) MarkRead(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return d.repo.MarkRead(ctx, id, d.now())
}

func (d *Deduplicator) List(ctx context.Context, f Filter, limit, offset int) ([]*Notification, int, error) {
	return d.repo.List(ctx, f, limit, offset)
}

// HighRiskPatientCount counts patients currently classified high or critical.
func HighRiskPatientCount(patients []*patient.Patient) int {
	n := 0
	for _, p := range patients {
		if risk.Of(p.Risk.Level).Alertable() {
			n++
		}
	}
	return n
}

// HighRiskPatients returns the alertable patients ordered by level, then
// score, then name.
func HighRiskPatients(patients []*patient.Patient) []*patient.Patient {
	var out []*patient.Patient
	for _, p := range patients {
		if risk.Of(p.Risk.Level).Alertable() {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		li, lj := risk.Of(out[i].Risk.Level), risk.Of(out[j].Risk.Level)
		if li != lj {
			return li.Rank() > lj.Rank()
		}
		if out[i].Risk.Score != out[j].Risk.Score {
			return out[i].Risk.Score > out[j].Risk.Score
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// HighRiskPreview returns at most limit entries of HighRiskPatients.
func HighRiskPreview(patients []*patient.Patient, limit int) []PreviewEntry {
	if limit <= 0 {
		limit = DefaultPreviewLimit
	}
	sorted := HighRiskPatients(patients)
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]PreviewEntry, 0, len(sorted))
	for _, p := range sorted {
		out = append(out, PreviewEntry{
			PatientID: p.ID,
			Name:      p.Name,
			Level:     p.Risk.Level,
			Score:     p.Risk.Score,
			Factors:   append([]string(nil), p.Risk.Factors...),
		})
	}
	return out
}

// Summary loads one patient snapshot and derives every figure from it, so
// Count always equals Outstanding plus Unalerted.
func (d *Deduplicator) Summary(ctx context.Context, limit int) (*Summary, error) {
	patients, err := d.patients.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	unread, err := d.repo.UnreadRiskPatients(ctx)
	if err != nil {
		return nil, fmt.Errorf("load unread notifications: %w", err)
	}
	return Summarize(patients, unread, limit, d.now()), nil
}

func Summarize(patients []*patient.Patient, unread map[uuid.UUID]bool, limit int, at time.Time) *Summary {
	s := &Summary{
		Count:       HighRiskPatientCount(patients),
		Preview:     HighRiskPreview(patients, limit),
		GeneratedAt: at,
	}
	for _, p := range patients {
		if !risk.Of(p.Risk.Level).Alertable() {
			continue
		}
		if unread[p.ID] {
			s.Outstanding++
		} else {
			s.Unalerted++
		}
	}
	return s
}

// Export loads one snapshot and writes the high-risk workbook.
func (d *Deduplicator) Export(ctx context.Context, w io.Writer) error {
	patients, err := d.patients.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("load patients: %w", err)
	}
	unread, err := d.repo.UnreadRiskPatients(ctx)
	if err != nil {
		return fmt.Errorf("load unread notifications: %w", err)
	}
	return WriteHighRiskWorkbook(w, patients, unread)
}
