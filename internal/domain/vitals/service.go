package vitals

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iyacare/iyacare/internal/domain/patient"
)

// PatientLookup is the part of the patient store needed to validate
// readings.
type PatientLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

type Service struct {
	repo     Repository
	patients PatientLookup
	now      func() time.Time
}

func NewService(repo Repository, patients PatientLookup) *Service {
	return &Service{repo: repo, patients: patients, now: time.Now}
}

const maxClockSkew = 5 * time.Minute

// Record validates and stores r. Readings are immutable once stored.
func (s *Service) Record(ctx context.Context, r *Reading) error {
	if r.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if r.Empty() {
		return fmt.Errorf("at least one measurement is required")
	}
	if err := validateRanges(*r); err != nil {
		return err
	}
	if r.Source == "" {
		r.Source = SourceManual
	}
	if r.Source != SourceManual && r.Source != SourceDevice {
		return fmt.Errorf("invalid source: %s", r.Source)
	}
	now := s.now().UTC()
	if r.RecordedAt.IsZero() {
		r.RecordedAt = now
	}
	if r.RecordedAt.After(now.Add(maxClockSkew)) {
		return fmt.Errorf("recorded_at is in the future")
	}
	if _, err := s.patients.GetByID(ctx, r.PatientID); err != nil {
		return fmt.Errorf("lookup patient: %w", err)
	}
	return s.repo.Create(ctx, r)
}

func validateRanges(r Reading) error {
	c := r.Clean()
	switch {
	case r.Systolic != nil && c.Systolic == nil:
		return fmt.Errorf("systolic out of range: %d", *r.Systolic)
	case r.Diastolic != nil && c.Diastolic == nil:
		return fmt.Errorf("diastolic out of range: %d", *r.Diastolic)
	case r.HeartRate != nil && c.HeartRate == nil:
		return fmt.Errorf("heart_rate out of range: %d", *r.HeartRate)
	case r.Temperature != nil && c.Temperature == nil:
		return fmt.Errorf("temperature out of range: %v", *r.Temperature)
	case r.BloodSugar != nil && c.BloodSugar == nil:
		return fmt.Errorf("blood_sugar out of range: %v", *r.BloodSugar)
	case r.OxygenSaturation != nil && c.OxygenSaturation == nil:
		return fmt.Errorf("oxygen_saturation out of range: %v", *r.OxygenSaturation)
	case r.RespiratoryRate != nil && c.RespiratoryRate == nil:
		return fmt.Errorf("respiratory_rate out of range: %d", *r.RespiratoryRate)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Reading, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Reading, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) Latest(ctx context.Context, patientID uuid.UUID) (*Reading, error) {
	return s.repo.Latest(ctx, patientID)
}
