package vitals

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/iyacare/iyacare/internal/domain/patient"
)

type stubPatients map[uuid.UUID]*patient.Patient

func (s stubPatients) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := s[id]
	if !ok {
		return nil, patient.ErrNotFound
	}
	return p, nil
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func newTestService() (*Service, uuid.UUID) {
	pid := uuid.New()
	return NewService(NewRepoMemory(), stubPatients{pid: {ID: pid}}), pid
}

func TestService_Record(t *testing.T) {
	svc, pid := newTestService()
	r := &Reading{PatientID: pid, Systolic: intPtr(150), Diastolic: intPtr(95)}
	if err := svc.Record(context.Background(), r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if r.Source != SourceManual {
		t.Errorf("expected default source manual, got %s", r.Source)
	}
	if r.RecordedAt.IsZero() {
		t.Error("expected recorded_at to default to now")
	}
}

func TestService_Record_Validation(t *testing.T) {
	svc, pid := newTestService()
	tests := []struct {
		name string
		r    Reading
	}{
		{"missing patient", Reading{Systolic: intPtr(120)}},
		{"no measurements", Reading{PatientID: pid}},
		{"systolic out of range", Reading{PatientID: pid, Systolic: intPtr(400)}},
		{"spo2 over 100", Reading{PatientID: pid, OxygenSaturation: floatPtr(101)}},
		{"negative sugar", Reading{PatientID: pid, BloodSugar: floatPtr(-1)}},
		{"bad source", Reading{PatientID: pid, HeartRate: intPtr(80), Source: "fax"}},
		{"future", Reading{PatientID: pid, HeartRate: intPtr(80), RecordedAt: time.Now().Add(time.Hour)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.r
			if err := svc.Record(context.Background(), &r); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestService_Record_UnknownPatient(t *testing.T) {
	svc, _ := newTestService()
	err := svc.Record(context.Background(), &Reading{PatientID: uuid.New(), HeartRate: intPtr(80)})
	if !errors.Is(err, patient.ErrNotFound) {
		t.Fatalf("expected patient.ErrNotFound, got %v", err)
	}
}

func TestService_Latest(t *testing.T) {
	svc, pid := newTestService()
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	older := &Reading{PatientID: pid, HeartRate: intPtr(70), RecordedAt: base}
	newer := &Reading{PatientID: pid, HeartRate: intPtr(110), RecordedAt: base.Add(30 * time.Minute)}
	// insert out of order
	svc.Record(ctx, newer)
	svc.Record(ctx, older)

	got, err := svc.Latest(ctx, pid)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != newer.ID {
		t.Errorf("expected newest reading, got %v", got.ID)
	}

	items, total, _ := svc.ListByPatient(ctx, pid, 10, 0)
	if total != 2 || len(items) != 2 {
		t.Errorf("expected 2 readings, got %d", total)
	}

	if _, err := svc.Latest(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReading_Clean(t *testing.T) {
	r := Reading{Systolic: intPtr(500), HeartRate: intPtr(80), Temperature: floatPtr(10)}
	c := r.Clean()
	if c.Systolic != nil || c.Temperature != nil {
		t.Error("expected implausible values to be cleared")
	}
	if c.HeartRate == nil || *c.HeartRate != 80 {
		t.Error("expected plausible value to be kept")
	}
	if r.Systolic == nil {
		t.Error("Clean must not modify the receiver")
	}
}
