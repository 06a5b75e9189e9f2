package risk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iyacare/iyacare/internal/domain/patient"
	"github.com/iyacare/iyacare/internal/domain/vitals"
	"github.com/iyacare/iyacare/internal/platform/events"
	"github.com/iyacare/iyacare/internal/platform/metrics"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evs ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evs...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// failingStore fails SetRisk for one patient.
type failingStore struct {
	patient.Repository
	failFor uuid.UUID
}

func (f *failingStore) SetRisk(ctx context.Context, id uuid.UUID, s patient.RiskState) (*patient.Patient, string, error) {
	if id == f.failFor {
		return nil, "", errors.New("write failed")
	}
	return f.Repository.SetRisk(ctx, id, s)
}

type fixture struct {
	patients patient.Repository
	readings vitals.Repository
	pub      *recordingPublisher
	rec      *metrics.Collector
	r        *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		patients: patient.NewRepoMemory(),
		readings: vitals.NewRepoMemory(),
		pub:      &recordingPublisher{},
		rec:      metrics.NewCollector("test", nil, zerolog.Nop()),
	}
	f.r = NewReconciler(f.patients, f.readings, NewRuleBasedAssessor(), f.pub, f.rec, zerolog.Nop())
	return f
}

func (f *fixture) addPatient(t *testing.T, reading *vitals.Reading) *patient.Patient {
	t.Helper()
	p := &patient.Patient{Name: "P", Phone: "+250788000000", Risk: patient.RiskState{Level: "low", Source: SourceRuleBased}}
	if err := f.patients.Create(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if reading != nil {
		reading.PatientID = p.ID
		reading.RecordedAt = time.Now()
		if err := f.readings.Create(context.Background(), reading); err != nil {
			t.Fatal(err)
		}
	}
	return p
}

func conf(v float64) *float64 { return &v }

func TestReconcile_ConfidentExternalIsAuthoritative(t *testing.T) {
	f := newFixture(t)
	f.r.SetExternal(nil, 0.6)
	p := f.addPatient(t, nil)

	local := &Assessment{Score: 10, Level: Low, Factors: []string{"x"}, Source: SourceRuleBased}
	external := &Assessment{Score: 10, Level: "Mid Risk", Source: SourceExternalModel, Confidence: conf(0.9)}

	state, err := f.r.Reconcile(context.Background(), p.ID, local, external)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Level != string(Medium) {
		t.Errorf("expected normalized medium, got %s", state.Level)
	}
	if state.Source != SourceExternalModel {
		t.Errorf("expected external source, got %s", state.Source)
	}
	if !state.NeedsAlert {
		t.Error("expected needs_alert after level change")
	}
}

func TestReconcile_UnconfidentExternalIgnored(t *testing.T) {
	f := newFixture(t)
	p := f.addPatient(t, nil)

	local := &Assessment{Score: 45, Level: High, Factors: []string{"x"}, Source: SourceRuleBased}
	external := &Assessment{Level: Low, Source: SourceExternalModel, Confidence: conf(0.3)}

	state, _ := f.r.Reconcile(context.Background(), p.ID, local, external)
	if state.Level != string(High) || state.Source != SourceRuleBased {
		t.Errorf("expected local high, got %s from %s", state.Level, state.Source)
	}
}

func TestReconcile_NeedsAlertOnlyOnChange(t *testing.T) {
	f := newFixture(t)
	p := f.addPatient(t, nil)
	ctx := context.Background()
	high := &Assessment{Score: 45, Level: High, Factors: []string{"x"}, Source: SourceRuleBased}

	if _, err := f.r.Reconcile(ctx, p.ID, high, nil); err != nil {
		t.Fatal(err)
	}
	if err := f.patients.ClearNeedsAlert(ctx, p.ID); err != nil {
		t.Fatal(err)
	}

	state, _ := f.r.Reconcile(ctx, p.ID, high, nil)
	if state.NeedsAlert {
		t.Error("expected needs_alert to stay clear for an unchanged level")
	}
	if len(f.pub.events) != 1 {
		t.Errorf("expected 1 risk event, got %d", len(f.pub.events))
	}
	if f.pub.events[0].Type != events.RiskAssessed || f.pub.events[0].Data["previous_level"] != "low" {
		t.Errorf("unexpected event %+v", f.pub.events[0])
	}
}

func TestReconcile_RequiresLocal(t *testing.T) {
	f := newFixture(t)
	if _, err := f.r.Reconcile(context.Background(), uuid.New(), nil, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestReconcileAll_CountsPerPatient(t *testing.T) {
	f := newFixture(t)
	ok1 := f.addPatient(t, hypertensiveReading())
	ok2 := f.addPatient(t, &vitals.Reading{HeartRate: intPtr(72)})
	bad := f.addPatient(t, hypertensiveReading())
	f.addPatient(t, nil)

	store := &failingStore{Repository: f.patients, failFor: bad.ID}
	r := NewReconciler(store, f.readings, NewRuleBasedAssessor(), f.pub, f.rec, zerolog.Nop())

	all, _ := f.patients.ListAll(context.Background())
	res := r.ReconcileAll(context.Background(), all, 3)

	if res.Updated != 2 || res.Errors != 1 || res.Skipped != 1 {
		t.Errorf("expected updated=2 errors=1 skipped=1, got %+v", res)
	}
	if res.Changed != 1 {
		t.Errorf("expected 1 level change, got %d", res.Changed)
	}

	got, _ := f.patients.GetByID(context.Background(), ok1.ID)
	if got.Risk.Level != string(High) || got.Risk.Score != 25 {
		t.Errorf("expected high/25, got %s/%d", got.Risk.Level, got.Risk.Score)
	}
	got, _ = f.patients.GetByID(context.Background(), ok2.ID)
	if got.Risk.Level != string(Low) || got.Risk.NeedsAlert {
		t.Errorf("expected low without alert, got %+v", got.Risk)
	}
	if f.rec.Snapshot().Counters[metrics.ReconcileErrors] != 1 {
		t.Error("expected reconcile error counter")
	}
}

func TestReconcileAll_OracleFailureFallsBack(t *testing.T) {
	f := newFixture(t)
	f.r.SetExternal(NewModelAssessor(&stubOracle{err: errors.New("timeout")}), 0.6)
	p := f.addPatient(t, hypertensiveReading())

	all, _ := f.patients.ListAll(context.Background())
	res := f.r.ReconcileAll(context.Background(), all, 2)
	if res.Updated != 1 || res.Errors != 0 || res.Fallbacks != 1 {
		t.Errorf("expected updated=1 errors=0 fallbacks=1, got %+v", res)
	}
	got, _ := f.patients.GetByID(context.Background(), p.ID)
	if got.Risk.Source != SourceRuleBased {
		t.Errorf("expected rule_based source, got %s", got.Risk.Source)
	}
}

func TestReconcileAll_OracleConfident(t *testing.T) {
	f := newFixture(t)
	f.r.SetExternal(NewModelAssessor(&stubOracle{pred: &Prediction{PredictedRisk: "critical", Confidence: 0.95}}), 0.6)
	p := f.addPatient(t, hypertensiveReading())

	all, _ := f.patients.ListAll(context.Background())
	f.r.ReconcileAll(context.Background(), all, 1)

	got, _ := f.patients.GetByID(context.Background(), p.ID)
	if got.Risk.Level != string(Critical) || got.Risk.Source != SourceExternalModel {
		t.Errorf("expected critical from external model, got %s/%s", got.Risk.Level, got.Risk.Source)
	}
}

func TestReconcileAll_CancelledContext(t *testing.T) {
	f := newFixture(t)
	f.addPatient(t, hypertensiveReading())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	all, _ := f.patients.ListAll(context.Background())
	res := f.r.ReconcileAll(ctx, all, 1)
	if res.Updated != 0 {
		t.Errorf("expected no updates after cancellation, got %+v", res)
	}
}
