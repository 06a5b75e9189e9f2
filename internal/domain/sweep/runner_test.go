package sweep

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/iyacare/iyacare/internal/domain/alert"
	"github.com/iyacare/iyacare/internal/domain/dispatch"
	"github.com/iyacare/iyacare/internal/domain/patient"
	"github.com/iyacare/iyacare/internal/domain/risk"
	"github.com/iyacare/iyacare/internal/domain/template"
	"github.com/iyacare/iyacare/internal/domain/vitals"
	"github.com/iyacare/iyacare/internal/platform/email"
	"github.com/iyacare/iyacare/internal/platform/events"
	"github.com/iyacare/iyacare/internal/platform/lock"
	"github.com/iyacare/iyacare/internal/platform/metrics"
)

type smsGateway struct {
	mu   sync.Mutex
	sent map[string][]string
}

func (g *smsGateway) Name() string { return "test-sms" }

func (g *smsGateway) Send(_ context.Context, to, _, body string) (*dispatch.GatewayResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent[to] = append(g.sent[to], body)
	return &dispatch.GatewayResponse{Accepted: true, ID: "SM" + to, Status: dispatch.StatusSent}, nil
}

type mailbox struct {
	mu   sync.Mutex
	sent []*email.Request
}

func (m *mailbox) Name() string       { return "mailbox" }
func (m *mailbox) IsConfigured() bool { return true }

func (m *mailbox) Send(_ context.Context, req *email.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, req)
	return "mail-1", nil
}

type pipeline struct {
	patients  patient.Repository
	readings  vitals.Repository
	alerts    alert.Repository
	templates *template.Engine
	sms       *smsGateway
	mail      *mailbox
	locker    *lock.LocalLocker
	rec       *metrics.Collector
	runner    *Runner
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()
	p := &pipeline{
		patients:  patient.NewRepoMemory(),
		readings:  vitals.NewRepoMemory(),
		alerts:    alert.NewRepoMemory(),
		templates: template.NewEngine(template.NewRepoMemory()),
		sms:       &smsGateway{sent: make(map[string][]string)},
		mail:      &mailbox{},
		locker:    lock.NewLocalLocker(),
		rec:       metrics.NewCollector("test", nil, logger),
	}
	if _, err := p.templates.Seed(ctx, template.DefaultCatalog()); err != nil {
		t.Fatalf("seed templates: %v", err)
	}

	pub := events.NoOp{}
	reconciler := risk.NewReconciler(p.patients, p.readings, risk.NewRuleBasedAssessor(), pub, p.rec, logger)
	dedup := alert.NewDeduplicator(p.alerts, p.patients, pub, p.rec, logger)

	registry := email.NewRegistry(logger)
	registry.Register(p.mail)
	dispatcher := dispatch.NewDispatcher(dispatch.NewRepoMemory(), dispatch.Config{BatchSize: 5, SendTimeout: time.Second}, pub, p.rec, logger)
	dispatcher.RegisterGateway(dispatch.ChannelSMS, p.sms)
	dispatcher.RegisterGateway(dispatch.ChannelEmail, dispatch.NewEmailGateway(registry, "alerts@iyacare.rw"))

	p.runner = NewRunner(Deps{
		Patients:   p.patients,
		Reconciler: reconciler,
		Alerter:    dedup,
		Renderer:   p.templates,
		Sender:     dispatcher,
		Locker:     p.locker,
		Metrics:    p.rec,
	}, DefaultConfig(), logger)
	return p
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string     { return &v }

func (p *pipeline) addPatient(t *testing.T, pt *patient.Patient, r vitals.Reading) *patient.Patient {
	t.Helper()
	ctx := context.Background()
	if err := patient.NewService(p.patients).Create(ctx, pt); err != nil {
		t.Fatalf("create patient: %v", err)
	}
	r.PatientID = pt.ID
	r.RecordedAt = time.Now().UTC().Add(-time.Minute)
	r.Source = vitals.SourceManual
	if err := p.readings.Create(ctx, &r); err != nil {
		t.Fatalf("create reading: %v", err)
	}
	return pt
}

func hypertensiveReading() vitals.Reading {
	return vitals.Reading{
		Systolic:         intPtr(150),
		Diastolic:        intPtr(95),
		HeartRate:        intPtr(72),
		Temperature:      floatPtr(36.8),
		BloodSugar:       floatPtr(6.0),
		OxygenSaturation: floatPtr(97),
		RespiratoryRate:  intPtr(16),
	}
}

func normalReading() vitals.Reading {
	return vitals.Reading{
		Systolic:         intPtr(110),
		Diastolic:        intPtr(70),
		HeartRate:        intPtr(78),
		Temperature:      floatPtr(36.6),
		OxygenSaturation: floatPtr(98),
		RespiratoryRate:  intPtr(16),
	}
}

func (p *pipeline) unread(t *testing.T, id *patient.Patient) []*alert.Notification {
	t.Helper()
	items, _, err := p.alerts.List(context.Background(), alert.Filter{PatientID: &id.ID, Category: alert.CategoryRisk, UnreadOnly: true}, 10, 0)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	return items
}

func TestRun_HypertensionScenario(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	aline := p.addPatient(t, &patient.Patient{Name: "Aline", Phone: "+250788000001", PreferredLanguage: "en"}, hypertensiveReading())
	p.addPatient(t, &patient.Patient{Name: "Berthe", Phone: "+250788000002", PreferredLanguage: "en"}, normalReading())

	report, err := p.runner.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Reconcile.Updated != 2 || report.Reconcile.Errors != 0 {
		t.Errorf("expected updated 2 errors 0, got %+v", report.Reconcile)
	}

	stored, _ := p.patients.GetByID(ctx, aline.ID)
	if stored.Risk.Score != 25 || stored.Risk.Level != string(risk.High) {
		t.Fatalf("expected score 25 level high, got %d %s", stored.Risk.Score, stored.Risk.Level)
	}
	if len(stored.Risk.Factors) != 1 || stored.Risk.Factors[0] != "Hypertension detected" {
		t.Errorf("expected Hypertension detected, got %v", stored.Risk.Factors)
	}
	if stored.Risk.NeedsAlert {
		t.Error("expected needs_alert cleared after the sweep")
	}

	if report.Alerts.Created != 1 {
		t.Fatalf("expected 1 notification, got %d", report.Alerts.Created)
	}
	unread := p.unread(t, aline)
	if len(unread) != 1 || unread[0].Priority != alert.PriorityHigh {
		t.Fatalf("expected one high-priority notification, got %d", len(unread))
	}

	if report.Dispatch.Total != 1 || report.Dispatch.Sent != 1 {
		t.Errorf("expected 1 SMS sent, got %+v", report.Dispatch)
	}
	bodies := p.sms.sent["+250788000001"]
	if len(bodies) != 1 || !strings.Contains(bodies[0], "Hello Aline") || !strings.Contains(bodies[0], "Hypertension detected") {
		t.Errorf("unexpected SMS bodies: %v", bodies)
	}
	if report.HighRisk.Count != 1 || len(report.HighRisk.Preview) != 1 || report.HighRisk.Preview[0].Name != "Aline" {
		t.Errorf("unexpected high-risk summary: %+v", report.HighRisk)
	}
	tpl, _ := p.templates.Get(ctx, template.RiskAlertID)
	if tpl.UsageCount != 1 {
		t.Errorf("expected template usage 1, got %d", tpl.UsageCount)
	}

	second, err := p.runner.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Alerts.Created != 0 || second.Alerts.Skipped != 1 {
		t.Errorf("expected 0 created 1 skipped, got %+v", second.Alerts)
	}
	if second.Dispatch.Total != 0 || len(p.sms.sent["+250788000001"]) != 1 {
		t.Error("expected no further messages")
	}
	if len(p.unread(t, aline)) != 1 {
		t.Error("expected still exactly one unread notification")
	}
	if p.runner.Last().ID != second.ID {
		t.Error("expected the last report to be retained")
	}
	if got := p.rec.Snapshot().Counters[metrics.Sweeps]; got != 2 {
		t.Errorf("expected 2 sweeps counted, got %d", got)
	}
}

func TestRun_CriticalScenarioWithEmail(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	r := vitals.Reading{
		Systolic:         intPtr(118),
		Diastolic:        intPtr(76),
		HeartRate:        intPtr(112),
		Temperature:      floatPtr(39),
		OxygenSaturation: floatPtr(85),
		RespiratoryRate:  intPtr(18),
	}
	claire := p.addPatient(t, &patient.Patient{Name: "Claire", Phone: "+250788000003", Email: strPtr("claire@example.rw"), PreferredLanguage: "rw"}, r)

	report, err := p.runner.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	stored, _ := p.patients.GetByID(ctx, claire.ID)
	if stored.Risk.Level != string(risk.Critical) || stored.Risk.Score != 65 {
		t.Fatalf("expected critical 65, got %s %d", stored.Risk.Level, stored.Risk.Score)
	}
	for _, f := range []string{"Severe hypoxemia", "High fever detected", "Tachycardia detected"} {
		found := false
		for _, got := range stored.Risk.Factors {
			found = found || got == f
		}
		if !found {
			t.Errorf("expected factor %q in %v", f, stored.Risk.Factors)
		}
	}

	if report.Alerts.Created != 1 || report.Dispatch.Total != 2 || report.Dispatch.Sent != 2 {
		t.Fatalf("expected 1 alert and 2 messages sent, got %+v %+v", report.Alerts, report.Dispatch)
	}
	if body := p.sms.sent["+250788000003"][0]; !strings.HasPrefix(body, "Muraho Claire") {
		t.Errorf("expected Kinyarwanda SMS, got %q", body)
	}
	if len(p.mail.sent) != 1 || p.mail.sent[0].To[0] != "claire@example.rw" || p.mail.sent[0].Subject == "" {
		t.Errorf("expected one email to claire, got %d", len(p.mail.sent))
	}
	tpl, _ := p.templates.Get(ctx, template.RiskAlertID)
	if tpl.UsageCount != 2 {
		t.Errorf("expected template usage 2, got %d", tpl.UsageCount)
	}
}

func TestRun_ReadReArmsAlert(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	aline := p.addPatient(t, &patient.Patient{Name: "Aline", Phone: "+250788000001", PreferredLanguage: "fr"}, hypertensiveReading())

	if _, err := p.runner.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	n := p.unread(t, aline)[0]
	if _, err := p.alerts.MarkRead(ctx, n.ID, time.Now()); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	report, err := p.runner.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Alerts.Created != 1 || len(p.unread(t, aline)) != 1 {
		t.Errorf("expected exactly one new notification, got %d", report.Alerts.Created)
	}
	if len(p.sms.sent["+250788000001"]) != 2 {
		t.Errorf("expected a second SMS, got %d", len(p.sms.sent["+250788000001"]))
	}
}

func TestRun_SkipsWhenLocked(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	lease, err := p.locker.Acquire(ctx, LockKey, time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer lease.Release(ctx)

	if _, err := p.runner.Run(ctx); !errors.Is(err, ErrInProgress) {
		t.Fatalf("expected ErrInProgress, got %v", err)
	}
	if got := p.rec.Snapshot().Counters[metrics.SweepsSkipped]; got != 1 {
		t.Errorf("expected 1 skipped sweep, got %d", got)
	}
	if p.runner.Last() != nil {
		t.Error("expected no report from a skipped sweep")
	}
}

type brokenPatients struct{}

func (brokenPatients) ListAll(context.Context) ([]*patient.Patient, error) {
	return nil, errors.New("connection refused")
}

func TestRun_LoadFailureIsReturned(t *testing.T) {
	p := newPipeline(t)
	p.runner.deps.Patients = brokenPatients{}
	if _, err := p.runner.Run(context.Background()); err == nil {
		t.Fatal("expected load failure")
	}

	// the lock must be free again
	lease, err := p.locker.Acquire(context.Background(), LockKey, time.Minute)
	if err != nil {
		t.Fatalf("expected lock released, got %v", err)
	}
	lease.Release(context.Background())
}
