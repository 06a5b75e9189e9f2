package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iyacare/iyacare/internal/domain/patient"
	"github.com/iyacare/iyacare/internal/domain/vitals"
	"github.com/iyacare/iyacare/internal/platform/metrics"
)

func TestPatientFromTopic(t *testing.T) {
	id := uuid.New()
	got, err := PatientFromTopic(TopicPrefix + id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	for _, topic := range []string{"iyacare/vitals/", "iyacare/vitals/nope", "other/" + id.String(), TopicPrefix + id.String() + "/extra"} {
		_, err := PatientFromTopic(topic)
		assert.Error(t, err, topic)
	}
}

func TestDecode(t *testing.T) {
	id := uuid.New()
	r, err := Decode(TopicPrefix+id.String(), []byte(`{"systolic":150,"diastolic":95,"oxygen_saturation":97.5,"recorded_at":"2026-03-01T08:00:00+02:00"}`))
	require.NoError(t, err)
	assert.Equal(t, id, r.PatientID)
	assert.Equal(t, vitals.SourceDevice, r.Source)
	require.NotNil(t, r.Systolic)
	assert.Equal(t, 150, *r.Systolic)
	assert.Nil(t, r.HeartRate)
	assert.Equal(t, 6, r.RecordedAt.Hour())

	_, err = Decode(TopicPrefix+id.String(), []byte(`{not json`))
	assert.Error(t, err)
}

func TestHandler_RecordsDeviceReading(t *testing.T) {
	ctx := context.Background()
	patients := patient.NewRepoMemory()
	p := &patient.Patient{Name: "Aline", Phone: "+250788000001", PreferredLanguage: "en"}
	require.NoError(t, patient.NewService(patients).Create(ctx, p))

	readings := vitals.NewRepoMemory()
	rec := metrics.NewCollector("test", nil, zerolog.Nop())
	h := NewHandler(vitals.NewService(readings, patients), rec, zerolog.Nop())

	require.NoError(t, h.Handle(ctx, TopicPrefix+p.ID.String(), []byte(`{"heart_rate":112}`)))
	latest, err := readings.Latest(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, vitals.SourceDevice, latest.Source)
	assert.Equal(t, uint64(1), rec.Snapshot().Counters[metrics.VitalsIngested])

	// out-of-range and unknown-patient readings are rejected and not counted
	assert.Error(t, h.Handle(ctx, TopicPrefix+p.ID.String(), []byte(`{"heart_rate":900}`)))
	assert.Error(t, h.Handle(ctx, TopicPrefix+uuid.NewString(), []byte(`{"heart_rate":80}`)))
	assert.Equal(t, uint64(1), rec.Snapshot().Counters[metrics.VitalsIngested])
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, *vitals.Reading) error {
	return errors.New("db down")
}

func TestHandler_WrapsRecordError(t *testing.T) {
	h := NewHandler(failingRecorder{}, nil, zerolog.Nop())
	err := h.Handle(context.Background(), TopicPrefix+uuid.NewString(), []byte(`{"heart_rate":80}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}
