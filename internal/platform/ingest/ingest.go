// Package ingest subscribes to device vitals over MQTT and records them.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iyacare/iyacare/internal/domain/vitals"
	"github.com/iyacare/iyacare/internal/platform/metrics"
)

const TopicPrefix = "iyacare/vitals/"

// Recorder stores a validated reading.
type Recorder interface {
	Record(ctx context.Context, r *vitals.Reading) error
}

// Payload is the JSON body a device publishes. The patient comes from the
// topic, not the body.
type Payload struct {
	Systolic         *int       `json:"systolic"`
	Diastolic        *int       `json:"diastolic"`
	HeartRate        *int       `json:"heart_rate"`
	Temperature      *float64   `json:"temperature"`
	BloodSugar       *float64   `json:"blood_sugar"`
	OxygenSaturation *float64   `json:"oxygen_saturation"`
	RespiratoryRate  *int       `json:"respiratory_rate"`
	RecordedAt       *time.Time `json:"recorded_at"`
	DeviceID         string     `json:"device_id"`
}

// PatientFromTopic extracts the patient id from iyacare/vitals/<id>.
func PatientFromTopic(topic string) (uuid.UUID, error) {
	rest, ok := strings.CutPrefix(topic, TopicPrefix)
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return uuid.Nil, fmt.Errorf("unexpected topic %q", topic)
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid patient id in topic %q: %w", topic, err)
	}
	return id, nil
}

// Decode turns a device message into a reading.
func Decode(topic string, payload []byte) (*vitals.Reading, error) {
	pid, err := PatientFromTopic(topic)
	if err != nil {
		return nil, err
	}
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	r := &vitals.Reading{
		PatientID:        pid,
		Systolic:         p.Systolic,
		Diastolic:        p.Diastolic,
		HeartRate:        p.HeartRate,
		Temperature:      p.Temperature,
		BloodSugar:       p.BloodSugar,
		OxygenSaturation: p.OxygenSaturation,
		RespiratoryRate:  p.RespiratoryRate,
		Source:           vitals.SourceDevice,
	}
	if p.RecordedAt != nil {
		r.RecordedAt = p.RecordedAt.UTC()
	}
	return r, nil
}

// Handler decodes and records device messages.
type Handler struct {
	recorder Recorder
	metrics  metrics.Recorder
	logger   zerolog.Logger
}

func NewHandler(recorder Recorder, rec metrics.Recorder, logger zerolog.Logger) *Handler {
	if rec == nil {
		rec = metrics.NoOp{}
	}
	return &Handler{recorder: recorder, metrics: rec, logger: logger.With().Str("component", "ingest").Logger()}
}

func (h *Handler) Handle(ctx context.Context, topic string, payload []byte) error {
	r, err := Decode(topic, payload)
	if err != nil {
		return err
	}
	if err := h.recorder.Record(ctx, r); err != nil {
		return fmt.Errorf("record reading for %s: %w", r.PatientID, err)
	}
	h.metrics.Inc(metrics.VitalsIngested)
	return nil
}

type Config struct {
	Broker   string
	ClientID string
	Topic    string
	Username string
	Password string
}

// Subscriber holds the broker connection.
type Subscriber struct {
	client  mqtt.Client
	cfg     Config
	handler *Handler
	logger  zerolog.Logger
}

func Connect(cfg Config, handler *Handler, logger zerolog.Logger) (*Subscriber, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker: %w", token.Error())
	}
	return &Subscriber{
		client:  client,
		cfg:     cfg,
		handler: handler,
		logger:  logger.With().Str("component", "mqtt").Logger(),
	}, nil
}

// Start subscribes and keeps handling messages until ctx is done.
func (s *Subscriber) Start(ctx context.Context) error {
	token := s.client.Subscribe(s.cfg.Topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		if err := s.handler.Handle(ctx, msg.Topic(), msg.Payload()); err != nil {
			s.logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("dropped device reading")
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe to %s: %w", s.cfg.Topic, token.Error())
	}
	s.logger.Info().Str("topic", s.cfg.Topic).Msg("subscribed to device vitals")
	<-ctx.Done()
	s.client.Unsubscribe(s.cfg.Topic).Wait()
	return nil
}

func (s *Subscriber) Close() {
	s.client.Disconnect(250)
}
