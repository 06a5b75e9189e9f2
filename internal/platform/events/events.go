// Package events publishes pipeline events to Kafka as protobuf Struct
// payloads.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Event types.
const (
	RiskAssessed  = "risk.assessed"
	AlertCreated  = "alert.created"
	MessageStatus = "message.status"
)

const (
	contentType  = "application/x-protobuf"
	writeTimeout = 10 * time.Second
)

// Event is one pipeline fact. Key selects the partition; events for the
// same patient share a key so consumers see them in order.
type Event struct {
	Type       string
	Key        string
	OccurredAt time.Time
	Data       map[string]any
}

type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// NoOp drops events. Used when no brokers are configured.
type NoOp struct{}

func (NoOp) Publish(context.Context, ...Event) error { return nil }
func (NoOp) Close() error                            { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger zerolog.Logger
}

var _ Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(brokers []string, topic string, logger zerolog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("brokers cannot be empty")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: writeTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	logger = logger.With().Str("component", "events").Str("topic", topic).Logger()
	logger.Info().Strs("brokers", brokers).Msg("kafka publisher configured")

	return &KafkaPublisher{writer: w, topic: topic, logger: logger}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		msg, err := Encode(ev)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Error().Err(err).Int("count", len(msgs)).Msg("failed to publish events")
		return fmt.Errorf("publish events: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Encode builds the Kafka message for ev.
func Encode(ev Event) (kafka.Message, error) {
	if ev.Type == "" {
		return kafka.Message{}, errors.New("event type is required")
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	body, err := structpb.NewStruct(ev.Data)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s payload: %w", ev.Type, err)
	}
	payload, err := proto.Marshal(body)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal %s payload: %w", ev.Type, err)
	}

	return kafka.Message{
		Key:   []byte(ev.Key),
		Value: payload,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte(contentType)},
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}, nil
}

// Decode is the inverse of Encode.
func Decode(msg kafka.Message) (Event, error) {
	ev := Event{Key: string(msg.Key), OccurredAt: msg.Time}
	for _, h := range msg.Headers {
		if h.Key == "event_type" {
			ev.Type = string(h.Value)
		}
	}
	var body structpb.Struct
	if err := proto.Unmarshal(msg.Value, &body); err != nil {
		return Event{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	ev.Data = body.AsMap()
	return ev, nil
}

type multi []Publisher

// Multi publishes every event to each of pubs. Errors are joined; one failing
// publisher does not stop the others.
func Multi(pubs ...Publisher) Publisher {
	return multi(pubs)
}

func (m multi) Publish(ctx context.Context, events ...Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
