package dispatch

import (
	"time"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// OutboundMessage maps to the outbound_message table. It is created once per
// dispatch attempt and afterwards only changes through status transitions.
type OutboundMessage struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	Channel          Channel    `db:"channel" json:"channel"`
	Recipient        string     `db:"recipient" json:"recipient"`
	Subject          string     `db:"subject" json:"subject,omitempty"`
	Body             string     `db:"body" json:"body"`
	Category         string     `db:"category" json:"category"`
	Priority         string     `db:"priority" json:"priority"`
	Automated        bool       `db:"automated" json:"automated"`
	Status           Status     `db:"status" json:"status"`
	Gateway          string     `db:"gateway" json:"gateway,omitempty"`
	GatewayMessageID string     `db:"gateway_message_id" json:"gateway_message_id,omitempty"`
	PatientID        *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	TemplateID       string     `db:"template_id" json:"template_id,omitempty"`
	FailureReason    string     `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	SentAt           *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt      *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt           *time.Time `db:"read_at" json:"read_at,omitempty"`
}

func (m *OutboundMessage) clone() *OutboundMessage {
	cp := *m
	return &cp
}
