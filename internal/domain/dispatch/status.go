package dispatch

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// transitions lists the single-step moves. failed and read are terminal.
var transitions = map[Status][]Status{
	StatusPending:   {StatusSent, StatusFailed},
	StatusSent:      {StatusDelivered, StatusFailed},
	StatusDelivered: {StatusRead},
}

// happyPath orders the non-failure states.
var happyPath = []Status{StatusPending, StatusSent, StatusDelivered, StatusRead}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return true
	}
	return false
}

func (s Status) Terminal() bool { return s == StatusFailed || s == StatusRead }

// Reached reports whether the message made it to the gateway.
func (s Status) Reached() bool {
	return s == StatusSent || s == StatusDelivered || s == StatusRead
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func pathIndex(s Status) int {
	for i, p := range happyPath {
		if p == s {
			return i
		}
	}
	return -1
}

// transition moves m one step to `to` and stamps that state's timestamp.
func (m *OutboundMessage) transition(to Status, at time.Time, reason string) error {
	if !CanTransition(m.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status, to)
	}
	t := at
	switch to {
	case StatusSent:
		m.SentAt = &t
	case StatusDelivered:
		m.DeliveredAt = &t
	case StatusRead:
		m.ReadAt = &t
	case StatusFailed:
		m.FailureReason = reason
	}
	m.Status = to
	return nil
}

// Advance moves m forward to `to`, walking any intermediate states of the
// pending -> sent -> delivered -> read path. A repeat of the current status
// is a no-op and reports false. Backward moves fail with ErrInvalidTransition.
func (m *OutboundMessage) Advance(to Status, at time.Time, reason string) (bool, error) {
	if !to.Valid() {
		return false, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if m.Status == to {
		return false, nil
	}
	if to == StatusFailed {
		return true, m.transition(StatusFailed, at, reason)
	}
	cur, target := pathIndex(m.Status), pathIndex(to)
	if cur < 0 || target <= cur {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status, to)
	}
	for _, next := range happyPath[cur+1 : target+1] {
		if err := m.transition(next, at, ""); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Fail marks a still-pending message failed. Messages already past pending
// are left alone.
func (m *OutboundMessage) Fail(at time.Time, reason string) bool {
	if m.Status != StatusPending {
		return false
	}
	_ = m.transition(StatusFailed, at, reason)
	return true
}
