package dispatch

import (
	"errors"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusSent, true},
		{StatusPending, StatusFailed, true},
		{StatusSent, StatusDelivered, true},
		{StatusSent, StatusFailed, true},
		{StatusDelivered, StatusRead, true},
		{StatusDelivered, StatusFailed, false},
		{StatusPending, StatusDelivered, false},
		{StatusRead, StatusDelivered, false},
		{StatusFailed, StatusSent, false},
		{StatusSent, StatusPending, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestAdvance_StampsEachState(t *testing.T) {
	m := &OutboundMessage{Status: StatusPending}
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	changed, err := m.Advance(StatusRead, at, "")
	if err != nil || !changed {
		t.Fatalf("expected forward walk to succeed, got %v", err)
	}
	if m.SentAt == nil || m.DeliveredAt == nil || m.ReadAt == nil {
		t.Error("expected sent, delivered and read timestamps")
	}
	if m.FailureReason != "" {
		t.Error("expected no failure reason")
	}
}

func TestAdvance_RepeatIsNoOp(t *testing.T) {
	m := &OutboundMessage{Status: StatusDelivered}
	changed, err := m.Advance(StatusDelivered, time.Now(), "")
	if err != nil || changed {
		t.Errorf("expected no-op, got changed=%v err=%v", changed, err)
	}
}

func TestAdvance_RejectsBackwardAndTerminal(t *testing.T) {
	for _, tt := range []struct{ from, to Status }{
		{StatusDelivered, StatusSent},
		{StatusRead, StatusFailed},
		{StatusFailed, StatusDelivered},
		{StatusDelivered, StatusFailed},
		{StatusPending, "bounced"},
	} {
		m := &OutboundMessage{Status: tt.from}
		if _, err := m.Advance(tt.to, time.Now(), ""); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s -> %s: expected ErrInvalidTransition, got %v", tt.from, tt.to, err)
		}
		if m.Status != tt.from {
			t.Errorf("%s -> %s: status changed to %s", tt.from, tt.to, m.Status)
		}
	}
}

func TestAdvance_CarrierFailureAfterSent(t *testing.T) {
	m := &OutboundMessage{Status: StatusSent}
	if _, err := m.Advance(StatusFailed, time.Now(), "undelivered"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Status != StatusFailed || m.FailureReason != "undelivered" {
		t.Errorf("expected failed with reason, got %s %q", m.Status, m.FailureReason)
	}
}

func TestFail_OnlyPending(t *testing.T) {
	m := &OutboundMessage{Status: StatusSent}
	if m.Fail(time.Now(), "x") {
		t.Error("expected Fail to leave sent message alone")
	}
	m = &OutboundMessage{Status: StatusPending}
	if !m.Fail(time.Now(), "x") || m.Status != StatusFailed {
		t.Error("expected pending message to fail")
	}
}
