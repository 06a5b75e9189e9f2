package alert

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("notification not found")

type Filter struct {
	PatientID  *uuid.UUID
	Category   string
	UnreadOnly bool
}

type Repository interface {
	// CreateIfNoneUnread inserts n unless the patient already has an unread
	// risk notification. Only the risk category is deduplicated. The check
	// and the insert are atomic.
	CreateIfNoneUnread(ctx context.Context, n *Notification) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	// MarkRead is idempotent; an already-read notification keeps its ReadAt.
	MarkRead(ctx context.Context, id uuid.UUID, at time.Time) (*Notification, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Notification, int, error)
	// UnreadRiskPatients returns the patients holding an outstanding risk
	// notification.
	UnreadRiskPatients(ctx context.Context) (map[uuid.UUID]bool, error)
}
