package dispatch

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrMessageNotFound = errors.New("message not found")

type Filter struct {
	Status    Status
	Channel   Channel
	PatientID *uuid.UUID
}

type Repository interface {
	Create(ctx context.Context, m *OutboundMessage) error
	GetByID(ctx context.Context, id uuid.UUID) (*OutboundMessage, error)
	GetByGatewayID(ctx context.Context, gatewayID string) (*OutboundMessage, error)
	// Update loads the message, applies fn and stores the result atomically.
	// If fn fails nothing is written.
	Update(ctx context.Context, id uuid.UUID, fn func(m *OutboundMessage) error) (*OutboundMessage, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*OutboundMessage, int, error)
}
