package vitals

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("vital reading not found")

type Repository interface {
	Create(ctx context.Context, r *Reading) error
	GetByID(ctx context.Context, id uuid.UUID) (*Reading, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Reading, int, error)
	// Latest returns the most recent reading by recorded_at.
	Latest(ctx context.Context, patientID uuid.UUID) (*Reading, error)
}
