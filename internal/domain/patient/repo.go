package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("patient not found")

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
	// ListAll returns every patient. Sweeps take one snapshot per run.
	ListAll(ctx context.Context) ([]*Patient, error)
	// SetRisk writes state and sets needs_alert when the stored level
	// differs from state.Level. state.NeedsAlert is ignored. The previous
	// level is returned alongside the updated record.
	SetRisk(ctx context.Context, id uuid.UUID, state RiskState) (*Patient, string, error)
	ClearNeedsAlert(ctx context.Context, id uuid.UUID) error
}
