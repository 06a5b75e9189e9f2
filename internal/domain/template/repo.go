package template

import (
	"context"
	"time"
)

type Repository interface {
	GetByID(ctx context.Context, id string) (*Template, error)
	// List returns templates ordered by id. An empty category matches all.
	List(ctx context.Context, category string, activeOnly bool) ([]*Template, error)
	// CreateIfAbsent inserts t unless a template with the same id exists.
	CreateIfAbsent(ctx context.Context, t *Template) (bool, error)
	SetActive(ctx context.Context, id string, active bool) (*Template, error)
	IncrementUsage(ctx context.Context, id string, at time.Time) error
}
