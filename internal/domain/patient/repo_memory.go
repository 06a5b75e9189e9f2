package patient

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type repoMemory struct {
	mu       sync.RWMutex
	patients map[uuid.UUID]*Patient
	now      func() time.Time
}

// NewRepoMemory returns a Repository backed by a map. Records are copied on
// the way in and out.
func NewRepoMemory() Repository {
	return &repoMemory{patients: make(map[uuid.UUID]*Patient), now: time.Now}
}

func (r *repoMemory) Create(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = r.now().UTC()
	p.UpdatedAt = p.CreatedAt
	if p.Risk.Factors == nil {
		p.Risk.Factors = []string{}
	}
	r.patients[p.ID] = p.clone()
	return nil
}

func (r *repoMemory) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.clone(), nil
}

func (r *repoMemory) sorted() []*Patient {
	out := make([]*Patient, 0, len(r.patients))
	for _, p := range r.patients {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *repoMemory) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.sorted()
	start, end := offset, offset+limit
	if start > len(all) {
		start = len(all)
	}
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (r *repoMemory) ListAll(_ context.Context) ([]*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sorted(), nil
}

func (r *repoMemory) SetRisk(_ context.Context, id uuid.UUID, s RiskState) (*Patient, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, "", ErrNotFound
	}
	previous := p.Risk.Level
	needsAlert := p.Risk.NeedsAlert || previous != s.Level
	p.Risk = s
	p.Risk.Factors = append([]string{}, s.Factors...)
	p.Risk.NeedsAlert = needsAlert
	p.UpdatedAt = r.now().UTC()
	return p.clone(), previous, nil
}

func (r *repoMemory) ClearNeedsAlert(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return ErrNotFound
	}
	p.Risk.NeedsAlert = false
	p.UpdatedAt = r.now().UTC()
	return nil
}
