package template

import (
	"context"
	"sort"
	"sync"
	"time"
)

type repoMemory struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

func NewRepoMemory() Repository {
	return &repoMemory{templates: make(map[string]*Template)}
}

func (r *repoMemory) GetByID(_ context.Context, id string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	return t.clone(), nil
}

func (r *repoMemory) List(_ context.Context, category string, activeOnly bool) ([]*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Template
	for _, t := range r.templates {
		if category != "" && t.Category != category {
			continue
		}
		if activeOnly && !t.Active {
			continue
		}
		out = append(out, t.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *repoMemory) CreateIfAbsent(_ context.Context, t *Template) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.templates[t.ID]; exists {
		return false, nil
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	r.templates[t.ID] = t.clone()
	return true, nil
}

func (r *repoMemory) SetActive(_ context.Context, id string, active bool) (*Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	t.Active = active
	t.UpdatedAt = time.Now().UTC()
	return t.clone(), nil
}

func (r *repoMemory) IncrementUsage(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok {
		return ErrTemplateNotFound
	}
	t.UsageCount++
	t.LastUsedAt = &at
	return nil
}
