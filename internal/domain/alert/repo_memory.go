package alert

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type repoMemory struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Notification
	// unreadRisk mirrors the partial unique index.
	unreadRisk map[uuid.UUID]uuid.UUID
	seq        map[uuid.UUID]int
	next       int
}

func NewRepoMemory() Repository {
	return &repoMemory{
		items:      make(map[uuid.UUID]*Notification),
		unreadRisk: make(map[uuid.UUID]uuid.UUID),
		seq:        make(map[uuid.UUID]int),
	}
}

func (m *repoMemory) CreateIfNoneUnread(_ context.Context, n *Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.Category == CategoryRisk {
		if _, exists := m.unreadRisk[n.PatientID]; exists {
			return false, nil
		}
	}
	n.ID = uuid.New()
	n.CreatedAt = time.Now().UTC()
	cp := *n
	m.items[n.ID] = &cp
	m.next++
	m.seq[n.ID] = m.next
	if n.Category == CategoryRisk && !n.Read {
		m.unreadRisk[n.PatientID] = n.ID
	}
	return true, nil
}

func (m *repoMemory) GetByID(_ context.Context, id uuid.UUID) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *repoMemory) MarkRead(_ context.Context, id uuid.UUID, at time.Time) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !n.Read {
		n.Read = true
		n.ReadAt = &at
		if m.unreadRisk[n.PatientID] == n.ID {
			delete(m.unreadRisk, n.PatientID)
		}
	}
	cp := *n
	return &cp, nil
}

func (m *repoMemory) List(_ context.Context, f Filter, limit, offset int) ([]*Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*Notification
	for _, n := range m.items {
		if f.PatientID != nil && n.PatientID != *f.PatientID {
			continue
		}
		if f.Category != "" && n.Category != f.Category {
			continue
		}
		if f.UnreadOnly && n.Read {
			continue
		}
		cp := *n
		matched = append(matched, &cp)
	}
	// newest first
	sort.Slice(matched, func(i, j int) bool { return m.seq[matched[i].ID] > m.seq[matched[j].ID] })

	start, end := offset, offset+limit
	if start > len(matched) {
		start = len(matched)
	}
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], len(matched), nil
}

func (m *repoMemory) UnreadRiskPatients(_ context.Context) (map[uuid.UUID]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]bool, len(m.unreadRisk))
	for pid := range m.unreadRisk {
		out[pid] = true
	}
	return out, nil
}
