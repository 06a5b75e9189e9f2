package vitals

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type repoMemory struct {
	mu        sync.RWMutex
	readings  map[uuid.UUID]*Reading
	byPatient map[uuid.UUID][]*Reading
}

func NewRepoMemory() Repository {
	return &repoMemory{
		readings:  make(map[uuid.UUID]*Reading),
		byPatient: make(map[uuid.UUID][]*Reading),
	}
}

func (m *repoMemory) Create(_ context.Context, r *Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New()
	r.CreatedAt = time.Now().UTC()
	cp := *r
	m.readings[r.ID] = &cp

	list := append(m.byPatient[r.PatientID], &cp)
	// newest first
	sort.SliceStable(list, func(i, j int) bool { return list[i].RecordedAt.After(list[j].RecordedAt) })
	m.byPatient[r.PatientID] = list
	return nil
}

func (m *repoMemory) GetByID(_ context.Context, id uuid.UUID) (*Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.readings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *repoMemory) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Reading, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.byPatient[patientID]
	start, end := offset, offset+limit
	if start > len(list) {
		start = len(list)
	}
	if end > len(list) {
		end = len(list)
	}
	out := make([]*Reading, 0, end-start)
	for _, r := range list[start:end] {
		cp := *r
		out = append(out, &cp)
	}
	return out, len(list), nil
}

func (m *repoMemory) Latest(_ context.Context, patientID uuid.UUID) (*Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.byPatient[patientID]
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	cp := *list[0]
	return &cp, nil
}
