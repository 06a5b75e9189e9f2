package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type repoMemory struct {
	mu        sync.Mutex
	messages  map[uuid.UUID]*OutboundMessage
	byGateway map[string]uuid.UUID
	order     []uuid.UUID
}

func NewRepoMemory() Repository {
	return &repoMemory{
		messages:  make(map[uuid.UUID]*OutboundMessage),
		byGateway: make(map[string]uuid.UUID),
	}
}

func (r *repoMemory) Create(_ context.Context, m *OutboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	r.messages[m.ID] = m.clone()
	r.order = append(r.order, m.ID)
	if m.GatewayMessageID != "" {
		r.byGateway[m.GatewayMessageID] = m.ID
	}
	return nil
}

func (r *repoMemory) GetByID(_ context.Context, id uuid.UUID) (*OutboundMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return m.clone(), nil
}

func (r *repoMemory) GetByGatewayID(_ context.Context, gatewayID string) (*OutboundMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byGateway[gatewayID]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return r.messages[id].clone(), nil
}

func (r *repoMemory) Update(_ context.Context, id uuid.UUID, fn func(m *OutboundMessage) error) (*OutboundMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	m := stored.clone()
	if err := fn(m); err != nil {
		return nil, err
	}
	r.messages[id] = m
	if m.GatewayMessageID != "" {
		r.byGateway[m.GatewayMessageID] = id
	}
	return m.clone(), nil
}

func (r *repoMemory) List(_ context.Context, f Filter, limit, offset int) ([]*OutboundMessage, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos := make(map[uuid.UUID]int, len(r.order))
	for i, id := range r.order {
		pos[id] = i
	}
	var matched []*OutboundMessage
	for _, m := range r.messages {
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		if f.Channel != "" && m.Channel != f.Channel {
			continue
		}
		if f.PatientID != nil && (m.PatientID == nil || *m.PatientID != *f.PatientID) {
			continue
		}
		matched = append(matched, m.clone())
	}
	sort.Slice(matched, func(i, j int) bool { return pos[matched[i].ID] > pos[matched[j].ID] })

	start, end := offset, offset+limit
	if start > len(matched) {
		start = len(matched)
	}
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], len(matched), nil
}
