package patient

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

var validLanguages = map[string]bool{"en": true, "rw": true, "fr": true}

func (s *Service) Create(ctx context.Context, p *Patient) error {
	p.Name = strings.TrimSpace(p.Name)
	p.Phone = strings.TrimSpace(p.Phone)
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.Phone == "" {
		return fmt.Errorf("phone is required")
	}
	if p.PreferredLanguage == "" {
		p.PreferredLanguage = "en"
	}
	if !validLanguages[p.PreferredLanguage] {
		return fmt.Errorf("unsupported preferred_language: %s", p.PreferredLanguage)
	}
	if p.Age != nil && (*p.Age <= 0 || *p.Age > 120) {
		return fmt.Errorf("invalid age: %d", *p.Age)
	}
	if p.GestationalWeeks != nil && (*p.GestationalWeeks < 0 || *p.GestationalWeeks > 45) {
		return fmt.Errorf("invalid gestational_weeks: %d", *p.GestationalWeeks)
	}
	// Risk state is owned by the reconciler.
	p.Risk = RiskState{Level: DefaultLevel, Source: DefaultSource, Factors: []string{}}
	return s.repo.Create(ctx, p)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// Snapshot returns the whole population as of now.
func (s *Service) Snapshot(ctx context.Context) ([]*Patient, error) {
	return s.repo.ListAll(ctx)
}
