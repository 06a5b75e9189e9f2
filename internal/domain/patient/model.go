package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patient table.
type Patient struct {
	ID                uuid.UUID `db:"id" json:"id"`
	Name              string    `db:"name" json:"name"`
	Phone             string    `db:"phone" json:"phone"`
	Email             *string   `db:"email" json:"email,omitempty"`
	Age               *int      `db:"age" json:"age,omitempty"`
	PreferredLanguage string    `db:"preferred_language" json:"preferred_language"`
	GestationalWeeks  *int      `db:"gestational_weeks" json:"gestational_weeks,omitempty"`
	Risk              RiskState `json:"risk"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// RiskState is the persisted outcome of the latest reconciliation.
// NeedsAlert is set when the level changes and cleared once the alert
// deduplicator has handled the patient.
type RiskState struct {
	Level          string     `db:"risk_level" json:"level"`
	Score          int        `db:"risk_score" json:"score"`
	Factors        []string   `db:"risk_factors" json:"factors"`
	Source         string     `db:"risk_source" json:"source"`
	Confidence     *float64   `db:"risk_confidence" json:"confidence,omitempty"`
	LastAssessedAt *time.Time `db:"last_assessed_at" json:"last_assessed_at,omitempty"`
	NeedsAlert     bool       `db:"needs_alert" json:"needs_alert"`
}

const (
	DefaultLevel  = "low"
	DefaultSource = "rule_based"
)

func (p *Patient) clone() *Patient {
	cp := *p
	cp.Risk.Factors = append([]string(nil), p.Risk.Factors...)
	return &cp
}
