package alert

import (
	"time"

	"github.com/google/uuid"
)

const (
	CategoryRisk        = "risk"
	CategoryAppointment = "appointment"
	CategoryMedication  = "medication"
	CategorySystem      = "system"
)

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

var validCategories = map[string]bool{
	CategoryRisk: true, CategoryAppointment: true, CategoryMedication: true, CategorySystem: true,
}

// Notification maps to the notification table. Only Read and ReadAt ever
// change after creation.
type Notification struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	PatientName string     `db:"patient_name" json:"patient_name"`
	Category    string     `db:"category" json:"category"`
	Message     string     `db:"message" json:"message"`
	Priority    string     `db:"priority" json:"priority"`
	RiskLevel   *string    `db:"risk_level" json:"risk_level,omitempty"`
	Read        bool       `db:"read" json:"read"`
	ReadAt      *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	CreatedBy   string     `db:"created_by" json:"created_by"`
}
