package vitals

import (
	"time"

	"github.com/google/uuid"
)

const (
	SourceManual = "manual"
	SourceDevice = "device"
)

// Reading maps to the vital_reading table. Nil fields were not measured.
type Reading struct {
	ID               uuid.UUID `db:"id" json:"id"`
	PatientID        uuid.UUID `db:"patient_id" json:"patient_id"`
	Systolic         *int      `db:"systolic" json:"systolic,omitempty"`
	Diastolic        *int      `db:"diastolic" json:"diastolic,omitempty"`
	HeartRate        *int      `db:"heart_rate" json:"heart_rate,omitempty"`
	Temperature      *float64  `db:"temperature" json:"temperature,omitempty"`
	BloodSugar       *float64  `db:"blood_sugar" json:"blood_sugar,omitempty"`
	OxygenSaturation *float64  `db:"oxygen_saturation" json:"oxygen_saturation,omitempty"`
	RespiratoryRate  *int      `db:"respiratory_rate" json:"respiratory_rate,omitempty"`
	RecordedAt       time.Time `db:"recorded_at" json:"recorded_at"`
	RecordedBy       string    `db:"recorded_by" json:"recorded_by"`
	Source           string    `db:"source" json:"source"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

type bounds struct{ min, max float64 }

// Physiologically possible ranges. Values outside are data-entry or sensor
// errors.
var (
	systolicBounds    = bounds{40, 300}
	diastolicBounds   = bounds{20, 200}
	heartRateBounds   = bounds{20, 250}
	temperatureBounds = bounds{25, 45}
	bloodSugarBounds  = bounds{0.5, 50}
	oxygenBounds      = bounds{30, 100}
	respiratoryBounds = bounds{4, 80}
)

func (b bounds) contains(v float64) bool { return v >= b.min && v <= b.max }

func intOK(v *int, b bounds) bool       { return v != nil && b.contains(float64(*v)) }
func floatOK(v *float64, b bounds) bool { return v != nil && b.contains(*v) }

// Clean returns a copy of r with implausible values cleared.
func (r Reading) Clean() Reading {
	out := r
	if !intOK(r.Systolic, systolicBounds) {
		out.Systolic = nil
	}
	if !intOK(r.Diastolic, diastolicBounds) {
		out.Diastolic = nil
	}
	if !intOK(r.HeartRate, heartRateBounds) {
		out.HeartRate = nil
	}
	if !floatOK(r.Temperature, temperatureBounds) {
		out.Temperature = nil
	}
	if !floatOK(r.BloodSugar, bloodSugarBounds) {
		out.BloodSugar = nil
	}
	if !floatOK(r.OxygenSaturation, oxygenBounds) {
		out.OxygenSaturation = nil
	}
	if !intOK(r.RespiratoryRate, respiratoryBounds) {
		out.RespiratoryRate = nil
	}
	return out
}

// Empty reports whether no measurement is present.
func (r Reading) Empty() bool {
	return r.Systolic == nil && r.Diastolic == nil && r.HeartRate == nil && r.Temperature == nil &&
		r.BloodSugar == nil && r.OxygenSaturation == nil && r.RespiratoryRate == nil
}
