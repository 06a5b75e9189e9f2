package risk

import (
	"time"

	"github.com/google/uuid"

	"github.com/iyacare/iyacare/internal/domain/vitals"
)

const (
	SourceRuleBased     = "rule_based"
	SourceExternalModel = "external_model"
)

// Factor texts.
const (
	FactorHypertension     = "Hypertension detected"
	FactorPreHypertension  = "Pre-hypertension detected"
	FactorTachycardia      = "Tachycardia detected"
	FactorBradycardia      = "Bradycardia detected"
	FactorHighFever        = "High fever detected"
	FactorLowGradeFever    = "Low-grade fever"
	FactorHypothermia      = "Hypothermia detected"
	FactorSevereHyperglyc  = "Severe hyperglycemia"
	FactorHyperglycemia    = "Hyperglycemia detected"
	FactorHypoglycemia     = "Hypoglycemia detected"
	FactorSevereHypoxemia  = "Severe hypoxemia"
	FactorMildHypoxemia    = "Mild hypoxemia"
	FactorTachypnea        = "Tachypnea detected"
	FactorBradypnea        = "Bradypnea detected"
	FactorNormal           = "Vital signs within normal range"
	RecommendationUrgent   = "URGENT: Immediate medical intervention required"
	RecommendationRoutine  = "Continue routine monitoring"
	RecommendationEscalate = "Red-flag finding: review by a clinician today"
)

var bandRecommendations = map[Level][]string{
	Critical: {RecommendationUrgent, "Contact the assigned health worker immediately"},
	High:     {"Schedule a clinical review within 24 hours", "Increase monitoring frequency"},
	Medium:   {"Monitor vital signs closely", "Follow up at the next scheduled visit"},
	Low:      {RecommendationRoutine},
}

// Assessment is the result of scoring a reading or asking the oracle.
type Assessment struct {
	Score           int        `json:"score"`
	Level           Level      `json:"level"`
	Factors         []string   `json:"factors"`
	Recommendations []string   `json:"recommendations"`
	Source          string     `json:"source"`
	Confidence      *float64   `json:"confidence,omitempty"`
	AssessedAt      time.Time  `json:"assessed_at"`
	Escalated       bool       `json:"escalated,omitempty"`
	ReadingID       *uuid.UUID `json:"reading_id,omitempty"`
}

type check func(r vitals.Reading) (points int, factor string)

// Each family yields at most one factor; branches are ordered.
var families = []check{
	func(r vitals.Reading) (int, string) {
		switch {
		case atLeastInt(r.Systolic, 140) || atLeastInt(r.Diastolic, 90):
			return 25, FactorHypertension
		case atLeastInt(r.Systolic, 120) || atLeastInt(r.Diastolic, 80):
			return 15, FactorPreHypertension
		}
		return 0, ""
	},
	func(r vitals.Reading) (int, string) {
		switch {
		case r.HeartRate != nil && *r.HeartRate > 100:
			return 15, FactorTachycardia
		case r.HeartRate != nil && *r.HeartRate < 60:
			return 10, FactorBradycardia
		}
		return 0, ""
	},
	func(r vitals.Reading) (int, string) {
		switch {
		case r.Temperature != nil && *r.Temperature >= 38.5:
			return 20, FactorHighFever
		case r.Temperature != nil && *r.Temperature >= 37.5:
			return 10, FactorLowGradeFever
		case r.Temperature != nil && *r.Temperature < 35:
			return 15, FactorHypothermia
		}
		return 0, ""
	},
	func(r vitals.Reading) (int, string) {
		switch {
		case r.BloodSugar != nil && *r.BloodSugar >= 11.1:
			return 25, FactorSevereHyperglyc
		case r.BloodSugar != nil && *r.BloodSugar >= 7.8:
			return 15, FactorHyperglycemia
		case r.BloodSugar != nil && *r.BloodSugar < 3.9:
			return 20, FactorHypoglycemia
		}
		return 0, ""
	},
	func(r vitals.Reading) (int, string) {
		switch {
		case r.OxygenSaturation != nil && *r.OxygenSaturation < 90:
			return 30, FactorSevereHypoxemia
		case r.OxygenSaturation != nil && *r.OxygenSaturation < 95:
			return 15, FactorMildHypoxemia
		}
		return 0, ""
	},
	func(r vitals.Reading) (int, string) {
		switch {
		case r.RespiratoryRate != nil && *r.RespiratoryRate > 24:
			return 15, FactorTachypnea
		case r.RespiratoryRate != nil && *r.RespiratoryRate < 12:
			return 10, FactorBradypnea
		}
		return 0, ""
	},
}

func atLeastInt(v *int, threshold int) bool { return v != nil && *v >= threshold }

// Score is the rule-based engine. It is pure: AssessedAt is left zero and
// implausible values are ignored.
func Score(r vitals.Reading) Assessment {
	r = r.Clean()

	var score int
	var factors []string
	for _, family := range families {
		if pts, factor := family(r); pts > 0 {
			score += pts
			factors = append(factors, factor)
		}
	}

	level := LevelFor(score)
	a := Assessment{Score: score, Level: level, Source: SourceRuleBased}
	if len(factors) == 0 {
		a.Factors = []string{FactorNormal}
		a.Recommendations = []string{RecommendationRoutine}
		return a
	}
	a.Factors = factors
	a.Recommendations = append([]string(nil), bandRecommendations[level]...)
	return a
}
