package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/iyacare/iyacare/internal/domain/patient"
	"github.com/iyacare/iyacare/internal/domain/vitals"
)

// Assessor produces an assessment for one patient's reading.
type Assessor interface {
	Name() string
	Assess(ctx context.Context, p *patient.Patient, r *vitals.Reading) (*Assessment, error)
}

// Red-flag factors raise the level to at least High regardless of the
// total score.
var redFlags = map[string]bool{
	FactorHypertension:    true,
	FactorSevereHypoxemia: true,
}

// RuleBasedAssessor wraps Score. It never fails.
type RuleBasedAssessor struct {
	now func() time.Time
}

func NewRuleBasedAssessor() *RuleBasedAssessor {
	return &RuleBasedAssessor{now: time.Now}
}

func (a *RuleBasedAssessor) Name() string { return SourceRuleBased }

func (a *RuleBasedAssessor) Assess(_ context.Context, _ *patient.Patient, r *vitals.Reading) (*Assessment, error) {
	as := Score(*r)
	as.AssessedAt = a.now().UTC()
	id := r.ID
	as.ReadingID = &id
	applyRedFlagFloor(&as)
	return &as, nil
}

func applyRedFlagFloor(a *Assessment) {
	if a.Level.AtLeast(High) {
		return
	}
	for _, f := range a.Factors {
		if redFlags[f] {
			a.Level = High
			a.Escalated = true
			a.Recommendations = append(append([]string(nil), bandRecommendations[High]...), RecommendationEscalate)
			return
		}
	}
}

// ModelAssessor asks the external oracle. Its score and factors come from the
// rule engine so operators still see which vitals were abnormal.
type ModelAssessor struct {
	oracle OracleClient
	now    func() time.Time
}

func NewModelAssessor(oracle OracleClient) *ModelAssessor {
	return &ModelAssessor{oracle: oracle, now: time.Now}
}

func (a *ModelAssessor) Name() string { return SourceExternalModel }

func (a *ModelAssessor) Assess(ctx context.Context, p *patient.Patient, r *vitals.Reading) (*Assessment, error) {
	pred, err := a.oracle.Predict(ctx, NewPredictRequest(p, r))
	if err != nil {
		return nil, err
	}
	level, ok := ParseLevel(pred.PredictedRisk)
	if !ok {
		return nil, fmt.Errorf("oracle returned malformed risk label %q", pred.PredictedRisk)
	}
	if pred.Confidence < 0 || pred.Confidence > 1 {
		return nil, fmt.Errorf("oracle returned malformed confidence %v", pred.Confidence)
	}

	local := Score(*r)
	conf := pred.Confidence
	id := r.ID
	return &Assessment{
		Score:           local.Score,
		Level:           level,
		Factors:         local.Factors,
		Recommendations: append([]string(nil), bandRecommendations[level]...),
		Source:          SourceExternalModel,
		Confidence:      &conf,
		AssessedAt:      a.now().UTC(),
		ReadingID:       &id,
	}, nil
}
