package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/iyacare/iyacare/internal/domain/patient"
	"github.com/iyacare/iyacare/internal/domain/vitals"
)

// PredictRequest is the oracle's input document.
type PredictRequest struct {
	Age              *int     `json:"age,omitempty"`
	GestationalWeeks *int     `json:"gestational_weeks,omitempty"`
	Systolic         *int     `json:"systolic,omitempty"`
	Diastolic        *int     `json:"diastolic,omitempty"`
	HeartRate        *int     `json:"heart_rate,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	BloodSugar       *float64 `json:"blood_sugar,omitempty"`
	OxygenSaturation *float64 `json:"oxygen_saturation,omitempty"`
	RespiratoryRate  *int     `json:"respiratory_rate,omitempty"`
}

func NewPredictRequest(p *patient.Patient, r *vitals.Reading) PredictRequest {
	c := r.Clean()
	req := PredictRequest{
		Systolic:         c.Systolic,
		Diastolic:        c.Diastolic,
		HeartRate:        c.HeartRate,
		Temperature:      c.Temperature,
		BloodSugar:       c.BloodSugar,
		OxygenSaturation: c.OxygenSaturation,
		RespiratoryRate:  c.RespiratoryRate,
	}
	if p != nil {
		req.Age = p.Age
		req.GestationalWeeks = p.GestationalWeeks
	}
	return req
}

// Prediction is the oracle's answer. PredictedRisk is free-form
// ("mid risk", "high risk").
type Prediction struct {
	PredictedRisk string  `json:"predicted_risk"`
	Confidence    float64 `json:"confidence"`
}

type OracleClient interface {
	Predict(ctx context.Context, req PredictRequest) (*Prediction, error)
}

// HTTPOracle calls POST {baseURL}/predict.
type HTTPOracle struct {
	client *resty.Client
}

func NewHTTPOracle(baseURL string, timeout time.Duration) *HTTPOracle {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(200 * time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &HTTPOracle{client: client}
}

func (o *HTTPOracle) Predict(ctx context.Context, req PredictRequest) (*Prediction, error) {
	var out Prediction
	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/predict")
	if err != nil {
		return nil, fmt.Errorf("oracle request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("oracle returned status %d", resp.StatusCode())
	}
	if out.PredictedRisk == "" {
		return nil, fmt.Errorf("oracle response missing predicted_risk")
	}
	return &out, nil
}
