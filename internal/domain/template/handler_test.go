package template

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func previewContext(e *echo.Echo, id, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)
	return c, rec
}

func TestHandler_Preview(t *testing.T) {
	h, e := NewHandler(newTestEngine(t)), echo.New()
	c, rec := previewContext(e, RiskAlertID, `{"language":"en","variables":{"patient_name":"Aline","risk_level":"high"}}`)

	if err := h.Preview(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Body       string   `json:"body"`
		Unresolved []string `json:"unresolved"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Unresolved) != 1 || body.Unresolved[0] != "factors" {
		t.Errorf("expected factors unresolved, got %v", body.Unresolved)
	}
}

func TestHandler_PreviewErrors(t *testing.T) {
	h, e := NewHandler(newTestEngine(t)), echo.New()
	tests := []struct {
		id, body string
		code     int
	}{
		{RiskAlertID, `{"language":"sw"}`, http.StatusBadRequest},
		{RiskAlertID, `{"language":"en","strict":true}`, http.StatusBadRequest},
		{"missing", `{"language":"en"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		c, _ := previewContext(e, tt.id, tt.body)
		err := h.Preview(c)
		he, ok := err.(*echo.HTTPError)
		if !ok || he.Code != tt.code {
			t.Errorf("%s %s: expected %d, got %v", tt.id, tt.body, tt.code, err)
		}
	}
}

func TestHandler_UpdateAndList(t *testing.T) {
	h, e := NewHandler(newTestEngine(t)), echo.New()
	req := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"active":false}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(HealthTipHydrationID)
	if err := h.Update(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/?category=health_tip&active=true", nil), rec)
	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var items []Template
	json.Unmarshal(rec.Body.Bytes(), &items)
	if len(items) != 1 || items[0].ID != HealthTipDangerSignID {
		t.Errorf("expected only the danger signs tip active, got %d items", len(items))
	}
}
