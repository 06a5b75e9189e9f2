package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

type stubRenderer struct {
	usage map[string]int
}

func (r *stubRenderer) Render(_ context.Context, id, language string, vars map[string]string) (string, error) {
	if id != "risk_alert" {
		return "", errors.New("template not found")
	}
	return "Hello " + vars["patient_name"] + " (" + language + ")", nil
}

func (r *stubRenderer) RenderStrict(ctx context.Context, id, language string, vars map[string]string) (string, error) {
	if _, ok := vars["patient_name"]; !ok {
		return "", errors.New("missing template variable: patient_name")
	}
	return r.Render(ctx, id, language, vars)
}

func (r *stubRenderer) RecordUsage(_ context.Context, id string) error {
	r.usage[id]++
	return nil
}

const callbackURL = "https://iyacare.rw/api/v1/messages/status"

func newTestHandler(t *testing.T) (*Handler, *fixture, *stubRenderer) {
	f := newFixture(t, testConfig())
	r := &stubRenderer{usage: make(map[string]int)}
	return NewHandler(f.d, r, CallbackConfig{AuthToken: "secret", URL: callbackURL}), f, r
}

func jsonContext(e *echo.Echo, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_SendBatch(t *testing.T) {
	h, _, r := newTestHandler(t)
	e := echo.New()
	body := `{"batch_size":2,"messages":[
		{"recipient":"+250788000001","template_id":"risk_alert","language":"rw","variables":{"patient_name":"Aline"}},
		{"recipient":"+250788000002","body":"plain text"},
		{"recipient":"12345","body":"bad number"}
	]}`
	c, rec := jsonContext(e, body)

	if err := h.SendBatch(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var report BatchReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Total != 3 || report.Sent != 2 || report.Invalid != 1 || len(report.Batches) != 2 {
		t.Errorf("unexpected report: %+v", report)
	}
	if report.Messages[0].Body != "Hello Aline (rw)" {
		t.Errorf("expected rendered body, got %q", report.Messages[0].Body)
	}
	if r.usage["risk_alert"] != 1 {
		t.Errorf("expected usage recorded once, got %d", r.usage["risk_alert"])
	}
}

func TestHandler_SendBatchRenderError(t *testing.T) {
	h, f, _ := newTestHandler(t)
	e := echo.New()
	c, _ := jsonContext(e, `{"strict":true,"messages":[{"recipient":"+250788000001","template_id":"risk_alert","language":"en"}]}`)

	err := h.SendBatch(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
	if f.gw.callCount() != 0 {
		t.Error("expected no gateway call on a render error")
	}
}

func formContext(e *echo.Echo, params url.Values, signature string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages/status", strings.NewReader(params.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	req.Header.Set("X-Twilio-Signature", signature)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_StatusCallback(t *testing.T) {
	h, f, _ := newTestHandler(t)
	e := echo.New()
	msgs := f.d.Send(context.Background(), smsBatch(1))

	params := url.Values{"MessageSid": {msgs[0].GatewayMessageID}, "MessageStatus": {"delivered"}}
	c, rec := formContext(e, params, SignTwilioRequest("secret", callbackURL, params))
	if err := h.StatusCallback(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	m, _ := f.repo.GetByID(context.Background(), msgs[0].ID)
	if m.Status != StatusDelivered {
		t.Errorf("expected delivered, got %s", m.Status)
	}

	// late "sent" receipt is acknowledged without moving the message back
	params = url.Values{"MessageSid": {msgs[0].GatewayMessageID}, "MessageStatus": {"sent"}}
	c, rec = formContext(e, params, SignTwilioRequest("secret", callbackURL, params))
	if err := h.StatusCallback(c); err != nil || rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for out-of-order receipt, got %v %d", err, rec.Code)
	}
	m, _ = f.repo.GetByID(context.Background(), msgs[0].ID)
	if m.Status != StatusDelivered {
		t.Errorf("expected still delivered, got %s", m.Status)
	}
}

func TestHandler_StatusCallbackCarrierFailure(t *testing.T) {
	h, f, _ := newTestHandler(t)
	e := echo.New()
	msgs := f.d.Send(context.Background(), smsBatch(1))

	params := url.Values{"MessageSid": {msgs[0].GatewayMessageID}, "MessageStatus": {"undelivered"}, "ErrorCode": {"30003"}}
	c, _ := formContext(e, params, SignTwilioRequest("secret", callbackURL, params))
	if err := h.StatusCallback(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, _ := f.repo.GetByID(context.Background(), msgs[0].ID)
	if m.Status != StatusFailed || m.FailureReason != "carrier reported undelivered (30003)" {
		t.Errorf("expected carrier failure, got %s %q", m.Status, m.FailureReason)
	}
}

func TestHandler_StatusCallbackRejectsBadSignature(t *testing.T) {
	h, _, _ := newTestHandler(t)
	e := echo.New()
	params := url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"delivered"}}
	c, _ := formContext(e, params, "forged")

	err := h.StatusCallback(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestHandler_GetAndList(t *testing.T) {
	h, f, _ := newTestHandler(t)
	e := echo.New()
	msgs := f.d.Send(context.Background(), smsBatch(2))

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(msgs[0].ID.String())
	if err := h.Get(c); err != nil || rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %v %d", err, rec.Code)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/?status=sent", nil), rec)
	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 2 {
		t.Errorf("expected 2 sent messages, got %d", body.Total)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/?status=lost", nil), httptest.NewRecorder())
	if err := h.List(c); err == nil {
		t.Error("expected error for unknown status")
	}
}
