package dispatch

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const DefaultTwilioBaseURL = "https://api.twilio.com"

type TwilioConfig struct {
	AccountSID     string
	AuthToken      string
	From           string
	BaseURL        string
	StatusCallback string
	Timeout        time.Duration
}

// TwilioGateway sends SMS through the Twilio Messages REST API. Delivery
// receipts arrive on StatusCallback.
type TwilioGateway struct {
	cfg    TwilioConfig
	client *resty.Client
}

type twilioMessage struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewTwilioGateway(cfg TwilioConfig) *TwilioGateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTwilioBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken).
		SetHeader("Accept", "application/json")
	return &TwilioGateway{cfg: cfg, client: client}
}

func (g *TwilioGateway) Name() string { return "twilio" }

func (g *TwilioGateway) Send(ctx context.Context, to, _, body string) (*GatewayResponse, error) {
	form := map[string]string{
		"To":   to,
		"From": g.cfg.From,
		"Body": body,
	}
	if g.cfg.StatusCallback != "" {
		form["StatusCallback"] = g.cfg.StatusCallback
	}

	var out twilioMessage
	var apiErr twilioError
	resp, err := g.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&out).
		SetError(&apiErr).
		Post(fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json", g.cfg.AccountSID))
	if err != nil {
		return nil, fmt.Errorf("twilio request failed: %w", err)
	}
	switch {
	case resp.StatusCode() == 429:
		return nil, fmt.Errorf("twilio: too many requests")
	case resp.StatusCode() >= 500:
		return nil, fmt.Errorf("twilio returned status %d", resp.StatusCode())
	case resp.IsError():
		return &GatewayResponse{Accepted: false, Status: StatusFailed,
			Reason: fmt.Sprintf("twilio rejected message (%d): %s", apiErr.Code, apiErr.Message)}, nil
	}

	status, ok := MapTwilioStatus(out.Status)
	if !ok {
		status = StatusSent
	}
	if status == StatusFailed {
		return &GatewayResponse{Accepted: false, ID: out.SID, Status: StatusFailed, Reason: out.ErrorMessage}, nil
	}
	return &GatewayResponse{Accepted: true, ID: out.SID, Status: status}, nil
}

// MapTwilioStatus translates a Twilio MessageStatus value.
func MapTwilioStatus(s string) (Status, bool) {
	switch strings.ToLower(s) {
	case "accepted", "scheduled", "queued", "sending", "sent":
		return StatusSent, true
	case "delivered":
		return StatusDelivered, true
	case "read":
		return StatusRead, true
	case "failed", "undelivered", "canceled":
		return StatusFailed, true
	}
	return "", false
}

// ValidateTwilioSignature checks X-Twilio-Signature: base64 HMAC-SHA1 over
// the full callback URL followed by every POST parameter, sorted by name,
// as name+value.
func ValidateTwilioSignature(authToken, callbackURL string, params url.Values, signature string) bool {
	expected := SignTwilioRequest(authToken, callbackURL, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func SignTwilioRequest(authToken, callbackURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(callbackURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
