package email

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"
)

type ResendProvider struct {
	client *resend.Client
}

// NewResendProvider returns an unconfigured provider when apiKey is empty.
func NewResendProvider(apiKey string) *ResendProvider {
	if apiKey == "" {
		return &ResendProvider{}
	}
	return &ResendProvider{client: resend.NewClient(apiKey)}
}

func (p *ResendProvider) Name() string { return "resend" }

func (p *ResendProvider) IsConfigured() bool { return p.client != nil }

func (p *ResendProvider) Send(_ context.Context, req *Request) (string, error) {
	if p.client == nil {
		return "", fmt.Errorf("Resend client not initialized")
	}
	if len(req.To) == 0 {
		return "", fmt.Errorf("recipient is required")
	}

	params := &resend.SendEmailRequest{
		From:    req.From,
		To:      req.To,
		Subject: req.Subject,
	}
	if req.HTML != "" {
		params.Html = req.HTML
	} else {
		params.Text = req.Body
	}

	sent, err := p.client.Emails.Send(params)
	if err != nil {
		return "", fmt.Errorf("Resend send failed: %w", err)
	}
	return sent.Id, nil
}
