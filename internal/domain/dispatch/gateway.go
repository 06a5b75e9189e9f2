package dispatch

import (
	"context"
	"fmt"

	"github.com/iyacare/iyacare/internal/platform/email"
)

// GatewayResponse is what a gateway reports when it takes a message.
// Accepted=false is a rejection; Reason carries the gateway's explanation.
type GatewayResponse struct {
	Accepted bool   `json:"accepted"`
	ID       string `json:"id"`
	Status   Status `json:"status"`
	Reason   string `json:"reason,omitempty"`
}

// GatewayClient delivers a message body to a recipient. subject is ignored by
// SMS gateways.
type GatewayClient interface {
	Name() string
	Send(ctx context.Context, to, subject, body string) (*GatewayResponse, error)
}

// StatusFunc receives asynchronous delivery updates keyed by gateway id.
type StatusFunc func(ctx context.Context, gatewayID string, status Status, reason string)

// -- Email --

type EmailGateway struct {
	registry *email.Registry
	from     string
}

func NewEmailGateway(registry *email.Registry, from string) *EmailGateway {
	return &EmailGateway{registry: registry, from: from}
}

func (g *EmailGateway) Name() string { return "email" }

func (g *EmailGateway) Send(ctx context.Context, to, subject, body string) (*GatewayResponse, error) {
	provider, id, err := g.registry.Send(ctx, &email.Request{
		From:    g.from,
		To:      []string{to},
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		return nil, fmt.Errorf("email: %w", err)
	}
	return &GatewayResponse{Accepted: true, ID: provider + ":" + id, Status: StatusSent}, nil
}
