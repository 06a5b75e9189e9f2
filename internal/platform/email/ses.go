package email

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/rs/zerolog"
)

// SESProvider sends through AWS SES v2 using the default credential chain.
type SESProvider struct {
	client *sesv2.Client
}

// NewSESProvider loads AWS config for region. A load failure yields an
// unconfigured provider rather than an error so the registry can fall back.
func NewSESProvider(ctx context.Context, region string, logger zerolog.Logger) *SESProvider {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load AWS config, SES unavailable")
		return &SESProvider{}
	}
	return &SESProvider{client: sesv2.NewFromConfig(cfg)}
}

func (p *SESProvider) Name() string { return "ses" }

func (p *SESProvider) IsConfigured() bool { return p.client != nil }

func (p *SESProvider) Send(ctx context.Context, req *Request) (string, error) {
	if p.client == nil {
		return "", fmt.Errorf("SES client not initialized")
	}
	if len(req.To) == 0 {
		return "", fmt.Errorf("recipient is required")
	}

	var body types.Body
	if req.HTML != "" {
		body.Html = &types.Content{Data: aws.String(req.HTML)}
	}
	if req.Body != "" {
		body.Text = &types.Content{Data: aws.String(req.Body)}
	}

	out, err := p.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(req.From),
		Destination:      &types.Destination{ToAddresses: req.To},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(req.Subject)},
				Body:    &body,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("SES send failed: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}
