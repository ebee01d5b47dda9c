// Package ses wraps the AWS SES v2 API for outbound dispatch: a per-region
// sender, provider error classification, and the notification payload types
// delivered to the event callback.
package ses

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	appconfig "github.com/ignite/dispatch/internal/config"
	"github.com/ignite/dispatch/internal/domain"
)

// EmailIDHeader carries the internal email id through the provider so that
// asynchronous events can be correlated back to the originating row.
const EmailIDHeader = "X-Dispatch-Email-ID"

// SendRequest is one provider send.
type SendRequest struct {
	EmailID          string
	From             string
	To               []string
	CC               []string
	BCC              []string
	ReplyTo          []string
	Subject          string
	Text             string
	HTML             string
	Attachments      []domain.Attachment
	ConfigurationSet string
	// Headers are extra message headers, e.g. List-Unsubscribe.
	Headers map[string]string
}

// Sender sends email through SES v2, one API client per region, created
// lazily and cached.
type Sender struct {
	cfg appconfig.SESConfig

	mu      sync.Mutex
	clients map[string]*sesv2.Client
}

// NewSender creates a sender. Clients are built on first use per region.
func NewSender(cfg appconfig.SESConfig) *Sender {
	return &Sender{cfg: cfg, clients: make(map[string]*sesv2.Client)}
}

func (s *Sender) clientFor(ctx context.Context, region string) (*sesv2.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[region]; ok {
		return c, nil
	}

	creds := credentials.NewStaticCredentialsProvider(s.cfg.AccessKey, s.cfg.SecretKey, "")
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for %s: %w", region, err)
	}

	c := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		if s.cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(s.cfg.EndpointURL)
		}
	})
	s.clients[region] = c
	return c, nil
}

// Send submits one email to SES in the given region and returns the
// provider message id. Attachments force the raw MIME path; everything else
// uses simple content with explicit headers.
func (s *Sender) Send(ctx context.Context, region string, req SendRequest) (string, error) {
	client, err := s.clientFor(ctx, region)
	if err != nil {
		return "", err
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(req.From),
		Destination: &types.Destination{
			ToAddresses:  req.To,
			CcAddresses:  req.CC,
			BccAddresses: req.BCC,
		},
	}
	if len(req.ReplyTo) > 0 {
		input.ReplyToAddresses = req.ReplyTo
	}
	if req.ConfigurationSet != "" {
		input.ConfigurationSetName = aws.String(req.ConfigurationSet)
	}

	if len(req.Attachments) > 0 {
		raw, err := buildRawMessage(req)
		if err != nil {
			return "", fmt.Errorf("build raw message: %w", err)
		}
		input.Content = &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		}
	} else {
		headers := []types.MessageHeader{{
			Name:  aws.String(EmailIDHeader),
			Value: aws.String(req.EmailID),
		}}
		for name, value := range req.Headers {
			headers = append(headers, types.MessageHeader{
				Name:  aws.String(name),
				Value: aws.String(value),
			})
		}

		body := &types.Body{}
		if req.Text != "" {
			body.Text = &types.Content{Data: aws.String(req.Text), Charset: aws.String("UTF-8")}
		}
		if req.HTML != "" {
			body.Html = &types.Content{Data: aws.String(req.HTML), Charset: aws.String("UTF-8")}
		}

		input.Content = &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(req.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
				Headers: headers,
			},
		}
	}

	out, err := client.SendEmail(ctx, input)
	if err != nil {
		return "", ClassifyError(err)
	}
	return aws.ToString(out.MessageId), nil
}
