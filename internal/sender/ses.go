package sender

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/mail-pipeline/internal/config"
	"github.com/ignite/mail-pipeline/internal/domain"
	"github.com/ignite/mail-pipeline/internal/pkg/logger"
)

// sesAPI is the subset of the SES v2 client the sender uses.
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends emails via AWS SES using the SDK v2.
type SESSender struct {
	client           sesAPI
	from             string
	configurationSet string
	timeout          time.Duration
}

// NewSESSender loads AWS configuration. Static keys are used when present,
// otherwise the default credential chain applies.
func NewSESSender(ctx context.Context, cfg config.ProviderConfig) (*SESSender, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.SES.Region)}
	if cfg.SES.AccessKey != "" && cfg.SES.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.SES.AccessKey, cfg.SES.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return newSESSender(sesv2.NewFromConfig(awsCfg), cfg), nil
}

func newSESSender(client sesAPI, cfg config.ProviderConfig) *SESSender {
	return &SESSender{
		client:           client,
		from:             cfg.From,
		configurationSet: cfg.SES.ConfigurationSet,
		timeout:          cfg.Timeout,
	}
}

// Name identifies the provider in logs and metrics.
func (s *SESSender) Name() string { return "ses" }

// Send delivers a single email through AWS SES.
func (s *SESSender) Send(ctx context.Context, req *domain.SendRequest) (*domain.SendResult, error) {
	if s.client == nil {
		return nil, ErrNotConfigured
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	out, err := s.client.SendEmail(ctx, s.buildInput(req))
	if err != nil {
		return nil, fmt.Errorf("ses send: %w", err)
	}

	messageID := aws.ToString(out.MessageId)
	if messageID == "" {
		return nil, &ProviderError{Provider: s.Name(), Message: "response carried no message id"}
	}

	logger.Debug("provider accepted message", "provider", s.Name(), "message_id", messageID)

	return &domain.SendResult{
		MessageID: messageID,
		Provider:  s.Name(),
		SentAt:    time.Now().UTC(),
	}, nil
}

func (s *SESSender) buildInput(req *domain.SendRequest) *sesv2.SendEmailInput {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: req.To},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(req.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(req.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if len(req.Headers) > 0 {
		msg := input.Content.Simple
		for _, name := range slices.Sorted(maps.Keys(req.Headers)) {
			msg.Headers = append(msg.Headers, types.MessageHeader{
				Name: aws.String(name), Value: aws.String(req.Headers[name]),
			})
		}
	}
	if req.ReplyTo != "" {
		input.ReplyToAddresses = []string{req.ReplyTo}
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}
	if req.EmailType != "" {
		input.EmailTags = append(input.EmailTags, types.MessageTag{
			Name: aws.String("email_type"), Value: aws.String(string(req.EmailType)),
		})
	}
	for _, tag := range req.Tags {
		input.EmailTags = append(input.EmailTags, types.MessageTag{
			Name: aws.String(tag.Name), Value: aws.String(tag.Value),
		})
	}
	return input
}
