package channel

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/fixzone/notifier/internal/settings"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESTransport sends through Amazon SES instead of the shop's SMTP server.
// SendEmail carries no attachments, so they are dropped with a warning.
type SESTransport struct {
	client sesAPI
	from   string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
}

func NewSESTransport(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESTransport, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return &SESTransport{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

func (t *SESTransport) Name() string { return "ses" }

func (t *SESTransport) Deliver(ctx context.Context, cfg settings.Email, env *Envelope) (string, error) {
	source := t.from
	if source == "" {
		source = cfg.FromEmail
	}
	if source == "" {
		return "", fmt.Errorf("ses sender address missing")
	}
	if cfg.FromName != "" {
		source = fmt.Sprintf("%s <%s>", cfg.FromName, source)
	}

	if len(env.Attachments) > 0 {
		t.logger.Warn("ses transport drops attachments",
			zap.String("to", env.To),
			zap.Int("attachments", len(env.Attachments)),
		)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(source),
		Destination: &types.Destination{
			ToAddresses: []string{env.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(env.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data:    aws.String(env.HTML),
					Charset: aws.String("UTF-8"),
				},
				Text: &types.Content{
					Data:    aws.String(env.Text),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := t.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send failed: %w", err)
	}

	return aws.ToString(result.MessageId), nil
}
