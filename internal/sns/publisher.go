// Package sns announces delivery outcomes on an SNS topic so other services
// (the ERP's activity feed, analytics) can follow what was sent.
package sns

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/fixzone/notifier/internal/dispatch"
)

// EventType is the envelope type for every outcome message.
const EventType = "message.outcome"

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type Publisher struct {
	client   snsAPI
	topicARN string
	logger   *zap.Logger
}

// Envelope is the JSON body published to the topic.
type Envelope struct {
	Type    string           `json:"type"`
	Outcome dispatch.Outcome `json:"outcome"`
}

// NewPublisher loads the default AWS config for region. A non-empty endpoint
// points the client at LocalStack.
func NewPublisher(ctx context.Context, topicARN, region, endpoint string, logger *zap.Logger) (*Publisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sns.NewFromConfig(cfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	logger.Info("sns outcome publisher initialized", zap.String("topic_arn", topicARN))
	return &Publisher{client: client, topicARN: topicARN, logger: logger}, nil
}

// PublishOutcome implements dispatch.OutcomePublisher. Channel, status and
// entity type are copied to message attributes for subscription filters.
func (p *Publisher) PublishOutcome(ctx context.Context, o dispatch.Outcome) error {
	payload, err := json.Marshal(Envelope{Type: EventType, Outcome: o})
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	out, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"channel":     stringAttr(o.Channel),
			"status":      stringAttr(o.Status),
			"entity_type": stringAttr(o.EntityType),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}

	p.logger.Debug("outcome published",
		zap.String("log_id", o.LogID),
		zap.String("sns_message_id", aws.ToString(out.MessageId)),
	)
	return nil
}

func stringAttr(v string) types.MessageAttributeValue {
	if v == "" {
		v = "unknown"
	}
	return types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
}
