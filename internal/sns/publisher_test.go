package sns

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/fixzone/notifier/internal/dispatch"
)

type fakeSNS struct {
	input *sns.PublishInput
	err   error
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("sns-1")}, nil
}

func TestPublishOutcome(t *testing.T) {
	fake := &fakeSNS{}
	p := &Publisher{client: fake, topicARN: "arn:aws:sns:us-east-1:123:outcomes", logger: zap.NewNop()}

	o := dispatch.Outcome{
		LogID:      "0b6c2e7e-1111-4c1e-9a55-3d2f2b7b9f01",
		EntityType: "invoice",
		EntityID:   15,
		Channel:    "email",
		Status:     "failed",
		Error:      "smtp timeout",
		OccurredAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	if err := p.PublishOutcome(context.Background(), o); err != nil {
		t.Fatalf("PublishOutcome() failed: %v", err)
	}

	if aws.ToString(fake.input.TopicArn) != "arn:aws:sns:us-east-1:123:outcomes" {
		t.Errorf("topic = %s", aws.ToString(fake.input.TopicArn))
	}

	var env Envelope
	if err := json.Unmarshal([]byte(aws.ToString(fake.input.Message)), &env); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if env.Type != EventType || env.Outcome.EntityID != 15 || env.Outcome.Error != "smtp timeout" {
		t.Errorf("unexpected envelope %+v", env)
	}

	attrs := fake.input.MessageAttributes
	for key, want := range map[string]string{"channel": "email", "status": "failed", "entity_type": "invoice"} {
		if got := aws.ToString(attrs[key].StringValue); got != want {
			t.Errorf("attribute %s = %q, want %q", key, got, want)
		}
	}
}

func TestPublishOutcome_EmptyAttributes(t *testing.T) {
	fake := &fakeSNS{}
	p := &Publisher{client: fake, topicARN: "arn", logger: zap.NewNop()}

	if err := p.PublishOutcome(context.Background(), dispatch.Outcome{Status: "sent"}); err != nil {
		t.Fatal(err)
	}
	if got := aws.ToString(fake.input.MessageAttributes["channel"].StringValue); got != "unknown" {
		t.Errorf("empty attribute values are rejected by SNS, got %q", got)
	}
}

func TestPublishOutcome_Error(t *testing.T) {
	p := &Publisher{client: &fakeSNS{err: errors.New("throttled")}, topicARN: "arn", logger: zap.NewNop()}

	if err := p.PublishOutcome(context.Background(), dispatch.Outcome{}); err == nil {
		t.Fatal("expected error")
	}
}
