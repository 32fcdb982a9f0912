package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"qc-dashboard/internal/shared/telemetry"
)

const forwardTimeout = 5 * time.Second

// Sink sends events to a downstream consumer.
type Sink interface {
	Send(ctx context.Context, evt Event) error
}

// SQSAPI is the subset of the SQS client the sink uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSSink sends events to an SQS queue as JSON.
type SQSSink struct {
	client   SQSAPI
	queueURL string
}

// NewSQSSink loads the default AWS config and builds a sink for queueURL.
func NewSQSSink(ctx context.Context, region, queueURL string) (*SQSSink, error) {
	queueURL = strings.TrimSpace(queueURL)
	if queueURL == "" {
		return nil, errors.New("QC_EVENTS_SQS_URL is required")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if region = strings.TrimSpace(region); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSQSSinkWithClient(sqs.NewFromConfig(cfg), queueURL), nil
}

// NewSQSSinkWithClient wraps an existing client.
func NewSQSSinkWithClient(client SQSAPI, queueURL string) *SQSSink {
	return &SQSSink{client: client, queueURL: queueURL}
}

// Send delivers evt to the configured queue.
func (s *SQSSink) Send(ctx context.Context, evt Event) error {
	payload, err := Encode(evt)
	if err != nil {
		return fmt.Errorf("encode sqs message: %w", err)
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("sqs send message: %w", err)
	}
	return nil
}

// Forward subscribes sink to bus. Send failures are logged and dropped.
func Forward(bus *Bus, sink Sink) (unsubscribe func()) {
	return bus.Subscribe(func(evt Event) {
		ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
		defer cancel()
		if err := sink.Send(ctx, evt); err != nil {
			telemetry.Warn("events.forward_failed", map[string]any{
				"event":      string(evt.Type),
				"job_id":     evt.JobID,
				"session_id": evt.SessionID,
				"error":      err.Error(),
			})
		}
	})
}

var _ Sink = (*SQSSink)(nil)
