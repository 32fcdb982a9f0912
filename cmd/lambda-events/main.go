package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=arm64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-events

import (
	"context"
	"log"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"qc-dashboard/internal/bootstrap"
	"qc-dashboard/internal/eventproc"
	"qc-dashboard/internal/shared/config"
	"qc-dashboard/internal/shared/metrics"
	"qc-dashboard/internal/shared/telemetry"
)

var (
	initOnce sync.Once
	initErr  error
	consumer *bootstrap.Consumer
)

func initConsumer() {
	cfg := config.Load()
	built, err := bootstrap.BuildConsumer(cfg)
	if err != nil {
		initErr = err
		return
	}
	consumer = built
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	initOnce.Do(initConsumer)
	if initErr != nil {
		log.Printf("bootstrap error: %v", initErr)
		failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
		for _, record := range event.Records {
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
		return events.SQSEventResponse{BatchItemFailures: failures}, initErr
	}
	return process(ctx, consumer.Recorder, event), nil
}

// process records each message. Unreadable messages are dropped; recorder
// failures are reported back for redelivery.
func process(ctx context.Context, rec eventproc.Recorder, event events.SQSEvent) events.SQSEventResponse {
	failures := make([]events.SQSBatchItemFailure, 0)
	for _, record := range event.Records {
		metrics.IncEventReceived()
		err := eventproc.HandleMessage(ctx, rec, record.Body)
		switch {
		case err == nil:
			metrics.IncEventRecorded()
		case eventproc.Unrecoverable(err):
			metrics.IncEventDropped()
			telemetry.Error("events.lambda.unreadable", map[string]any{"sqs_message_id": record.MessageId, "error": err.Error()})
		default:
			metrics.IncEventFailed()
			telemetry.Error("events.lambda.failed", map[string]any{"sqs_message_id": record.MessageId, "error": err.Error()})
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func main() {
	lambda.Start(handler)
}
