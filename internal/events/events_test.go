package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"qc-dashboard/internal/qc"
)

func TestPublishReachesEverySubscriber(t *testing.T) {
	bus := NewBus()
	var got atomic.Int32
	bus.Subscribe(func(Event) { got.Add(1) })
	bus.Subscribe(func(Event) { got.Add(1) })

	bus.Publish(Event{Type: JobCreated, JobID: "job-1"})
	bus.Wait()

	if got.Load() != 2 {
		t.Fatalf("expected 2 deliveries, got %d", got.Load())
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	var got atomic.Int32
	unsubscribe := bus.Subscribe(func(Event) { got.Add(1) })
	unsubscribe()
	unsubscribe()

	bus.Publish(Event{Type: JobTerminal, JobID: "job-1"})
	bus.Wait()

	if got.Load() != 0 {
		t.Fatalf("expected no deliveries, got %d", got.Load())
	}
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	bus := NewBus()
	var got atomic.Int32
	bus.Subscribe(func(Event) { panic("boom") })
	bus.Subscribe(func(Event) { got.Add(1) })

	bus.Publish(Event{Type: JobCreated, JobID: "job-1"})
	bus.Wait()

	if got.Load() != 1 {
		t.Fatalf("expected healthy subscriber to run, got %d", got.Load())
	}
}

func TestPublishDoesNotWaitForSlowSubscribers(t *testing.T) {
	bus := NewBus()
	release := make(chan struct{})
	bus.Subscribe(func(Event) { <-release })

	done := make(chan struct{})
	go func() {
		bus.Publish(Event{Type: JobCreated, JobID: "job-1"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on subscriber")
	}
	close(release)
	bus.Wait()
}

type fakeSQS struct {
	mu     sync.Mutex
	bodies []string
	err    error
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.bodies = append(f.bodies, aws.ToString(params.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

func TestForwardSendsEncodedEvent(t *testing.T) {
	client := &fakeSQS{}
	bus := NewBus()
	Forward(bus, NewSQSSinkWithClient(client, "https://sqs.local/q"))

	bus.Publish(Event{Type: JobTerminal, JobID: "job-9", Status: qc.StatusCompleted})
	bus.Wait()

	if len(client.bodies) != 1 {
		t.Fatalf("expected 1 message, got %d", len(client.bodies))
	}
	evt, err := Decode([]byte(client.bodies[0]))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.JobID != "job-9" || evt.Status != qc.StatusCompleted || evt.Version != messageVersion {
		t.Fatalf("unexpected event: %+v", evt)
	}
}

func TestSinkWrapsSendError(t *testing.T) {
	sink := NewSQSSinkWithClient(&fakeSQS{err: errors.New("throttled")}, "q")
	if err := sink.Send(context.Background(), Event{Type: JobCreated}); err == nil {
		t.Fatalf("expected error")
	}
}
