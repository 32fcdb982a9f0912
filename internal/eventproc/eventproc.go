// Package eventproc consumes QC lifecycle events from the event queue and
// records them in the job audit table.
package eventproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"qc-dashboard/internal/events"
)

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// ErrInvalidEvent indicates a decoded message without a job id or with an
// unknown event type.
type ErrInvalidEvent struct {
	Meta   MessageMeta
	Reason string
}

func (e ErrInvalidEvent) Error() string { return "invalid event: " + e.Reason }

// ErrProcess indicates recording failed after successful parsing.
type ErrProcess struct {
	JobID string
	Type  events.Type
	Err   error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "record event"
	}
	return "record event: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// Recorder persists consumed events.
type Recorder interface {
	Record(ctx context.Context, evt events.Event) error
}

// Unrecoverable reports whether err means the message can never succeed
// and should be deleted rather than redelivered.
func Unrecoverable(err error) bool {
	var (
		empty   ErrEmptyBody
		decode  ErrDecode
		invalid ErrInvalidEvent
	)
	return errors.As(err, &empty) || errors.As(err, &decode) || errors.As(err, &invalid)
}

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (events.Event, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return events.Event{}, meta, ErrEmptyBody{Meta: meta}
	}
	evt, err := events.Decode([]byte(body))
	if err != nil {
		return events.Event{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if strings.TrimSpace(evt.JobID) == "" {
		return evt, meta, ErrInvalidEvent{Meta: meta, Reason: "missing job id"}
	}
	switch evt.Type {
	case events.JobCreated, events.JobTerminal:
	default:
		return evt, meta, ErrInvalidEvent{Meta: meta, Reason: "unknown type " + string(evt.Type)}
	}
	return evt, meta, nil
}

type parsedMessageKey struct{}

// WithParsedMessage stores a decoded event in the context for reuse.
func WithParsedMessage(ctx context.Context, evt events.Event) context.Context {
	return context.WithValue(ctx, parsedMessageKey{}, evt)
}

func parsedMessageFromContext(ctx context.Context) (events.Event, bool) {
	if ctx == nil {
		return events.Event{}, false
	}
	evt, ok := ctx.Value(parsedMessageKey{}).(events.Event)
	return evt, ok
}

// HandleMessage parses body, unless the context already carries the parsed
// event, and records it.
func HandleMessage(ctx context.Context, rec Recorder, body string) error {
	if rec == nil {
		return errors.New("event recorder not configured")
	}
	evt, ok := parsedMessageFromContext(ctx)
	if !ok {
		var err error
		evt, _, err = ParseMessage(body)
		if err != nil {
			return err
		}
	}
	if err := rec.Record(ctx, evt); err != nil {
		return ErrProcess{JobID: evt.JobID, Type: evt.Type, Err: err}
	}
	return nil
}
