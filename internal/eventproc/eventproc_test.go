package eventproc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"qc-dashboard/internal/events"
	"qc-dashboard/internal/qc"
)

type fakeRecorder struct {
	got []events.Event
	err error
}

func (f *fakeRecorder) Record(ctx context.Context, evt events.Event) error {
	f.got = append(f.got, evt)
	return f.err
}

func encode(t *testing.T, evt events.Event) string {
	t.Helper()
	raw, err := events.Encode(evt)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return string(raw)
}

func TestParseMessage(t *testing.T) {
	cases := []struct {
		name        string
		body        string
		unrecovered bool
	}{
		{name: "empty", body: "  ", unrecovered: true},
		{name: "bad json", body: "{bad-json", unrecovered: true},
		{name: "missing job id", body: `{"type":"job.terminal","status":"completed"}`, unrecovered: true},
		{name: "unknown type", body: `{"type":"job.deleted","jobId":"job-1"}`, unrecovered: true},
		{name: "valid", body: `{"type":"job.terminal","jobId":"job-1","status":"completed","version":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			evt, meta, err := ParseMessage(tc.body)
			if tc.unrecovered {
				if err == nil || !Unrecoverable(err) {
					t.Fatalf("expected unrecoverable error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if evt.JobID != "job-1" || evt.Status != qc.StatusCompleted {
				t.Fatalf("unexpected event %+v", evt)
			}
			if meta.BodyLen != len(tc.body) || len(meta.BodySHA) != 64 {
				t.Fatalf("unexpected meta %+v", meta)
			}
		})
	}
}

func TestHandleMessageRecordsEvent(t *testing.T) {
	rec := &fakeRecorder{}
	body := encode(t, events.Event{Type: events.JobCreated, JobID: "job-2", Status: qc.StatusPending})

	if err := HandleMessage(context.Background(), rec, body); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(rec.got) != 1 || rec.got[0].JobID != "job-2" {
		t.Fatalf("expected recorded event, got %+v", rec.got)
	}
}

func TestHandleMessageUsesParsedEvent(t *testing.T) {
	rec := &fakeRecorder{}
	ctx := WithParsedMessage(context.Background(), events.Event{Type: events.JobTerminal, JobID: "job-3"})

	if err := HandleMessage(ctx, rec, "ignored"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(rec.got) != 1 || rec.got[0].JobID != "job-3" {
		t.Fatalf("expected parsed event reused, got %+v", rec.got)
	}
}

func TestHandleMessageRecorderFailureIsRetryable(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("db down")}
	body := encode(t, events.Event{Type: events.JobTerminal, JobID: "job-4", Status: qc.StatusFailed})

	err := HandleMessage(context.Background(), rec, body)
	var procErr ErrProcess
	if !errors.As(err, &procErr) || procErr.JobID != "job-4" {
		t.Fatalf("expected ErrProcess, got %v", err)
	}
	if Unrecoverable(err) {
		t.Fatalf("expected recorder failure to be retryable")
	}
}

func TestPGRecorderInsertsIdempotently(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO qc_job_events").
		WithArgs("job-5", "job.terminal", "completed", "s-1", at).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("ON CONFLICT").
		WithArgs("job-6", "job.created", "pending", nil, at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rec := &PGRecorder{DB: db, Now: func() time.Time { return at }}
	if err := rec.Record(context.Background(), events.Event{Type: events.JobTerminal, JobID: "job-5", Status: qc.StatusCompleted, SessionID: "s-1", At: at}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := rec.Record(context.Background(), events.Event{Type: events.JobCreated, JobID: "job-6", Status: qc.StatusPending}); err != nil {
		t.Fatalf("record without session: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
