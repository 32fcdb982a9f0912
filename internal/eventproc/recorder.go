package eventproc

import (
	"context"
	"database/sql"
	"time"

	"qc-dashboard/internal/events"
	"qc-dashboard/internal/shared/telemetry"
)

// PGRecorder writes events to qc_job_events. Redelivered events are ignored.
type PGRecorder struct {
	DB  *sql.DB
	Now func() time.Time
}

func (r *PGRecorder) Record(ctx context.Context, evt events.Event) error {
	const query = `
INSERT INTO qc_job_events (job_id, event_type, status, session_id, occurred_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (job_id, event_type, status) DO NOTHING`
	at := evt.At
	if at.IsZero() {
		now := time.Now
		if r.Now != nil {
			now = r.Now
		}
		at = now()
	}
	var session any
	if evt.SessionID != "" {
		session = evt.SessionID
	}
	_, err := r.DB.ExecContext(ctx, query, evt.JobID, string(evt.Type), string(evt.Status), session, at.UTC())
	return err
}

// LogRecorder only logs events; used when no database is configured.
type LogRecorder struct{}

func (LogRecorder) Record(ctx context.Context, evt events.Event) error {
	telemetry.Info("events.recorded", map[string]any{
		"event":      string(evt.Type),
		"job_id":     evt.JobID,
		"status":     string(evt.Status),
		"session_id": evt.SessionID,
	})
	return nil
}

var (
	_ Recorder = (*PGRecorder)(nil)
	_ Recorder = LogRecorder{}
)
