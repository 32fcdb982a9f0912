package health

import (
	"context"
	"time"
)

const pingTimeout = 2 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Service encapsulates health-related checks.
type Service struct {
	db          Pinger
	objectStore string
	background  bool
}

// NewService constructs a health service. db may be nil when sessions are
// kept in memory.
func NewService(db Pinger, objectStore string, background bool) *Service {
	return &Service{db: db, objectStore: objectStore, background: background}
}

// Status reports the dependencies the dashboard relies on. ok is false when
// the session database is configured but unreachable.
func (s *Service) Status(ctx context.Context) (map[string]any, bool) {
	out := map[string]any{
		"object_store": s.objectStore,
		"polling":      pollingMode(s.background),
		"sessions":     "memory",
	}
	if s.db == nil {
		out["ok"] = true
		return out, true
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		out["ok"] = false
		out["sessions"] = "unreachable"
		return out, false
	}
	out["ok"] = true
	out["sessions"] = "postgres"
	return out, true
}

func pollingMode(background bool) string {
	if background {
		return "background"
	}
	return "on_read"
}
