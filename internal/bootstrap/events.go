package bootstrap

import (
	"context"
	"database/sql"

	"qc-dashboard/internal/eventproc"
	"qc-dashboard/internal/shared/config"
	"qc-dashboard/internal/shared/telemetry"
)

// Consumer holds the dependencies of the event queue consumers.
type Consumer struct {
	Config   config.Config
	DB       *sql.DB
	Recorder eventproc.Recorder
}

// BuildConsumer prepares the audit recorder. Without a database events are
// only logged.
func BuildConsumer(cfg config.Config) (*Consumer, error) {
	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	telemetry.SetLevel(cfg.LogLevel)
	sqlDB, err := buildDB(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	c := &Consumer{Config: cfg, DB: sqlDB}
	if sqlDB != nil {
		c.Recorder = &eventproc.PGRecorder{DB: sqlDB}
	} else {
		c.Recorder = eventproc.LogRecorder{}
	}
	return c, nil
}
