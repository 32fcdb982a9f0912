package sessions

import (
	"context"
	"time"
)

var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "session not found" }

type Repo interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	UpdateCredential(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error
	Touch(ctx context.Context, id string, at time.Time) error
	ClearPendingPlan(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	DeleteIdle(ctx context.Context, before time.Time) (int64, error)
}
