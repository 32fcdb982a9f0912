package credentials

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"qc-dashboard/internal/shared/telemetry"
)

// refreshLeeway is how long before expiry a credential is refreshed.
const refreshLeeway = time.Minute

// Refresher trades refresh tokens for new credentials.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Credential, error)
}

// PersistFunc stores a refreshed credential.
type PersistFunc func(ctx context.Context, cred Credential) error

type tokenSource struct {
	mu      sync.Mutex
	cred    Credential
	r       Refresher
	persist PersistFunc
	now     func() time.Time
}

// TokenSource returns an oauth2.TokenSource serving cred and refreshing it
// shortly before it expires. persist may be nil.
func TokenSource(cred Credential, r Refresher, persist PersistFunc) oauth2.TokenSource {
	return newTokenSource(cred, r, persist, time.Now)
}

func newTokenSource(cred Credential, r Refresher, persist PersistFunc, now func() time.Time) *tokenSource {
	return &tokenSource{cred: cred, r: r, persist: persist, now: now}
}

// Token returns a bearer token, refreshing it when near expiry.
func (s *tokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cred.Valid() {
		return nil, ErrRefreshFailed
	}
	if s.cred.Expiry.IsZero() || s.now().Add(refreshLeeway).Before(s.cred.Expiry) {
		return s.cred.OAuth2(), nil
	}
	if s.r == nil {
		return nil, ErrRefreshFailed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	next, err := s.r.Refresh(ctx, s.cred.RefreshToken)
	if err != nil {
		return nil, err
	}
	if next.UserID == "" {
		next.UserID = s.cred.UserID
	}
	if next.Email == "" {
		next.Email = s.cred.Email
	}
	s.cred = next
	if s.persist != nil {
		if err := s.persist(ctx, next); err != nil {
			telemetry.Warn("credentials.persist_failed", map[string]any{
				"user_id": next.UserID,
				"error":   err.Error(),
			})
		}
	}
	return s.cred.OAuth2(), nil
}
