package sessions

import (
	"context"
	"sync"
	"time"
)

type MemoryRepo struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{sessions: make(map[string]Session)}
}

func (r *MemoryRepo) Create(ctx context.Context, s Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.LastSeenAt.IsZero() {
		s.LastSeenAt = now
	}
	r.sessions[s.ID] = s
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepo) UpdateCredential(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error {
	return r.update(ctx, id, func(s *Session) {
		s.AccessToken = accessToken
		s.RefreshToken = refreshToken
		s.TokenExpiry = expiry
	})
}

func (r *MemoryRepo) Touch(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, id, func(s *Session) { s.LastSeenAt = at })
}

func (r *MemoryRepo) ClearPendingPlan(ctx context.Context, id string) error {
	return r.update(ctx, id, func(s *Session) { s.PendingPlan = "" })
}

func (r *MemoryRepo) update(ctx context.Context, id string, fn func(*Session)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	fn(&s)
	r.sessions[id] = s
	return nil
}

func (r *MemoryRepo) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepo) DeleteIdle(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if s.LastSeenAt.Before(before) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}
