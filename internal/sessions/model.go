package sessions

import (
	"time"

	"qc-dashboard/internal/credentials"
)

// Session is a signed-in dashboard session and the provider credential it
// acts with.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenExpiry  time.Time `json:"-"`
	PendingPlan  string    `json:"pendingPlan,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
}

// Credential returns the provider credential stored on the session.
func (s Session) Credential() credentials.Credential {
	return credentials.Credential{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		Expiry:       s.TokenExpiry,
		UserID:       s.UserID,
		Email:        s.Email,
	}
}
