// Package credentials talks to the identity provider: password and Google
// sign-in, sign-up, token refresh, and the token source that keeps a
// session's bearer token fresh.
package credentials

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/supabase-community/gotrue-go/types"
	"golang.org/x/oauth2"
)

var (
	ErrNotConfigured        = errors.New("identity provider not configured")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrConfirmationRequired = errors.New("check your email to confirm the account")
	ErrInvalidState         = errors.New("invalid or expired sign-in state")
	ErrRefreshFailed        = errors.New("session refresh failed")
)

// Credential is the token pair issued for a signed-in user.
type Credential struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
	UserID       string
	Email        string
}

// Valid reports whether the credential carries an access token.
func (c Credential) Valid() bool {
	return c.AccessToken != ""
}

// OAuth2 converts the credential into an oauth2 token.
func (c Credential) OAuth2() *oauth2.Token {
	tokenType := c.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    tokenType,
		Expiry:       c.Expiry,
	}
}

func fromSession(s types.Session, now time.Time) Credential {
	cred := Credential{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		Email:        s.User.Email,
	}
	if s.User.ID != uuid.Nil {
		cred.UserID = s.User.ID.String()
	}
	switch {
	case s.ExpiresAt > 0:
		cred.Expiry = time.Unix(s.ExpiresAt, 0).UTC()
	case s.ExpiresIn > 0:
		cred.Expiry = now.Add(time.Duration(s.ExpiresIn) * time.Second).UTC()
	}
	return cred
}
