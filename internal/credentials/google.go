package credentials

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/supabase-community/gotrue-go/types"
	"golang.org/x/oauth2"
)

// ProviderGoogle is the only external sign-in provider offered.
const ProviderGoogle = "google"

// Pending is an unfinished external sign-in: the state the callback must
// echo and the PKCE verifier that redeems its code. It is kept by the
// browser between the redirect and the callback, so any instance can finish
// the sign-in.
type Pending struct {
	State    string
	Verifier string
	Expires  time.Time
}

// Encode serializes p for a cookie value.
func (p Pending) Encode() string {
	return p.State + "." + p.Verifier + "." + strconv.FormatInt(p.Expires.Unix(), 10)
}

// DecodePending parses a value produced by Pending.Encode.
func DecodePending(raw string) (Pending, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return Pending{}, ErrInvalidState
	}
	exp, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Pending{}, ErrInvalidState
	}
	return Pending{State: parts[0], Verifier: parts[1], Expires: time.Unix(exp, 0).UTC()}, nil
}

// AuthorizeURL starts a PKCE sign-in with the given external provider. It
// returns the URL to send the browser to and the pending sign-in the caller
// keeps until the callback. The state also travels inside redirect_to.
func (p *Provider) AuthorizeURL(provider string) (string, Pending, error) {
	if provider != ProviderGoogle {
		return "", Pending{}, fmt.Errorf("unsupported provider %q", provider)
	}
	if p.redirect == "" {
		return "", Pending{}, ErrNotConfigured
	}
	pending := Pending{
		State:    uuid.NewString(),
		Verifier: oauth2.GenerateVerifier(),
		Expires:  p.now().Add(StateTTL).UTC(),
	}

	redirectTo, err := withQuery(p.redirect, "state", pending.State)
	if err != nil {
		return "", Pending{}, fmt.Errorf("redirect url: %w", err)
	}
	return p.oauth.AuthCodeURL(pending.State,
		oauth2.S256ChallengeOption(pending.Verifier),
		oauth2.SetAuthURLParam("provider", provider),
		oauth2.SetAuthURLParam("redirect_to", redirectTo),
	), pending, nil
}

// ExchangeCode completes the sign-in started as pending. The callback's
// state must match and the pending sign-in must not have expired.
func (p *Provider) ExchangeCode(ctx context.Context, pending Pending, state, code string) (Credential, error) {
	if state == "" || code == "" || pending.Verifier == "" {
		return Credential{}, ErrInvalidState
	}
	if subtle.ConstantTimeCompare([]byte(state), []byte(pending.State)) != 1 || p.now().After(pending.Expires) {
		return Credential{}, ErrInvalidState
	}
	resp, err := call(ctx, func() (*types.TokenResponse, error) {
		return p.auth.Token(types.TokenRequest{
			GrantType:    "pkce",
			Code:         code,
			CodeVerifier: pending.Verifier,
		})
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return Credential{}, err
		}
		return Credential{}, fmt.Errorf("exchange code: %w", err)
	}
	return fromSession(resp.Session, p.now()), nil
}

func withQuery(rawURL, key, value string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
