package credentials

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/gotrue-go/types"
	supa "github.com/supabase-community/supabase-go"
	"golang.org/x/oauth2"

	"qc-dashboard/internal/shared/telemetry"
)

// StateTTL is how long an external sign-in may take from redirect to
// callback.
const StateTTL = 5 * time.Minute

// Provider is the identity provider client. It holds no per-user state;
// every call returns the credential it produced.
type Provider struct {
	auth     gotrue.Client
	oauth    *oauth2.Config
	redirect string
	now      func() time.Time
}

// NewProvider builds a provider for the project at supabaseURL. redirectURL
// is where the provider sends the browser after Google sign-in.
func NewProvider(supabaseURL, anonKey, redirectURL string) (*Provider, error) {
	supabaseURL = strings.TrimRight(strings.TrimSpace(supabaseURL), "/")
	if supabaseURL == "" || strings.TrimSpace(anonKey) == "" {
		return nil, ErrNotConfigured
	}
	client, err := supa.NewClient(supabaseURL, anonKey, nil)
	if err != nil {
		return nil, fmt.Errorf("supabase client: %w", err)
	}
	return &Provider{
		auth: client.Auth,
		oauth: &oauth2.Config{
			RedirectURL: redirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  supabaseURL + "/auth/v1/authorize",
				TokenURL: supabaseURL + "/auth/v1/token",
			},
		},
		redirect: redirectURL,
		now:      time.Now,
	}, nil
}

// SignIn exchanges an email and password for a credential.
func (p *Provider) SignIn(ctx context.Context, email, password string) (Credential, error) {
	resp, err := call(ctx, func() (*types.TokenResponse, error) {
		return p.auth.SignInWithEmailPassword(strings.TrimSpace(email), password)
	})
	if err != nil {
		if ctx.Err() != nil {
			return Credential{}, err
		}
		telemetry.Warn("credentials.sign_in_failed", map[string]any{"error": err.Error()})
		return Credential{}, ErrInvalidCredentials
	}
	return fromSession(resp.Session, p.now()), nil
}

// SignUp registers a new account. The plan is stored in user metadata so
// onboarding can pick it up after confirmation. ErrConfirmationRequired is
// returned when the provider issued no session yet.
func (p *Provider) SignUp(ctx context.Context, email, password, plan string) (Credential, error) {
	resp, err := call(ctx, func() (*types.SignupResponse, error) {
		return p.auth.Signup(types.SignupRequest{
			Email:    strings.TrimSpace(email),
			Password: password,
			Data:     map[string]interface{}{"plan_type": plan},
		})
	})
	if err != nil {
		return Credential{}, fmt.Errorf("sign up: %w", err)
	}
	if resp.AccessToken == "" {
		return Credential{}, ErrConfirmationRequired
	}
	return fromSession(resp.Session, p.now()), nil
}

// Refresh trades a refresh token for a new credential.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (Credential, error) {
	if refreshToken == "" {
		return Credential{}, ErrRefreshFailed
	}
	resp, err := call(ctx, func() (*types.TokenResponse, error) {
		return p.auth.RefreshToken(refreshToken)
	})
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	return fromSession(resp.Session, p.now()), nil
}

// SignOut revokes the refresh tokens behind accessToken.
func (p *Provider) SignOut(ctx context.Context, accessToken string) error {
	_, err := call(ctx, func() (struct{}, error) {
		return struct{}{}, p.auth.WithToken(accessToken).Logout()
	})
	return err
}

// call runs a blocking provider request and gives up when ctx is done.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
