package jobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/oauth2"

	"qc-dashboard/internal/qc"
)

const (
	apiPrefix      = "/v1"
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 64 << 20
)

// Source is the read side of the job store the polling sweep depends on.
type Source interface {
	ListJobs(ctx context.Context) ([]qc.Job, error)
	GetJob(ctx context.Context, id string) (qc.Job, error)
}

// Store is the full job store surface used by a signed-in session.
type Store interface {
	Source
	CreateJob(ctx context.Context, req qc.CreateJobRequest) (qc.Job, error)
	Onboard(ctx context.Context, req qc.OnboardRequest) (qc.OnboardResponse, error)
	Profile(ctx context.Context) (qc.Profile, error)
}

var validate = validator.New()

// Client talks to the job store REST API on behalf of one credential.
type Client struct {
	baseURL string
	tokens  oauth2.TokenSource
	http    *http.Client
	maxBody int64
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient sets the base client whose transport carries requests.
func WithHTTPClient(base *http.Client) Option {
	return func(c *Client) {
		if base != nil {
			c.http = base
		}
	}
}

// WithMaxBody caps how many response bytes are read. Larger responses fail
// with ErrTooLarge.
func WithMaxBody(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// New builds a client for baseURL (without the /v1 suffix). Every request
// carries a bearer token from tokens; a nil source means no request is ever
// sent and every call fails with ErrNoCredential.
func New(baseURL string, tokens oauth2.TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/") + apiPrefix,
		http:    &http.Client{Timeout: defaultTimeout},
		maxBody: maxBodyBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	if tokens != nil {
		c.tokens = oauth2.ReuseTokenSource(nil, tokens)
		base := c.http.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		c.http = &http.Client{
			Timeout:   c.http.Timeout,
			Transport: &oauth2.Transport{Source: c.tokens, Base: base},
		}
	}
	return c
}

// ListJobs returns every job visible to the caller's team, unordered.
func (c *Client) ListJobs(ctx context.Context) ([]qc.Job, error) {
	body, err := c.do(ctx, http.MethodGet, "/jobs", nil)
	if err != nil {
		return nil, err
	}
	return DecodeJobs(body)
}

// GetJob fetches one job.
func (c *Client) GetJob(ctx context.Context, id string) (qc.Job, error) {
	if strings.TrimSpace(id) == "" {
		return qc.Job{}, fmt.Errorf("%w: job id is required", ErrInvalidRequest)
	}
	body, err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil)
	if err != nil {
		return qc.Job{}, err
	}
	return DecodeJob(body)
}

// CreateJob submits a new job. The returned job is normally pending.
func (c *Client) CreateJob(ctx context.Context, req qc.CreateJobRequest) (qc.Job, error) {
	if err := validate.Struct(req); err != nil {
		return qc.Job{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	body, err := c.do(ctx, http.MethodPost, "/jobs", req)
	if err != nil {
		return qc.Job{}, err
	}
	return DecodeJob(body)
}

// Onboard creates the caller's account and team, or returns the existing one.
func (c *Client) Onboard(ctx context.Context, req qc.OnboardRequest) (qc.OnboardResponse, error) {
	req.PlanType = qc.NormalizePlan(req.PlanType)
	body, err := c.do(ctx, http.MethodPost, "/onboard", req)
	if err != nil {
		return qc.OnboardResponse{}, err
	}
	var out qc.OnboardResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return qc.OnboardResponse{}, fmt.Errorf("decode onboard: %w", err)
	}
	return out, nil
}

// Profile fetches the caller's account snapshot. A 404 means onboarding has
// not been completed and yields ErrProfileNotFound.
func (c *Client) Profile(ctx context.Context) (qc.Profile, error) {
	body, err := c.do(ctx, http.MethodGet, "/profile", nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			apiErr.kind = ErrProfileNotFound
		}
		return qc.Profile{}, err
	}
	var out qc.Profile
	if err := json.Unmarshal(body, &out); err != nil {
		return qc.Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if c.tokens == nil {
		return nil, ErrNoCredential
	}
	if _, err := c.tokens.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCredential, err)
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrTransport, path, err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("%w: %s %s over %d bytes", ErrTooLarge, method, path, c.maxBody)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeAPIError(resp.StatusCode, body)
	}
	return body, nil
}

var _ Store = (*Client)(nil)
