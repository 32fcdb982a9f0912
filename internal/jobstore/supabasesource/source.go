// Package supabasesource reads jobs straight from the qc_jobs table through
// PostgREST, using the signed-in user's access token so row-level security
// scopes results to their team.
package supabasesource

import (
	"context"
	"errors"
	"fmt"
	"strings"

	postgrest "github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"
	"golang.org/x/oauth2"

	"qc-dashboard/internal/jobstore"
	"qc-dashboard/internal/qc"
)

const table = "qc_jobs"

// authMarkers identify PostgREST and gateway errors that mean the access
// token was rejected: PGRST301 invalid or expired JWT, PGRST302 missing
// credentials, 42501 role lacks privilege.
var authMarkers = []string{"(pgrst301)", "(pgrst302)", "(42501)", "jwt expired", "invalid authentication credentials"}

// Query is the subset of the supabase client used to read jobs.
type Query interface {
	From(table string) *postgrest.QueryBuilder
}

// Source implements jobstore.Source over PostgREST.
type Source struct {
	url    string
	key    string
	tokens oauth2.TokenSource
	// newClient is swapped in tests.
	newClient func(url, key, accessToken string) (Query, error)
}

// New builds a source for the project at url with the anon key.
func New(url, anonKey string, tokens oauth2.TokenSource) (*Source, error) {
	if strings.TrimSpace(url) == "" || strings.TrimSpace(anonKey) == "" {
		return nil, errors.New("supabase url and anon key are required")
	}
	return &Source{url: url, key: anonKey, tokens: tokens, newClient: newSupabaseClient}, nil
}

func newSupabaseClient(url, key, accessToken string) (Query, error) {
	return supa.NewClient(url, key, &supa.ClientOptions{
		Headers: map[string]string{"Authorization": "Bearer " + accessToken},
	})
}

// ListJobs returns the team's jobs, newest first.
func (s *Source) ListJobs(ctx context.Context) ([]qc.Job, error) {
	client, err := s.client(ctx)
	if err != nil {
		return nil, err
	}
	body, err := execute(ctx, client.From(table).
		Select("*", "", false).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}))
	if err != nil {
		return nil, queryError("list", err)
	}
	return jobstore.DecodeJobs(body)
}

// GetJob fetches one job by id.
func (s *Source) GetJob(ctx context.Context, id string) (qc.Job, error) {
	if strings.TrimSpace(id) == "" {
		return qc.Job{}, fmt.Errorf("%w: job id is required", jobstore.ErrInvalidRequest)
	}
	client, err := s.client(ctx)
	if err != nil {
		return qc.Job{}, err
	}
	body, err := execute(ctx, client.From(table).
		Select("*", "", false).
		Eq("id", id))
	if err != nil {
		return qc.Job{}, queryError("get", err)
	}
	jobs, err := jobstore.DecodeJobs(body)
	if err != nil {
		return qc.Job{}, err
	}
	if len(jobs) == 0 {
		return qc.Job{}, jobstore.ErrNotFound
	}
	return jobs[0], nil
}

func (s *Source) client(ctx context.Context) (Query, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.tokens == nil {
		return nil, jobstore.ErrNoCredential
	}
	tok, err := s.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jobstore.ErrNoCredential, err)
	}
	return s.newClient(s.url, s.key, tok.AccessToken)
}

// execute runs the query and gives up when ctx ends. The postgrest client
// takes no context, so an abandoned request finishes in the background.
func execute(ctx context.Context, q *postgrest.FilterBuilder) ([]byte, error) {
	type result struct {
		body []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, _, err := q.Execute()
		done <- result{body: body, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.body, r.err
	}
}

func queryError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range authMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %s %s: %v", jobstore.ErrUnauthorized, op, table, err)
		}
	}
	return fmt.Errorf("%w: %s %s: %v", jobstore.ErrTransport, op, table, err)
}

var _ jobstore.Source = (*Source)(nil)
