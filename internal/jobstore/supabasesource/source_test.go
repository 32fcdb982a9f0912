package supabasesource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	postgrest "github.com/supabase-community/postgrest-go"
	"golang.org/x/oauth2"

	"qc-dashboard/internal/jobstore"
	"qc-dashboard/internal/qc"
)

func newTestSource(t *testing.T, handler http.HandlerFunc) *Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	src, err := New(srv.URL, "anon", oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "user-token"}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	src.newClient = func(_, key, accessToken string) (Query, error) {
		return postgrest.NewClient(srv.URL+"/rest/v1", "", map[string]string{
			"apikey":        key,
			"Authorization": "Bearer " + accessToken,
		}), nil
	}
	return src
}

func TestListJobsQueriesNewestFirst(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/qc_jobs" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("order"); got != "created_at.desc.nullslast" {
			t.Errorf("unexpected order %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer user-token" {
			t.Errorf("unexpected auth %q", got)
		}
		_, _ = w.Write([]byte(`[{"id":"b","status":"processing","qc_mode":"guardian","duration_sec":20,"created_at":"2026-01-02T00:00:00Z"},
{"id":"a","status":"completed","qc_mode":"polisher","duration_sec":10,"created_at":"2026-01-01T00:00:00Z"}]`))
	})

	jobs, err := src.ListJobs(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "b" || jobs[0].Mode != qc.ModeGuardian {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
}

func TestGetJobMissingRowIsNotFound(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("id"); got != "eq.missing" {
			t.Errorf("unexpected filter %q", got)
		}
		_, _ = w.Write([]byte(`[]`))
	})

	if _, err := src.GetJob(context.Background(), "missing"); !errors.Is(err, jobstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQueryErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "expired jwt", status: http.StatusUnauthorized, body: `{"code":"PGRST301","message":"JWT expired"}`, want: jobstore.ErrUnauthorized},
		{name: "missing role privilege", status: http.StatusForbidden, body: `{"code":"42501","message":"permission denied for table qc_jobs"}`, want: jobstore.ErrUnauthorized},
		{name: "gateway rejects key", status: http.StatusUnauthorized, body: `{"message":"Invalid authentication credentials"}`, want: jobstore.ErrUnauthorized},
		{name: "server error", status: http.StatusInternalServerError, body: `{"code":"XX000","message":"internal error"}`, want: jobstore.ErrTransport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := src.ListJobs(context.Background())
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if tc.want == jobstore.ErrUnauthorized && !jobstore.IsAuth(err) {
				t.Fatalf("expected IsAuth for %v", err)
			}
		})
	}
}

func TestQueryStopsWhenContextEnds(t *testing.T) {
	release := make(chan struct{})
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(`[]`))
	})
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := src.GetJob(ctx, "job-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestNoTokensMeansNoCredential(t *testing.T) {
	src, err := New("http://localhost", "anon", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := src.ListJobs(context.Background()); !errors.Is(err, jobstore.ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
}
