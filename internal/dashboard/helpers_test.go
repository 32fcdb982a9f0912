package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"

	"qc-dashboard/internal/credentials"
	"qc-dashboard/internal/jobstore"
	"qc-dashboard/internal/probe"
	"qc-dashboard/internal/qc"
	"qc-dashboard/internal/sessions"
	"qc-dashboard/internal/shared/auth"
	"qc-dashboard/internal/shared/server/middleware"
	"qc-dashboard/internal/shared/storage/object"
)

type fakeAuth struct {
	mu         sync.Mutex
	block      bool
	signUpPlan string
	signOuts   int
}

func (f *fakeAuth) cred(email string) credentials.Credential {
	return credentials.Credential{
		AccessToken:  "at-" + email,
		RefreshToken: "rt-" + email,
		UserID:       "user-1",
		Email:        email,
		Expiry:       time.Now().Add(time.Hour),
	}
}

func (f *fakeAuth) SignIn(ctx context.Context, email, password string) (credentials.Credential, error) {
	if password != "secret" {
		return credentials.Credential{}, credentials.ErrInvalidCredentials
	}
	return f.cred(email), nil
}

func (f *fakeAuth) SignUp(ctx context.Context, email, password, plan string) (credentials.Credential, error) {
	f.mu.Lock()
	f.signUpPlan = plan
	f.mu.Unlock()
	if strings.HasPrefix(email, "confirm") {
		return credentials.Credential{}, credentials.ErrConfirmationRequired
	}
	return f.cred(email), nil
}

func (f *fakeAuth) SignOut(ctx context.Context, accessToken string) error {
	f.mu.Lock()
	f.signOuts++
	f.mu.Unlock()
	return nil
}

func (f *fakeAuth) AuthorizeURL(provider string) (string, credentials.Pending, error) {
	return "https://auth.example.com/authorize?state=s1", pendingSignIn(), nil
}

func (f *fakeAuth) ExchangeCode(ctx context.Context, pending credentials.Pending, state, code string) (credentials.Credential, error) {
	if f.block {
		<-ctx.Done()
		return credentials.Credential{}, ctx.Err()
	}
	if state != pending.State || pending.Verifier != "v1" {
		return credentials.Credential{}, credentials.ErrInvalidState
	}
	return f.cred("google@example.com"), nil
}

func pendingSignIn() credentials.Pending {
	return credentials.Pending{State: "s1", Verifier: "v1", Expires: time.Now().Add(credentials.StateTTL).UTC()}
}

func pendingCookieFor(p credentials.Pending) *http.Cookie {
	return &http.Cookie{Name: pendingCookie, Value: p.Encode()}
}

type fakeStore struct {
	mu         sync.Mutex
	jobs       map[string]qc.Job
	profile    *qc.Profile
	onboardErr error
	onboarded  string
	created    int
	gets       map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]qc.Job), gets: make(map[string]int)}
}

func (s *fakeStore) put(job qc.Job) {
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
}

func (s *fakeStore) getCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets[id]
}

func (s *fakeStore) ListJobs(ctx context.Context) ([]qc.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]qc.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (s *fakeStore) GetJob(ctx context.Context, id string) (qc.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets[id]++
	j, ok := s.jobs[id]
	if !ok {
		return qc.Job{}, jobstore.ErrNotFound
	}
	return j, nil
}

func (s *fakeStore) CreateJob(ctx context.Context, req qc.CreateJobRequest) (qc.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created++
	job := qc.Job{
		ID:          fmt.Sprintf("job-%d", s.created),
		Status:      qc.StatusPending,
		Mode:        req.Mode,
		DurationSec: req.DurationSec,
		VideoURL:    req.VideoURL,
		CreatedAt:   time.Now(),
	}
	s.jobs[job.ID] = job
	return job, nil
}

func (s *fakeStore) Onboard(ctx context.Context, req qc.OnboardRequest) (qc.OnboardResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onboardErr != nil {
		return qc.OnboardResponse{}, s.onboardErr
	}
	s.onboarded = req.PlanType
	s.profile = &qc.Profile{UserID: "user-1", PlanType: req.PlanType, Credits: 100}
	return qc.OnboardResponse{UserID: "user-1", PlanType: req.PlanType, Credits: 100, IsNewUser: true}, nil
}

func (s *fakeStore) Profile(ctx context.Context) (qc.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return qc.Profile{}, jobstore.ErrProfileNotFound
	}
	return *s.profile, nil
}

// fakeProber reports 47 seconds unless the file says "broken".
type fakeProber struct{}

func (fakeProber) Probe(ctx context.Context, path string) (probe.Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return probe.Metadata{}, err
	}
	if string(data) == "broken" {
		return probe.Metadata{}, &probe.MetadataError{Path: path, Reason: "no video stream"}
	}
	return probe.Metadata{DurationSec: 47, Width: 1920, Height: 1080}, nil
}

type fakeSources struct{}

func (fakeSources) Put(ctx context.Context, owner, fileName string, r io.Reader) (object.Object, error) {
	_, _ = io.Copy(io.Discard, r)
	return object.Object{Key: fileName, Locator: "mock://" + fileName}, nil
}

type testServer struct {
	router  *gin.Engine
	auth    *fakeAuth
	store   *fakeStore
	signer  *auth.Signer
	manager *sessions.Manager
}

func newTestServer(t *testing.T, tune func(*Options)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	signer, err := auth.NewSigner("test-secret", "dev", time.Hour)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	store := newFakeStore()
	manager := sessions.NewManager(sessions.Deps{
		Repo:     sessions.NewMemoryRepo(),
		NewStore: func(oauth2.TokenSource) jobstore.Store { return store },
		Prober:   fakeProber{},
		Sources:  fakeSources{},
	})
	t.Cleanup(manager.Shutdown)

	opts := Options{
		UIRedirectURL:  "http://ui.test/app",
		UploadDir:      t.TempDir(),
		MaxUploadBytes: 1 << 20,
		RefetchWindow:  time.Minute,
	}
	if tune != nil {
		tune(&opts)
	}
	fa := &fakeAuth{}
	h := NewHandler(fa, manager, signer, opts)

	r := gin.New()
	r.Use(middleware.Auth(signer, PublicPath))
	h.RegisterRoutes(r.Group("/api/v1"))
	return &testServer{router: r, auth: fa, store: store, signer: signer, manager: manager}
}

func (ts *testServer) do(method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	ts.router.ServeHTTP(resp, req)
	return resp
}

func (ts *testServer) doJSON(method, path, token string, payload any) *httptest.ResponseRecorder {
	var body io.Reader
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = bytes.NewReader(raw)
	}
	return ts.do(method, path, token, body, "application/json")
}

func (ts *testServer) login(t *testing.T) string {
	t.Helper()
	resp := ts.doJSON(http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "ed@example.com", "password": "secret"})
	if resp.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var out sessionResponse
	decode(t, resp, &out)
	return out.Token
}

func (ts *testServer) upload(t *testing.T, token, name string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return ts.do(http.MethodPost, "/api/v1/candidate?wait=1", token, &buf, w.FormDataContentType())
}

func decode(t *testing.T, resp *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", resp.Body.String(), err)
	}
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	decode(t, resp, &env)
	return env
}
