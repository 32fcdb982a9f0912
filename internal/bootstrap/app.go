package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"
	supa "github.com/supabase-community/supabase-go"
	"golang.org/x/oauth2"

	"qc-dashboard/internal/artifacts"
	"qc-dashboard/internal/credentials"
	"qc-dashboard/internal/dashboard"
	"qc-dashboard/internal/events"
	"qc-dashboard/internal/jobstore"
	"qc-dashboard/internal/jobstore/supabasesource"
	"qc-dashboard/internal/probe"
	"qc-dashboard/internal/services/health"
	"qc-dashboard/internal/sessions"
	"qc-dashboard/internal/shared/auth"
	"qc-dashboard/internal/shared/config"
	"qc-dashboard/internal/shared/server"
	"qc-dashboard/internal/shared/server/middleware"
	"qc-dashboard/internal/shared/storage/db"
	"qc-dashboard/internal/shared/storage/object"
	localstore "qc-dashboard/internal/shared/storage/object/local"
	s3store "qc-dashboard/internal/shared/storage/object/s3"
	supastore "qc-dashboard/internal/shared/storage/object/supabase"
	"qc-dashboard/internal/shared/telemetry"
	"qc-dashboard/internal/tracker"
)

// App holds shared dependencies.
type App struct {
	Config    config.Config
	Router    *gin.Engine
	DB        *sql.DB
	Store     object.Store
	Sink      events.Sink
	Provider  dashboard.Authenticator
	Signer    *auth.Signer
	Sessions  *sessions.Manager
	Dashboard *dashboard.Handler
	// Background reports whether session runtimes poll on their own.
	Background bool
}

// Build prepares every dependency and the router. Outside Lambda each
// session runtime polls in the background; inside Lambda jobs are swept on
// read instead.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	telemetry.SetLevel(cfg.LogLevel)
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store, err := BuildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	sink, err := buildSink(ctx, cfg)
	if err != nil {
		return nil, err
	}
	signer, err := auth.NewSigner(cfg.JWTSecret, cfg.Env, 0)
	if err != nil {
		return nil, err
	}
	provider := buildProvider(cfg)

	var repo sessions.Repo
	if sqlDB != nil {
		repo = &sessions.PGRepo{DB: sqlDB}
	} else {
		repo = sessions.NewMemoryRepo()
	}

	background := !db.IsLambdaRuntime()
	trackerOpts := tracker.Defaults()
	trackerOpts.ActiveInterval = cfg.PollActiveInterval
	trackerOpts.SummaryInterval = cfg.PollSummaryInterval
	trackerOpts.AssumedProcessing = cfg.AssumedProcessing

	manager := sessions.NewManager(sessions.Deps{
		Repo:      repo,
		Refresher: provider,
		NewStore: func(tokens oauth2.TokenSource) jobstore.Store {
			return jobstore.New(cfg.JobStoreURL, tokens)
		},
		NewSource:     buildSource(cfg),
		Prober:        probe.New(cfg.FFprobePath, cfg.FFmpegPath),
		ProbeTimeout:  cfg.ProbeTimeout,
		Sources:       store,
		Sink:          sink,
		Tracker:       trackerOpts,
		ArtifactHosts: []string{artifacts.HostOf(cfg.JobStoreURL)},
		Background:    background,
		IdleTimeout:   cfg.SessionIdleTimeout,
	})

	opts := dashboard.Options{
		UIRedirectURL:  cfg.UIRedirectURL,
		AuthTimeout:    cfg.AuthTimeout,
		UploadDir:      cfg.UploadTmpDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}
	if !background {
		opts.StaleAfter = cfg.PollActiveInterval
	}
	handler := dashboard.NewHandler(provider, manager, signer, opts)

	app := &App{
		Config:     cfg,
		DB:         sqlDB,
		Store:      store,
		Sink:       sink,
		Provider:   provider,
		Signer:     signer,
		Sessions:   manager,
		Dashboard:  handler,
		Background: background,
	}
	var pinger health.Pinger
	if sqlDB != nil {
		pinger = sqlDB
	}
	app.Router = server.NewRouter(server.RouterDeps{
		Config:    cfg,
		Signer:    signer,
		Dashboard: handler,
		Health:    health.NewService(pinger, cfg.ObjectStoreType, background),
		Limiter:   middleware.NewRateLimiter(nil),
	})
	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory sessions")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var (
		sqlDB *sql.DB
		err   error
	)
	if db.IsLambdaRuntime() {
		sqlDB, err = db.Shared(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.Defaults(db.ProfileLambda)))
	} else {
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.Defaults(db.ProfileServer)))
	}
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory sessions: %v", err)
			return nil, nil
		}
		return nil, err
	}

	if isDevLike(cfg.Env) {
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	return sqlDB, nil
}

// BuildStore returns the object store selected by OBJECT_STORE.
func BuildStore(ctx context.Context, cfg config.Config) (object.Store, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	case "supabase":
		client, err := supa.NewClient(cfg.SupabaseURL, cfg.SupabaseAnonKey, nil)
		if err != nil {
			return nil, fmt.Errorf("supabase client: %w", err)
		}
		return supastore.New(client.Storage, cfg.SupabaseBucket)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildSink(ctx context.Context, cfg config.Config) (events.Sink, error) {
	if strings.TrimSpace(cfg.QCEventsSQSURL) == "" {
		return nil, nil
	}
	return events.NewSQSSink(ctx, cfg.AWSRegion, cfg.QCEventsSQSURL)
}

// buildSource returns the alternate read side, or nil to poll the job store.
func buildSource(cfg config.Config) func(oauth2.TokenSource) (jobstore.Source, error) {
	if cfg.JobSource != "supabase" {
		return nil
	}
	return func(tokens oauth2.TokenSource) (jobstore.Source, error) {
		return supabasesource.New(cfg.SupabaseURL, cfg.SupabaseAnonKey, tokens)
	}
}

func buildProvider(cfg config.Config) authProvider {
	p, err := credentials.NewProvider(cfg.SupabaseURL, cfg.SupabaseAnonKey, cfg.AuthRedirectURL)
	if err != nil {
		log.Printf("bootstrap: credential provider unavailable, sign-in disabled: %v", err)
		return disabledProvider{}
	}
	return p
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

type authProvider interface {
	dashboard.Authenticator
	credentials.Refresher
}

// disabledProvider answers every call with ErrNotConfigured.
type disabledProvider struct{}

func (disabledProvider) SignIn(context.Context, string, string) (credentials.Credential, error) {
	return credentials.Credential{}, credentials.ErrNotConfigured
}

func (disabledProvider) SignUp(context.Context, string, string, string) (credentials.Credential, error) {
	return credentials.Credential{}, credentials.ErrNotConfigured
}

func (disabledProvider) SignOut(context.Context, string) error {
	return nil
}

func (disabledProvider) AuthorizeURL(string) (string, credentials.Pending, error) {
	return "", credentials.Pending{}, credentials.ErrNotConfigured
}

func (disabledProvider) ExchangeCode(context.Context, credentials.Pending, string, string) (credentials.Credential, error) {
	return credentials.Credential{}, credentials.ErrNotConfigured
}

func (disabledProvider) Refresh(context.Context, string) (credentials.Credential, error) {
	return credentials.Credential{}, credentials.ErrNotConfigured
}
