package main

// Submit a video for QC from a terminal and print the report:
//   go run ./cmd/qcctl -email you@example.com -file cut.mp4 -mode guardian

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"qc-dashboard/internal/artifacts"
	"qc-dashboard/internal/bootstrap"
	"qc-dashboard/internal/credentials"
	"qc-dashboard/internal/events"
	"qc-dashboard/internal/jobstore"
	"qc-dashboard/internal/lifecycle"
	"qc-dashboard/internal/probe"
	"qc-dashboard/internal/profile"
	"qc-dashboard/internal/qc"
	"qc-dashboard/internal/shared/config"
	"qc-dashboard/internal/tracker"
)

const cliSession = "cli"

func main() {
	cfg := config.Load()

	email := flag.String("email", os.Getenv("QC_EMAIL"), "Account email")
	password := flag.String("password", "", "Account password (defaults to $QC_PASSWORD)")
	filePath := flag.String("file", "", "Path to the video to check")
	modeFlag := flag.String("mode", string(qc.ModePolisher), "QC mode: polisher or guardian")
	plan := flag.String("plan", qc.PlanFreelancer, "Plan used if the account still needs onboarding")
	format := flag.String("format", "text", "Report format: text, csv or edl")
	category := flag.String("category", "", "Only report comments in this category")
	outPath := flag.String("out", "", "Write the report here instead of stdout")
	timeout := flag.Duration("timeout", 30*time.Minute, "Give up waiting for the job after this long")
	estimateOnly := flag.Bool("estimate", false, "Print the credit estimate and exit")
	flag.Parse()

	if strings.TrimSpace(*filePath) == "" {
		exitErr("file path is required")
	}
	if *password == "" {
		*password = os.Getenv("QC_PASSWORD")
	}
	mode, err := qc.ParseMode(*modeFlag)
	if err != nil {
		exitErr(err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := credentials.NewProvider(cfg.SupabaseURL, cfg.SupabaseAnonKey, cfg.AuthRedirectURL)
	if err != nil {
		exitErr(fmt.Sprintf("credential provider: %v", err))
	}
	cred, err := provider.SignIn(ctx, *email, *password)
	if err != nil {
		exitErr(fmt.Sprintf("sign in: %v", err))
	}
	tokens := oauth2.ReuseTokenSource(nil, credentials.TokenSource(cred, provider, nil))
	store := jobstore.New(cfg.JobStoreURL, tokens)

	prof, _, err := profile.New(store, cliSession).EnsureOnboarded(ctx, *plan)
	if err != nil {
		exitErr(fmt.Sprintf("load profile: %v", err))
	}
	fmt.Fprintf(os.Stderr, "signed in as %s (%s plan, %d credits)\n", cred.Email, prof.PlanType, prof.Credits)

	objects, err := bootstrap.BuildStore(ctx, cfg)
	if err != nil {
		exitErr(fmt.Sprintf("object store: %v", err))
	}

	bus := events.NewBus()
	opts := tracker.Defaults()
	opts.SessionID = cliSession
	opts.ActiveInterval = cfg.PollActiveInterval
	opts.SummaryInterval = cfg.PollSummaryInterval
	tr := tracker.New(store, bus, opts)
	ctrl := lifecycle.New(lifecycle.Deps{
		Prober:  probe.New(cfg.FFprobePath, cfg.FFmpegPath),
		Jobs:    store,
		Sources: objects,
		Tracker: tr,
		Events:  bus,
	}, lifecycle.Options{Owner: cred.UserID, SessionID: cliSession, ProbeTimeout: cfg.ProbeTimeout})
	defer ctrl.Close()

	if err := ctrl.Select(lifecycle.File{Name: filepath.Base(*filePath), Path: *filePath}); err != nil {
		exitErr(err.Error())
	}
	snap, err := ctrl.AwaitSettled(ctx)
	if err != nil {
		exitErr(fmt.Sprintf("read video: %v", err))
	}
	if snap.Error != nil {
		exitErr(snap.Error.Message)
	}
	cost, err := ctrl.Estimate(mode)
	if err != nil {
		exitErr(err.Error())
	}
	fmt.Fprintf(os.Stderr, "%s: %s, %s mode costs %d credits\n", snap.Candidate.FileName, snap.Candidate.DurationLabel, mode.Label(), cost)
	if *estimateOnly {
		return
	}
	if cost > prof.Credits {
		exitErr(fmt.Sprintf("not enough credits: need %d, have %d", cost, prof.Credits))
	}

	done := make(chan events.Event, 1)
	unsubscribe := bus.Subscribe(func(evt events.Event) {
		if evt.Type != events.JobTerminal {
			return
		}
		select {
		case done <- evt:
		default:
		}
	})
	defer unsubscribe()

	job, err := ctrl.Submit(ctx, mode)
	if err != nil {
		exitErr(lifecycle.Classify(err).Message)
	}
	fmt.Fprintf(os.Stderr, "submitted job %s, waiting for results\n", job.ID)

	waitCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	g, gctx := errgroup.WithContext(waitCtx)
	g.Go(func() error { return tr.Run(gctx) })
	var final events.Event
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case evt := <-done:
				if evt.JobID == job.ID {
					final = evt
					cancel()
					return nil
				}
			}
		}
	})
	if err := g.Wait(); err != nil && final.JobID == "" {
		exitErr(fmt.Sprintf("waiting for job %s: %v", job.ID, err))
	}

	job, err = tr.Refresh(ctx, job.ID)
	if err != nil {
		exitErr(fmt.Sprintf("fetch job: %v", err))
	}
	if job.Status == qc.StatusFailed {
		exitErr(fmt.Sprintf("job %s failed", job.ID))
	}

	var out io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			exitErr(fmt.Sprintf("create output: %v", err))
		}
		defer f.Close()
		out = f
	}
	if err := writeReport(out, job, *format, *category); err != nil {
		exitErr(fmt.Sprintf("write report: %v", err))
	}
}

func writeReport(w io.Writer, job qc.Job, format, category string) error {
	if format != "text" {
		return artifacts.Export(w, job, format, category)
	}
	if job.Result == nil {
		return artifacts.ErrNoResult
	}
	fmt.Fprintf(w, "%s  (%s, %s)\n", qc.SourceFileName(job.VideoURL), qc.FormatDuration(job.DurationSec), job.Mode.Label())
	fmt.Fprintf(w, "%d issues\n\n", job.Result.Summary.TotalIssues)
	for _, c := range qc.FilterByCategory(job.Result.Comments, category) {
		fmt.Fprintf(w, "%s  %-7s  %-12s %s\n", c.Timestamp, c.Severity, c.Category, c.Description)
		if c.Suggestion != "" {
			fmt.Fprintf(w, "%32s%s\n", "", c.Suggestion)
		}
	}
	return nil
}

func exitErr(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
