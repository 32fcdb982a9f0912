package artifacts

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/oauth2"

	"qc-dashboard/internal/qc"
)

func completedJob() qc.Job {
	return qc.Job{
		ID:       "job-1",
		Status:   qc.StatusCompleted,
		VideoURL: "https://cdn.example.com/uploads/u1/final-cut.mp4?sig=abc",
		Result: &qc.QCResult{
			VideoInfo: &qc.VideoInfo{FPS: 25},
			Comments: []qc.Comment{
				{Timestamp: "00:00:10", TimestampSec: 10, Category: "Audio", Severity: qc.SeverityError, Description: "Clipping, left channel"},
				{Timestamp: "00:01:01", TimestampSec: 61, Category: "Color", Severity: qc.SeverityInfo, Description: "Slight cast", Suggestion: "Balance whites"},
			},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, completedJob(), ""); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "Timestamp" || rows[1][4] != "Clipping, left channel" || rows[2][5] != "Balance whites" {
		t.Fatalf("unexpected rows %v", rows)
	}
	if rows[2][1] != "61" || rows[1][3] != "error" {
		t.Fatalf("unexpected row values %v", rows)
	}
}

func TestWriteCSVFiltersCategory(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, completedJob(), "color"); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	rows, _ := csv.NewReader(&buf).ReadAll()
	if len(rows) != 2 || rows[1][2] != "Color" {
		t.Fatalf("expected only the Color row, got %v", rows)
	}
}

func TestExportWithoutResult(t *testing.T) {
	job := completedJob()
	job.Result = nil
	if err := Export(&bytes.Buffer{}, job, "csv", ""); !errors.Is(err, ErrNoResult) {
		t.Fatalf("expected ErrNoResult, got %v", err)
	}
	if err := Export(&bytes.Buffer{}, completedJob(), "xlsx", ""); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestWriteEDL(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteEDL(&buf, completedJob(), ""); err != nil {
		t.Fatalf("WriteEDL: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"TITLE: FINAL-CUT_QC",
		"FCM: NON-DROP FRAME",
		"001  001      V     C        00:00:10:00 00:00:10:01",
		"|C:ResolveColorRed |M:Audio: Clipping, left channel |D:1",
		"002  001      V     C        00:01:01:00 00:01:01:01",
		"|C:ResolveColorBlue |M:Color: Slight cast |D:1",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in:\n%s", want, out)
		}
	}
}

func TestTimecode(t *testing.T) {
	tests := []struct {
		sec  float64
		fps  int
		want string
	}{
		{0, 25, "00:00:00:00"},
		{61, 25, "00:01:01:00"},
		{1.5, 24, "00:00:01:12"},
		{3725, 30, "01:02:05:00"},
		{-3, 25, "00:00:00:00"},
		{2, 0, "00:00:02:00"},
	}
	for _, tt := range tests {
		if got := Timecode(tt.sec, tt.fps); got != tt.want {
			t.Fatalf("Timecode(%v, %d) = %q, want %q", tt.sec, tt.fps, got, tt.want)
		}
	}
}

func TestExportFileName(t *testing.T) {
	if got := ExportFileName(completedJob(), "pdf"); got != "final-cut_qc.pdf" {
		t.Fatalf("unexpected name %q", got)
	}
	if got := ExportFileName(qc.Job{ID: "job-9"}, "csv"); got != "job-9_qc.csv" {
		t.Fatalf("unexpected fallback name %q", got)
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/reports/job-1.pdf" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	t.Cleanup(srv.Close)

	job := completedJob()
	job.Artifacts = &qc.Artifacts{PDFURL: srv.URL + "/reports/job-1.pdf", XMLURL: srv.URL + "/missing.xml"}

	d, err := Fetch(context.Background(), srv.Client(), job, "PDF")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if d.FileName != "final-cut_qc.pdf" || d.ContentType != "application/pdf" || string(d.Data) != "%PDF-1.4" {
		t.Fatalf("unexpected download %+v", d)
	}

	if _, err := Fetch(context.Background(), srv.Client(), job, "xml"); err == nil {
		t.Fatalf("expected error for missing artifact")
	}
	if _, err := Fetch(context.Background(), srv.Client(), job, "edl"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := Fetch(context.Background(), srv.Client(), job, "mov"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}

	job.Status = qc.StatusProcessing
	if _, err := Fetch(context.Background(), srv.Client(), job, "pdf"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for unfinished job, got %v", err)
	}
}

func TestPDFTextRejectsInvalidData(t *testing.T) {
	if _, err := PDFText(nil); err == nil {
		t.Fatalf("expected error for empty data")
	}
	if _, err := PDFText([]byte("not a pdf")); err == nil {
		t.Fatalf("expected error for invalid pdf")
	}
}

func TestNewClientSendsTokenOnlyToTrustedHost(t *testing.T) {
	var storeAuth, foreignAuth string
	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		storeAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("<xml/>"))
	}))
	t.Cleanup(store.Close)
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		foreignAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	t.Cleanup(foreign.Close)

	tokens := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "user-secret"})
	client := NewClient(tokens, HostOf(store.URL))

	job := completedJob()
	job.Artifacts = &qc.Artifacts{PDFURL: foreign.URL + "/r.pdf", XMLURL: store.URL + "/v1/jobs/job-1/report.xml"}

	if _, err := Fetch(context.Background(), client, job, "pdf"); err != nil {
		t.Fatalf("Fetch pdf: %v", err)
	}
	if foreignAuth != "" {
		t.Fatalf("foreign host received Authorization %q", foreignAuth)
	}
	if _, err := Fetch(context.Background(), client, job, "xml"); err != nil {
		t.Fatalf("Fetch xml: %v", err)
	}
	if storeAuth != "Bearer user-secret" {
		t.Fatalf("expected bearer on job store host, got %q", storeAuth)
	}
}

func TestFetchRejectsOversizedArtifact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Streamed without Content-Length, so the limit applies while reading.
		chunk := bytes.Repeat([]byte("x"), 1<<20)
		for i := 0; i < 65; i++ {
			if _, err := w.Write(chunk); err != nil {
				return
			}
		}
		_, _ = w.Write([]byte("tail"))
	}))
	t.Cleanup(srv.Close)

	job := completedJob()
	job.Artifacts = &qc.Artifacts{PDFURL: srv.URL + "/big.pdf"}
	if _, err := Fetch(context.Background(), srv.Client(), job, "pdf"); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestDispositionQuotesFileName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"clip_qc.csv", "attachment; filename=clip_qc.csv"},
		{"my cut_qc.csv", `attachment; filename="my cut_qc.csv"`},
		{`a"b_qc.csv`, `attachment; filename="a\"b_qc.csv"`},
		{"café_qc.csv", "attachment; filename*=utf-8''caf%C3%A9_qc.csv"},
	}
	for _, tt := range tests {
		if got := Disposition(tt.name); got != tt.want {
			t.Fatalf("Disposition(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
