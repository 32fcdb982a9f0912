// Package artifacts serves a completed job's report files: backend
// artifacts proxied for the session, and CSV/EDL exports generated from
// the normalized result.
package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/ledongthuc/pdf"

	"qc-dashboard/internal/qc"
)

const (
	KindPDF = "pdf"
	KindEDL = "edl"
	KindXML = "xml"

	maxArtifactBytes = 64 << 20
)

var (
	ErrUnknownKind = errors.New("unknown artifact kind")
	ErrUnavailable = errors.New("artifact not available for this job")
	ErrTooLarge    = errors.New("artifact exceeds the download limit")
)

var contentTypes = map[string]string{
	KindPDF: "application/pdf",
	KindEDL: "text/plain; charset=utf-8",
	KindXML: "application/xml",
}

// Download is a fetched artifact.
type Download struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Fetch downloads the artifact of kind for job through client, normally
// one built by NewClient. Artifacts larger than the download limit fail
// with ErrTooLarge rather than being cut short.
func Fetch(ctx context.Context, client *http.Client, job qc.Job, kind string) (Download, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	ct, ok := contentTypes[kind]
	if !ok {
		return Download{}, ErrUnknownKind
	}
	if job.Status != qc.StatusCompleted {
		return Download{}, ErrUnavailable
	}
	src := job.Artifacts.URL(kind)
	if src == "" {
		return Download{}, ErrUnavailable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return Download{}, fmt.Errorf("build artifact request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Download{}, fmt.Errorf("fetch %s artifact: %w", kind, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Download{}, fmt.Errorf("fetch %s artifact: status %d", kind, resp.StatusCode)
	}
	if resp.ContentLength > maxArtifactBytes {
		return Download{}, fmt.Errorf("%w: %s artifact is %d bytes", ErrTooLarge, kind, resp.ContentLength)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactBytes+1))
	if err != nil {
		return Download{}, fmt.Errorf("read %s artifact: %w", kind, err)
	}
	if len(data) > maxArtifactBytes {
		return Download{}, fmt.Errorf("%w: %s artifact", ErrTooLarge, kind)
	}
	if got := resp.Header.Get("Content-Type"); got != "" && !strings.HasPrefix(got, "binary/") && got != "application/octet-stream" {
		ct = got
	}
	return Download{FileName: ExportFileName(job, kind), ContentType: ct, Data: data}, nil
}

// PDFText extracts the plain text of a PDF report for preview.
func PDFText(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty pdf data")
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// ExportFileName names a download after the source video: "<base>_qc.<ext>".
func ExportFileName(job qc.Job, ext string) string {
	base := qc.SourceFileName(job.VideoURL)
	base = strings.TrimSuffix(base, path.Ext(base))
	if base == "" {
		base = job.ID
	}
	if base == "" {
		base = "report"
	}
	return base + "_qc." + ext
}
