package artifacts

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"strconv"
	"strings"

	"qc-dashboard/internal/qc"
)

const (
	FormatCSV = "csv"
	FormatEDL = "edl"

	defaultFPS = 25
)

var ErrNoResult = errors.New("job has no qc result")

var csvHeader = []string{"Timestamp", "Seconds", "Category", "Severity", "Description", "Suggestion"}

// Export renders the job's comments in format, filtered by category.
func Export(w io.Writer, job qc.Job, format, category string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatCSV:
		return WriteCSV(w, job, category)
	case FormatEDL:
		return WriteEDL(w, job, category)
	default:
		return ErrUnknownKind
	}
}

// ContentType returns the media type of an export format.
func ContentType(format string) string {
	if strings.EqualFold(format, FormatCSV) {
		return "text/csv; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}

// Disposition builds an attachment Content-Disposition value for name,
// quoting or encoding it as needed.
func Disposition(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}

// WriteCSV writes one row per comment in offset order.
func WriteCSV(w io.Writer, job qc.Job, category string) error {
	if job.Result == nil {
		return ErrNoResult
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, c := range qc.FilterByCategory(job.Result.Comments, category) {
		row := []string{
			c.Timestamp,
			strconv.FormatFloat(c.TimestampSec, 'f', -1, 64),
			c.Category,
			string(c.Severity),
			c.Description,
			c.Suggestion,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEDL writes a CMX3600 marker list: one single-frame event per
// comment, colored by severity.
func WriteEDL(w io.Writer, job qc.Job, category string) error {
	if job.Result == nil {
		return ErrNoResult
	}
	fps := defaultFPS
	if vi := job.Result.VideoInfo; vi != nil && vi.FPS > 0 {
		fps = int(math.Round(vi.FPS))
	}
	title := strings.TrimSuffix(ExportFileName(job, "edl"), ".edl")

	var b strings.Builder
	fmt.Fprintf(&b, "TITLE: %s\n", strings.ToUpper(title))
	b.WriteString("FCM: NON-DROP FRAME\n\n")
	for i, c := range qc.FilterByCategory(job.Result.Comments, category) {
		in := Timecode(c.TimestampSec, fps)
		out := Timecode(c.TimestampSec+1/float64(fps), fps)
		fmt.Fprintf(&b, "%03d  001      V     C        %s %s %s %s\n", i+1, in, out, in, out)
		note := c.Category
		if c.Description != "" {
			note += ": " + c.Description
		}
		fmt.Fprintf(&b, "%s |C:%s |M:%s |D:1\n\n", in, markerColor(c.Severity), oneLine(note))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Timecode renders sec as HH:MM:SS:FF at fps.
func Timecode(sec float64, fps int) string {
	if fps <= 0 {
		fps = defaultFPS
	}
	if sec < 0 {
		sec = 0
	}
	frames := int(math.Round(sec * float64(fps)))
	ff := frames % fps
	total := frames / fps
	return fmt.Sprintf("%02d:%02d:%02d:%02d", total/3600, (total%3600)/60, total%60, ff)
}

func markerColor(s qc.Severity) string {
	switch s {
	case qc.SeverityError:
		return "ResolveColorRed"
	case qc.SeverityWarning:
		return "ResolveColorYellow"
	default:
		return "ResolveColorBlue"
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
