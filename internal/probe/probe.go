// Package probe extracts the metadata a submission needs from a local video
// file: whole-second duration and a small cover-cropped thumbnail.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"qc-dashboard/internal/shared/metrics"
	"qc-dashboard/internal/shared/telemetry"
)

// Metadata is what a successful probe yields.
type Metadata struct {
	DurationSec int           `json:"duration_sec"`
	Width       int           `json:"width"`
	Height      int           `json:"height"`
	SeekOffset  time.Duration `json:"-"`
	Thumbnail   string        `json:"thumbnail_url,omitempty"`
}

// MetadataError means the file could not be decoded as a video.
type MetadataError struct {
	Path   string
	Reason string
	Err    error
}

func (e *MetadataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("read video metadata: %s: %v", e.Reason, e.Err)
	}
	return "read video metadata: " + e.Reason
}

func (e *MetadataError) Unwrap() error {
	return e.Err
}

// Prober runs ffprobe and ffmpeg through a Runner.
type Prober struct {
	runner  Runner
	ffprobe string
	ffmpeg  string
	now     func() time.Time
}

// Option customizes a Prober.
type Option func(*Prober)

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option {
	return func(p *Prober) {
		if r != nil {
			p.runner = r
		}
	}
}

// New builds a prober for the given binary paths; empty paths fall back to
// the names on PATH.
func New(ffprobePath, ffmpegPath string, opts ...Option) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	p := &Prober{runner: ExecRunner{}, ffprobe: ffprobePath, ffmpeg: ffmpegPath, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SeekOffset is where the thumbnail frame is taken: one second in, or 10% of
// the duration for clips shorter than ten seconds.
func SeekOffset(duration time.Duration) time.Duration {
	if duration <= 0 {
		return 0
	}
	return min(time.Second, duration/10)
}

// Probe reads duration and dimensions, then grabs the thumbnail frame.
// Cancellation is returned as the context error, never as a MetadataError.
func (p *Prober) Probe(ctx context.Context, path string) (Metadata, error) {
	start := p.now()
	meta, err := p.probe(ctx, path)
	elapsed := p.now().Sub(start)
	metrics.ObserveProbeDurationMs(float64(elapsed.Milliseconds()))
	if err != nil {
		if ctx.Err() == nil {
			telemetry.Warn("probe.failed", map[string]any{
				"file":        path,
				"error":       err.Error(),
				"duration_ms": elapsed.Milliseconds(),
			})
		}
		return Metadata{}, err
	}
	telemetry.Info("probe.completed", map[string]any{
		"duration_sec": meta.DurationSec,
		"width":        meta.Width,
		"height":       meta.Height,
		"duration_ms":  elapsed.Milliseconds(),
	})
	return meta, nil
}

func (p *Prober) probe(ctx context.Context, path string) (Metadata, error) {
	info, err := p.streamInfo(ctx, path)
	if err != nil {
		return Metadata{}, err
	}
	meta := Metadata{
		DurationSec: int(math.Ceil(info.duration.Seconds())),
		Width:       info.width,
		Height:      info.height,
		SeekOffset:  SeekOffset(info.duration),
	}

	scaled, crop := CoverCrop(info.width, info.height, ThumbWidth, ThumbHeight)
	out, err := p.runner.Run(ctx, p.ffmpeg,
		"-v", "error",
		"-ss", strconv.FormatFloat(meta.SeekOffset.Seconds(), 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:%d", scaled.X, scaled.Y),
		"-f", "image2pipe",
		"-vcodec", "png",
		"pipe:1",
	)
	if err != nil {
		return Metadata{}, metadataErr(ctx, path, "frame capture failed", err)
	}
	thumb, err := encodeThumbnail(out, crop)
	if err != nil {
		return Metadata{}, &MetadataError{Path: path, Reason: "frame capture failed", Err: err}
	}
	meta.Thumbnail = thumb
	return meta, nil
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Duration  string `json:"duration"`
	Tags      struct {
		Rotate string `json:"rotate"`
	} `json:"tags"`
	SideData []struct {
		Rotation float64 `json:"rotation"`
	} `json:"side_data_list"`
}

// rotation returns the display rotation in degrees, normalized to
// [0, 360). Display matrix side data wins over the legacy rotate tag.
func (s ffprobeStream) rotation() int {
	deg := 0
	found := false
	for _, sd := range s.SideData {
		if sd.Rotation != 0 {
			deg, found = int(math.Round(sd.Rotation)), true
			break
		}
	}
	if !found && s.Tags.Rotate != "" {
		if v, err := strconv.Atoi(s.Tags.Rotate); err == nil {
			deg = v
		}
	}
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}

// displaySize is the frame size after ffmpeg applies the rotation.
func (s ffprobeStream) displaySize() (int, int) {
	switch s.rotation() {
	case 90, 270:
		return s.Height, s.Width
	default:
		return s.Width, s.Height
	}
}

type streamInfo struct {
	duration      time.Duration
	width, height int
}

func (p *Prober) streamInfo(ctx context.Context, path string) (streamInfo, error) {
	out, err := p.runner.Run(ctx, p.ffprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return streamInfo{}, metadataErr(ctx, path, "ffprobe failed", err)
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return streamInfo{}, &MetadataError{Path: path, Reason: "unreadable ffprobe output", Err: err}
	}

	var info streamInfo
	rawDuration := parsed.Format.Duration
	for _, s := range parsed.Streams {
		if s.CodecType != "video" {
			continue
		}
		info.width, info.height = s.displaySize()
		if rawDuration == "" {
			rawDuration = s.Duration
		}
		break
	}
	if info.width <= 0 || info.height <= 0 {
		return streamInfo{}, &MetadataError{Path: path, Reason: "no video stream"}
	}
	seconds, err := strconv.ParseFloat(rawDuration, 64)
	if err != nil || seconds <= 0 || math.IsInf(seconds, 0) || math.IsNaN(seconds) {
		return streamInfo{}, &MetadataError{Path: path, Reason: "unknown duration", Err: err}
	}
	info.duration = time.Duration(seconds * float64(time.Second))
	return info, nil
}

func metadataErr(ctx context.Context, path, reason string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &MetadataError{Path: path, Reason: reason, Err: err}
}
