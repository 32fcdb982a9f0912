package probe

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"
	"time"
)

type fakeRunner struct {
	probeOut []byte
	probeErr error
	frameOut []byte
	frameErr error
	calls    [][]string
	block    chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if name == "ffprobe" {
		return f.probeOut, f.probeErr
	}
	return f.frameOut, f.frameErr
}

func pngFrame(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func decodeDataURL(t *testing.T, dataURL string) image.Image {
	t.Helper()
	payload, ok := strings.CutPrefix(dataURL, "data:image/jpeg;base64,")
	if !ok {
		t.Fatalf("unexpected data url prefix: %.40s", dataURL)
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}
	return img
}

func TestSeekOffset(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want time.Duration
	}{
		{in: 0, want: 0},
		{in: 4 * time.Second, want: 400 * time.Millisecond},
		{in: 10 * time.Second, want: time.Second},
		{in: 90 * time.Second, want: time.Second},
	}
	for _, tc := range cases {
		if got := SeekOffset(tc.in); got != tc.want {
			t.Fatalf("SeekOffset(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestCoverCrop(t *testing.T) {
	cases := []struct {
		name       string
		w, h       int
		wantScaled image.Point
		wantCrop   image.Rectangle
	}{
		{name: "16:9", w: 1920, h: 1080, wantScaled: image.Pt(320, 180), wantCrop: image.Rect(0, 0, 320, 180)},
		{name: "portrait", w: 1080, h: 1920, wantScaled: image.Pt(320, 569), wantCrop: image.Rect(0, 194, 320, 374)},
		{name: "4:3", w: 640, h: 480, wantScaled: image.Pt(320, 240), wantCrop: image.Rect(0, 30, 320, 210)},
		{name: "wide", w: 2560, h: 1080, wantScaled: image.Pt(427, 180), wantCrop: image.Rect(53, 0, 373, 180)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			scaled, crop := CoverCrop(tc.w, tc.h, ThumbWidth, ThumbHeight)
			if scaled != tc.wantScaled || crop != tc.wantCrop {
				t.Fatalf("got %v %v, want %v %v", scaled, crop, tc.wantScaled, tc.wantCrop)
			}
		})
	}
}

func TestProbeRoundsDurationUpAndBuildsThumbnail(t *testing.T) {
	runner := &fakeRunner{
		probeOut: []byte(`{"format":{"duration":"46.2"},"streams":[{"codec_type":"audio"},{"codec_type":"video","width":1080,"height":1920}]}`),
		frameOut: pngFrame(t, 320, 569),
	}
	p := New("", "", WithRunner(runner))

	meta, err := p.Probe(context.Background(), "/tmp/clip.mp4")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if meta.DurationSec != 47 {
		t.Fatalf("expected 47s, got %d", meta.DurationSec)
	}
	if meta.SeekOffset != time.Second {
		t.Fatalf("expected 1s seek, got %v", meta.SeekOffset)
	}
	img := decodeDataURL(t, meta.Thumbnail)
	if b := img.Bounds(); b.Dx() != ThumbWidth || b.Dy() != ThumbHeight {
		t.Fatalf("expected 320x180 thumbnail, got %v", b)
	}

	frameCall := strings.Join(runner.calls[1], " ")
	if !strings.Contains(frameCall, "-ss 1.000") || !strings.Contains(frameCall, "scale=320:569") {
		t.Fatalf("unexpected ffmpeg call: %s", frameCall)
	}
}

func TestProbeUsesDisplayOrientation(t *testing.T) {
	cases := []struct {
		name   string
		stream string
		w, h   int
		scale  string
	}{
		{name: "display matrix", w: 1080, h: 1920, scale: "scale=320:569", stream: `{"codec_type":"video","width":1920,"height":1080,"side_data_list":[{"side_data_type":"Display Matrix","displaymatrix":"...","rotation":-90}]}`},
		{name: "rotate tag", w: 1080, h: 1920, scale: "scale=320:569", stream: `{"codec_type":"video","width":1920,"height":1080,"tags":{"rotate":"270"}}`},
		{name: "upside down", w: 1920, h: 1080, scale: "scale=320:180", stream: `{"codec_type":"video","width":1920,"height":1080,"side_data_list":[{"rotation":180}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := &fakeRunner{
				probeOut: []byte(`{"format":{"duration":"12.0"},"streams":[` + tc.stream + `]}`),
				frameOut: pngFrame(t, 320, 569),
			}
			meta, err := New("", "", WithRunner(runner)).Probe(context.Background(), "/tmp/phone.mov")
			if err != nil {
				t.Fatalf("probe: %v", err)
			}
			if meta.Width != tc.w || meta.Height != tc.h {
				t.Fatalf("expected %dx%d, got %dx%d", tc.w, tc.h, meta.Width, meta.Height)
			}
			if call := strings.Join(runner.calls[1], " "); !strings.Contains(call, tc.scale) {
				t.Fatalf("expected %s in ffmpeg call: %s", tc.scale, call)
			}
		})
	}
}

func TestProbeRejectsUndecodableInput(t *testing.T) {
	cases := []struct {
		name   string
		runner *fakeRunner
	}{
		{name: "ffprobe error", runner: &fakeRunner{probeErr: errors.New("exit status 1")}},
		{name: "no video stream", runner: &fakeRunner{probeOut: []byte(`{"format":{"duration":"3"},"streams":[{"codec_type":"audio"}]}`)}},
		{name: "no duration", runner: &fakeRunner{probeOut: []byte(`{"format":{},"streams":[{"codec_type":"video","width":640,"height":480}]}`)}},
		{name: "garbage", runner: &fakeRunner{probeOut: []byte(`not json`)}},
		{name: "bad frame", runner: &fakeRunner{
			probeOut: []byte(`{"format":{"duration":"3"},"streams":[{"codec_type":"video","width":640,"height":480}]}`),
			frameOut: []byte("nope"),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New("", "", WithRunner(tc.runner)).Probe(context.Background(), "/tmp/x.mp4")
			var metaErr *MetadataError
			if !errors.As(err, &metaErr) {
				t.Fatalf("expected MetadataError, got %v", err)
			}
		})
	}
}

func TestProbeCancellationIsNotMetadataError(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New("", "", WithRunner(runner)).Probe(ctx, "/tmp/x.mp4")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var metaErr *MetadataError
	if errors.As(err, &metaErr) {
		t.Fatalf("cancellation must not look like a metadata error")
	}
}
