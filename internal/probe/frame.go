package probe

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
)

// Thumbnail geometry and encoding.
const (
	ThumbWidth   = 320
	ThumbHeight  = 180
	ThumbQuality = 70
)

// CoverCrop scales a srcW x srcH frame so it covers dstW x dstH while keeping
// its aspect ratio, and returns the scaled size plus the centered crop
// rectangle inside it.
func CoverCrop(srcW, srcH, dstW, dstH int) (scaled image.Point, crop image.Rectangle) {
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return image.Point{}, image.Rectangle{}
	}
	// Integer cross-multiplication keeps the bound side exact.
	if srcW*dstH >= srcH*dstW {
		scaled = image.Pt((srcW*dstH+srcH-1)/srcH, dstH)
	} else {
		scaled = image.Pt(dstW, (srcH*dstW+srcW-1)/srcW)
	}
	x := (scaled.X - dstW) / 2
	y := (scaled.Y - dstH) / 2
	return scaled, image.Rect(x, y, x+dstW, y+dstH)
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// encodeThumbnail crops a decoded, already scaled frame and returns it as a
// JPEG data URL.
func encodeThumbnail(frame []byte, crop image.Rectangle) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return "", fmt.Errorf("decode frame: %w", err)
	}
	crop = crop.Add(img.Bounds().Min).Intersect(img.Bounds())
	if crop.Empty() {
		return "", fmt.Errorf("frame %v smaller than crop", img.Bounds())
	}
	if si, ok := img.(subImager); ok {
		img = si.SubImage(crop)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: ThumbQuality}); err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
