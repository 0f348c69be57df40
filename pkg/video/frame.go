package video

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

const (
	// DefaultMaxEdge bounds the long edge of sent frames in pixels.
	DefaultMaxEdge = 640

	// DefaultQuality is the JPEG quality of sent frames.
	DefaultQuality = 50
)

// Downscale returns img resized so its longer edge is at most maxEdge,
// keeping the aspect ratio. Smaller images are returned unchanged.
func Downscale(img image.Image, maxEdge int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxEdge <= 0 || (w <= maxEdge && h <= maxEdge) {
		return img
	}

	var nw, nh int
	if w >= h {
		nw = maxEdge
		nh = max(1, h*maxEdge/w)
	} else {
		nh = maxEdge
		nw = max(1, w*maxEdge/h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// EncodeJPEG downscales img and encodes it at the given quality.
func EncodeJPEG(img image.Image, maxEdge, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Downscale(img, maxEdge), &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("video: encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
