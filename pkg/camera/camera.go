// Package camera acquires video frames and renders them into the fixed
// raster surface that the capture loop encodes and submits.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"
)

// ErrCameraUnavailable is returned by Source.Open when access is denied or
// no capture hardware answers.
var ErrCameraUnavailable = errors.New("camera unavailable")

// ErrStreamStopped is returned by Stream.Frame after Stop.
var ErrStreamStopped = errors.New("stream stopped")

// Source opens video-only streams.
type Source interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open camera. Stop releases every track and is safe to call
// more than once.
type Stream interface {
	Frame() (image.Image, error)
	Stop()
}

// Raster is the offscreen drawing surface. Every frame is scaled to its
// bounds before encoding, whatever the camera resolution.
type Raster struct {
	surface *image.RGBA
	quality int
}

const (
	DefaultWidth   = 320
	DefaultHeight  = 240
	DefaultQuality = 0.7
)

// NewRaster creates a width x height surface encoding JPEG at quality, given
// in the 0..1 range used by the wire format and mapped to 1..100.
func NewRaster(width, height int, quality float64) *Raster {
	if width <= 0 || height <= 0 {
		width, height = DefaultWidth, DefaultHeight
	}
	if quality <= 0 || quality > 1 {
		quality = DefaultQuality
	}

	q := int(math.Round(quality * 100))
	if q < 1 {
		q = 1
	}

	return &Raster{
		surface: image.NewRGBA(image.Rect(0, 0, width, height)),
		quality: q,
	}
}

// Bounds returns the surface rectangle.
func (r *Raster) Bounds() image.Rectangle {
	return r.surface.Bounds()
}

// Quality returns the JPEG quality on the 1..100 scale.
func (r *Raster) Quality() int {
	return r.quality
}

// Draw scales frame onto the surface and returns the JPEG encoding. The
// surface is reused between calls; callers must not share a Raster across
// goroutines.
func (r *Raster) Draw(frame image.Image) ([]byte, error) {
	if frame == nil || frame.Bounds().Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	draw.ApproxBiLinear.Scale(r.surface, r.surface.Bounds(), frame, frame.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, r.surface, &jpeg.Options{Quality: r.quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
