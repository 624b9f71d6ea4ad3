// Package gocvcam reads local capture devices through OpenCV.
package gocvcam

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/T3-Labs/emotion-capture/pkg/camera"
	"github.com/T3-Labs/emotion-capture/pkg/logger"
	"gocv.io/x/gocv"
)

// Source opens a device by index ("0") or by path/URL.
type Source struct {
	Device string
	Width  int
	Height int
}

func NewSource(device string, width, height int) *Source {
	return &Source{Device: device, Width: width, Height: height}
}

// Open acquires the device and confirms it delivers a frame. Any failure is
// reported as camera.ErrCameraUnavailable.
func (s *Source) Open(ctx context.Context) (camera.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", camera.ErrCameraUnavailable, err)
	}

	webcam, err := gocv.OpenVideoCapture(s.Device)
	if err != nil {
		return nil, fmt.Errorf("%w: open device %s: %v", camera.ErrCameraUnavailable, s.Device, err)
	}
	if !webcam.IsOpened() {
		webcam.Close()
		return nil, fmt.Errorf("%w: device %s not opened", camera.ErrCameraUnavailable, s.Device)
	}

	if s.Width > 0 && s.Height > 0 {
		webcam.Set(gocv.VideoCaptureFrameWidth, float64(s.Width))
		webcam.Set(gocv.VideoCaptureFrameHeight, float64(s.Height))
	}

	st := &Stream{webcam: webcam, mat: gocv.NewMat(), device: s.Device}
	if _, err := st.Frame(); err != nil {
		st.Stop()
		return nil, fmt.Errorf("%w: %v", camera.ErrCameraUnavailable, err)
	}

	logger.Log.Infow("camera opened",
		"device", s.Device,
		"width", webcam.Get(gocv.VideoCaptureFrameWidth),
		"height", webcam.Get(gocv.VideoCaptureFrameHeight))

	return st, nil
}

// Stream wraps an open gocv.VideoCapture.
type Stream struct {
	mu      sync.Mutex
	webcam  *gocv.VideoCapture
	mat     gocv.Mat
	device  string
	stopped bool
}

// Frame reads the next frame and converts it to an image.Image.
func (st *Stream) Frame() (image.Image, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.stopped {
		return nil, camera.ErrStreamStopped
	}

	if ok := st.webcam.Read(&st.mat); !ok || st.mat.Empty() {
		return nil, fmt.Errorf("read frame from device %s", st.device)
	}

	img, err := st.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return img, nil
}

// Stop closes the device.
func (st *Stream) Stop() {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.stopped {
		return
	}
	st.stopped = true
	st.mat.Close()
	st.webcam.Close()

	logger.Log.Infow("camera released", "device", st.device)
}
