package camera

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/T3-Labs/emotion-capture/pkg/logger"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// FFmpegConfig describes a capture device read through an ffmpeg process
// that emits an MJPEG image pipe.
type FFmpegConfig struct {
	// Input is a device path (/dev/video0) or a stream URL.
	Input string
	// Format is the ffmpeg input demuxer, e.g. "v4l2", "avfoundation",
	// "dshow". Empty lets ffmpeg probe (RTSP/HTTP URLs).
	Format string
	FPS    int
	// Quality is the mjpeg -q:v value (2 best .. 31 worst).
	Quality int
	// StartTimeout bounds how long Open waits for the first frame.
	StartTimeout time.Duration
	MaxRestarts  int
}

// FFmpegSource opens FFmpegStreams.
type FFmpegSource struct {
	config FFmpegConfig

	// command builds the process; replaced in tests.
	command func(ctx context.Context, cfg FFmpegConfig) *exec.Cmd
}

func NewFFmpegSource(cfg FFmpegConfig) *FFmpegSource {
	if cfg.FPS <= 0 {
		cfg.FPS = 5
	}
	if cfg.Quality <= 0 {
		cfg.Quality = 5
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 10 * time.Second
	}
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = 3
	}
	return &FFmpegSource{config: cfg, command: ffmpegCommand}
}

func ffmpegCommand(ctx context.Context, cfg FFmpegConfig) *exec.Cmd {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if cfg.Format != "" {
		args = append(args, "-f", cfg.Format)
	}
	args = append(args,
		"-i", cfg.Input,
		"-an",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", strconv.Itoa(cfg.Quality),
		"-r", strconv.Itoa(cfg.FPS),
		"-",
	)
	return exec.CommandContext(ctx, "ffmpeg", args...)
}

// Open starts ffmpeg and blocks until the first frame arrives. Any failure
// before then, including StartTimeout expiring, is ErrCameraUnavailable.
func (s *FFmpegSource) Open(ctx context.Context) (Stream, error) {
	streamCtx, cancel := context.WithCancel(context.Background())

	st := &FFmpegStream{
		config:  s.config,
		command: s.command,
		ctx:     streamCtx,
		cancel:  cancel,
		ready:   make(chan struct{}),
	}

	if err := st.start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}

	timer := time.NewTimer(s.config.StartTimeout)
	defer timer.Stop()

	select {
	case <-st.ready:
		logger.Log.Infow("ffmpeg capture started",
			"input", s.config.Input,
			"format", s.config.Format,
			"fps", s.config.FPS)
		return st, nil
	case <-st.ctx.Done():
		return nil, fmt.Errorf("%w: ffmpeg exited before the first frame from %s", ErrCameraUnavailable, s.config.Input)
	case <-timer.C:
		st.Stop()
		return nil, fmt.Errorf("%w: no frame from %s within %v", ErrCameraUnavailable, s.config.Input, s.config.StartTimeout)
	case <-ctx.Done():
		st.Stop()
		return nil, fmt.Errorf("%w: %v", ErrCameraUnavailable, ctx.Err())
	}
}

// FFmpegStream keeps the most recent JPEG produced by a persistent ffmpeg
// process. Older frames are overwritten, never queued.
type FFmpegStream struct {
	config  FFmpegConfig
	command func(ctx context.Context, cfg FFmpegConfig) *exec.Cmd

	mu        sync.Mutex
	cmd       *exec.Cmd
	latest    []byte
	stopped   bool
	restarts  int
	readyOnce sync.Once
	ready     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func (st *FFmpegStream) start() error {
	cmd := st.command(st.ctx, st.config)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	st.mu.Lock()
	st.cmd = cmd
	st.mu.Unlock()

	go st.logErrors(stderr)
	go st.readFrames(cmd, stdout)
	return nil
}

func (st *FFmpegStream) readFrames(cmd *exec.Cmd, stdout io.Reader) {
	reader := bufio.NewReader(stdout)
	buf := bytes.NewBuffer(make([]byte, 0, 256*1024))

	for {
		b, err := reader.ReadByte()
		if err != nil {
			_ = cmd.Wait()
			st.handleEOF(err)
			return
		}

		buf.WriteByte(b)
		if buf.Len() < 2 || !bytes.HasSuffix(buf.Bytes(), jpegEOI) {
			continue
		}

		if bytes.HasPrefix(buf.Bytes(), jpegSOI) {
			frame := make([]byte, buf.Len())
			copy(frame, buf.Bytes())

			st.mu.Lock()
			st.latest = frame
			st.mu.Unlock()
			st.readyOnce.Do(func() { close(st.ready) })
		}
		buf.Reset()
	}
}

func (st *FFmpegStream) handleEOF(err error) {
	st.mu.Lock()
	if st.stopped {
		st.mu.Unlock()
		return
	}
	st.restarts++
	restarts := st.restarts
	st.mu.Unlock()

	if restarts > st.config.MaxRestarts {
		logger.Log.Errorw("ffmpeg capture gave up",
			"input", st.config.Input,
			"restarts", restarts-1,
			"error", err)
		st.Stop()
		return
	}

	logger.Log.Warnw("ffmpeg capture ended, restarting",
		"input", st.config.Input,
		"attempt", restarts,
		"error", err)

	select {
	case <-st.ctx.Done():
		return
	case <-time.After(time.Second):
	}

	if err := st.start(); err != nil {
		logger.Log.Errorw("ffmpeg restart failed",
			"input", st.config.Input,
			"error", err)
		st.Stop()
	}
}

func (st *FFmpegStream) logErrors(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		logger.Log.Debugw("ffmpeg stderr",
			"input", st.config.Input,
			"message", scanner.Text())
	}
}

// Frame decodes the latest JPEG.
func (st *FFmpegStream) Frame() (image.Image, error) {
	st.mu.Lock()
	stopped := st.stopped
	data := st.latest
	st.mu.Unlock()

	if stopped {
		return nil, ErrStreamStopped
	}
	if data == nil {
		return nil, fmt.Errorf("no frame available yet")
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode mjpeg frame: %w", err)
	}
	return img, nil
}

// Stop kills ffmpeg and drops the buffered frame.
func (st *FFmpegStream) Stop() {
	st.mu.Lock()
	if st.stopped {
		st.mu.Unlock()
		return
	}
	st.stopped = true
	st.latest = nil
	st.mu.Unlock()

	st.cancel()
	logger.Log.Infow("ffmpeg capture stopped", "input", st.config.Input)
}

// Stopped reports whether the stream's tracks were released.
func (st *FFmpegStream) Stopped() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.stopped
}
