// Package capture runs the capture loop: it holds the camera stream, fires a
// capture cycle immediately and then once per interval, and keeps the
// controls and display state a front end renders.
package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/T3-Labs/emotion-capture/pkg/camera"
	"github.com/T3-Labs/emotion-capture/pkg/logger"
	"github.com/T3-Labs/emotion-capture/pkg/metrics"
	"github.com/T3-Labs/emotion-capture/pkg/submission"
	"github.com/mixer/clock"
)

// CameraAlert is shown when the camera cannot be acquired.
const CameraAlert = "Could not access camera. Please check the device and allow camera permission."

// Submitter transmits one frame submission.
type Submitter interface {
	Submit(ctx context.Context, sub submission.Submission) (*submission.Result, error)
}

// Alerter surfaces a message the user has to acknowledge.
type Alerter interface {
	Alert(message string)
}

// Controls mirrors the start/stop toggle state.
type Controls struct {
	StartEnabled bool
	StopEnabled  bool
}

// Display holds the last accepted analysis.
type Display struct {
	Emotion    string
	Confidence float64
	Engagement float64
	UpdatedAt  time.Time
}

// Fields renders the three display fields, numbers with two decimals.
func (d Display) Fields() (emotion, confidence, engagement string) {
	return d.Emotion, fmt.Sprintf("%.2f", d.Confidence), fmt.Sprintf("%.2f", d.Engagement)
}

// Options configures a Session. Source, Submitter and Alerter are required.
type Options struct {
	Source    camera.Source
	Submitter Submitter
	Alerter   Alerter
	Clock     clock.Clock

	Width   int
	Height  int
	Quality float64

	UserID   string
	Role     submission.Role
	Interval string

	// OnDisplay is called after every display update.
	OnDisplay func(Display)
}

// Session is one capture widget. Inputs (identifier, role, interval) may be
// edited at any time; identifier and role are read on every cycle, the
// interval when capture starts.
type Session struct {
	source    camera.Source
	submitter Submitter
	alerter   Alerter
	clock     clock.Clock
	onDisplay func(Display)
	monitor   *camera.Monitor

	// lifecycle serialises Start and Stop.
	lifecycle sync.Mutex

	mu            sync.Mutex
	stream        camera.Stream
	ticker        clock.Ticker
	done          chan struct{}
	interval      time.Duration
	controls      Controls
	display       Display
	userID        string
	role          submission.Role
	intervalInput string

	drawMu sync.Mutex
	raster *camera.Raster

	inflight sync.WaitGroup
}

func NewSession(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.C
	}
	if opts.Role == "" {
		opts.Role = submission.RoleStudent
	}

	monitor := camera.NewMonitor(opts.Clock)
	monitor.SetCallbacks(
		func(h camera.Health) {
			logger.Log.Warnw("Camera stopped delivering frames",
				"consecutive_failures", h.ConsecutiveFailures,
				"error", h.LastError)
		},
		func(camera.Health) {
			logger.Log.Infow("Camera delivering frames")
		},
	)

	return &Session{
		source:        opts.Source,
		submitter:     opts.Submitter,
		alerter:       opts.Alerter,
		clock:         opts.Clock,
		onDisplay:     opts.OnDisplay,
		monitor:       monitor,
		controls:      Controls{StartEnabled: true, StopEnabled: false},
		userID:        opts.UserID,
		role:          opts.Role,
		intervalInput: opts.Interval,
		raster:        camera.NewRaster(opts.Width, opts.Height, opts.Quality),
	}
}

// Start acquires the camera and begins capturing. If the camera cannot be
// acquired the user is alerted, the controls return to their pre-start
// state and the wrapped camera error is returned. Starting an active
// session is a no-op.
//
// ctx bounds camera acquisition and every submission made by this run.
func (s *Session) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.stream != nil {
		s.mu.Unlock()
		return nil
	}
	s.controls = Controls{StartEnabled: false, StopEnabled: true}
	intervalInput := s.intervalInput
	s.mu.Unlock()

	stream, err := s.source.Open(ctx)
	if err != nil {
		logger.Log.Errorw("Camera error", "error", err)

		s.mu.Lock()
		s.controls = Controls{StartEnabled: true, StopEnabled: false}
		s.mu.Unlock()

		s.alerter.Alert(CameraAlert)
		return fmt.Errorf("start capture: %w", err)
	}

	interval := ParseInterval(intervalInput)
	done := make(chan struct{})

	s.mu.Lock()
	s.stream = stream
	s.interval = interval
	s.done = done
	s.mu.Unlock()

	s.monitor.Reset()
	logger.Log.Infow("Camera started successfully", "interval", interval)
	metrics.CaptureActive.Set(1)

	s.fire(ctx)

	ticker := s.clock.NewTicker(interval)
	s.mu.Lock()
	s.ticker = ticker
	s.mu.Unlock()

	go s.loop(ctx, ticker, done)
	return nil
}

func (s *Session) loop(ctx context.Context, ticker clock.Ticker, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.monitor.Check()
			s.fire(ctx)
		}
	}
}

// fire runs one capture cycle without waiting for it. Cycles may overlap
// when a submission outlives the interval.
func (s *Session) fire(ctx context.Context) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.cycle(ctx)
	}()
}

func (s *Session) cycle(ctx context.Context) {
	s.mu.Lock()
	stream := s.stream
	userID := s.userID
	role := s.role
	s.mu.Unlock()

	if stream == nil {
		metrics.CaptureCycles.WithLabelValues("no_stream").Inc()
		return
	}

	frame, err := stream.Frame()
	if err != nil {
		metrics.CaptureCycles.WithLabelValues("capture_error").Inc()
		logger.Log.Warnw("Frame capture failed", "error", err)
		s.monitor.RecordFailure(err)
		return
	}

	s.drawMu.Lock()
	jpeg, err := s.raster.Draw(frame)
	s.drawMu.Unlock()
	if err != nil {
		metrics.CaptureCycles.WithLabelValues("encode_error").Inc()
		logger.Log.Warnw("Frame encode failed", "error", err)
		s.monitor.RecordFailure(err)
		return
	}
	s.monitor.RecordSuccess()

	sub := submission.New(jpeg, userID, role)
	metrics.CaptureCycles.WithLabelValues("submitted").Inc()

	result, err := s.submitter.Submit(ctx, sub)
	if err != nil {
		logger.Log.Errorw("Error sending frame",
			"user_id", sub.UserID,
			"error", err)
		return
	}

	if !result.OK() {
		logger.Log.Warnw("Server error",
			"status", result.Status,
			"emotion", result.Emotion,
			"message", result.Message)
		return
	}

	s.updateDisplay(result)
}

func (s *Session) updateDisplay(result *submission.Result) {
	d := Display{
		Emotion:    result.Emotion,
		Confidence: result.Confidence,
		Engagement: result.Engagement,
		UpdatedAt:  s.clock.Now(),
	}

	s.mu.Lock()
	s.display = d
	s.mu.Unlock()

	if s.onDisplay != nil {
		s.onDisplay(d)
	}
}

// Stop halts the timer and releases the camera. Submissions already in
// flight are left to finish. Stopping an idle session only resets the
// controls.
func (s *Session) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	stream, ticker, done := s.stream, s.ticker, s.done
	s.stream, s.ticker, s.done = nil, nil, nil
	s.controls = Controls{StartEnabled: true, StopEnabled: false}
	s.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
	}
	if done != nil {
		close(done)
	}
	if stream != nil {
		stream.Stop()
		s.monitor.Reset()
		metrics.CaptureActive.Set(0)
		logger.Log.Info("Camera stopped.")
	}
}

// Wait blocks until every started capture cycle has returned.
func (s *Session) Wait() {
	s.inflight.Wait()
}

// Capturing reports whether a stream and timer are held.
func (s *Session) Capturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

func (s *Session) Controls() Controls {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controls
}

func (s *Session) Display() Display {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.display
}

// CameraHealth reports frame-read health of the current stream.
func (s *Session) CameraHealth() camera.Health {
	return s.monitor.Health()
}

// Interval is the period of the running capture, zero when idle.
func (s *Session) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return 0
	}
	return s.interval
}

func (s *Session) SetUserID(userID string) {
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()
}

func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// SetRole accepts one of submission.Roles.
func (s *Session) SetRole(role string) error {
	r, err := submission.ParseRole(role)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.role = r
	s.mu.Unlock()
	return nil
}

func (s *Session) Role() submission.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// SetIntervalInput stores the raw interval field; it takes effect on the
// next Start.
func (s *Session) SetIntervalInput(input string) {
	s.mu.Lock()
	s.intervalInput = input
	s.mu.Unlock()
}

func (s *Session) IntervalInput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intervalInput
}
