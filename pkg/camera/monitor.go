package camera

import (
	"sync"
	"time"

	"github.com/T3-Labs/emotion-capture/pkg/logger"
	"github.com/T3-Labs/emotion-capture/pkg/metrics"
	"github.com/mixer/clock"
)

const (
	// DownAfterFailures consecutive failed frames mark the camera down.
	DownAfterFailures = 3
	// StaleAfter is how long an active camera may go without a frame
	// before Check warns.
	StaleAfter = 5 * time.Minute
)

// Health is the capture state of the session's camera.
type Health struct {
	IsActive              bool
	LastSuccessfulCapture time.Time
	ConsecutiveFailures   int
	LastError             error
}

// Monitor tracks frame reads of one open stream and flags the camera down
// after DownAfterFailures failures in a row.
type Monitor struct {
	clock clock.Clock

	mu     sync.RWMutex
	health Health

	onDown func(Health)
	onUp   func(Health)
}

func NewMonitor(clk clock.Clock) *Monitor {
	if clk == nil {
		clk = clock.C
	}
	return &Monitor{clock: clk}
}

// SetCallbacks registers transition hooks. They run on the recording
// goroutine, after the monitor's lock is released.
func (m *Monitor) SetCallbacks(onDown, onUp func(Health)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDown = onDown
	m.onUp = onUp
}

// Reset forgets all state; used when a stream is opened or released.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.health = Health{}
	m.mu.Unlock()

	metrics.CameraConnected.Set(0)
	metrics.CameraConsecutiveFailures.Set(0)
}

func (m *Monitor) RecordSuccess() {
	now := m.clock.Now()

	m.mu.Lock()
	cameUp := !m.health.IsActive
	m.health = Health{IsActive: true, LastSuccessfulCapture: now}
	health, onUp := m.health, m.onUp
	m.mu.Unlock()

	metrics.LastSuccessfulCapture.Set(float64(now.Unix()))
	metrics.CameraConnected.Set(1)
	metrics.CameraConsecutiveFailures.Set(0)

	if cameUp && onUp != nil {
		onUp(health)
	}
}

func (m *Monitor) RecordFailure(err error) {
	m.mu.Lock()
	m.health.ConsecutiveFailures++
	m.health.LastError = err
	wentDown := m.health.ConsecutiveFailures == DownAfterFailures
	if m.health.ConsecutiveFailures >= DownAfterFailures {
		m.health.IsActive = false
	}
	health, onDown := m.health, m.onDown
	m.mu.Unlock()

	metrics.CameraConsecutiveFailures.Set(float64(health.ConsecutiveFailures))
	if !health.IsActive {
		metrics.CameraConnected.Set(0)
	}

	if wentDown && onDown != nil {
		onDown(health)
	}
}

func (m *Monitor) Health() Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health
}

// Check warns when the camera is marked active but no frame has been read
// for StaleAfter. It reports whether the camera looks stale.
func (m *Monitor) Check() bool {
	health := m.Health()
	if !health.IsActive {
		return false
	}

	since := m.clock.Since(health.LastSuccessfulCapture)
	if since <= StaleAfter {
		return false
	}
	logger.Log.Warnw("Camera active but no recent captures",
		"time_since_capture", since.String())
	return true
}
