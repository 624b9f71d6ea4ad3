package camera

import (
	"errors"
	"testing"
	"time"

	"github.com/mixer/clock"
	"github.com/stretchr/testify/assert"
)

func TestMonitorMarksDownAfterConsecutiveFailures(t *testing.T) {
	clk := clock.NewMockClock()
	m := NewMonitor(clk)

	var downs, ups int
	m.SetCallbacks(func(Health) { downs++ }, func(Health) { ups++ })

	m.RecordSuccess()
	assert.True(t, m.Health().IsActive)
	assert.Equal(t, clk.Now(), m.Health().LastSuccessfulCapture)
	assert.Equal(t, 1, ups)

	readErr := errors.New("device gone")
	for i := 1; i < DownAfterFailures; i++ {
		m.RecordFailure(readErr)
		assert.True(t, m.Health().IsActive, "failure %d", i)
	}
	m.RecordFailure(readErr)
	m.RecordFailure(readErr)

	h := m.Health()
	assert.False(t, h.IsActive)
	assert.Equal(t, DownAfterFailures+1, h.ConsecutiveFailures)
	assert.Equal(t, readErr, h.LastError)
	assert.Equal(t, 1, downs)

	m.RecordSuccess()
	h = m.Health()
	assert.True(t, h.IsActive)
	assert.Zero(t, h.ConsecutiveFailures)
	assert.NoError(t, h.LastError)
	assert.Equal(t, 2, ups)
}

func TestMonitorDownWithoutFirstFrame(t *testing.T) {
	m := NewMonitor(clock.NewMockClock())
	var downs int
	m.SetCallbacks(func(Health) { downs++ }, nil)

	for i := 0; i < DownAfterFailures; i++ {
		m.RecordFailure(ErrStreamStopped)
	}
	assert.Equal(t, 1, downs)
	assert.True(t, m.Health().LastSuccessfulCapture.IsZero())
}

func TestMonitorCheckStale(t *testing.T) {
	clk := clock.NewMockClock()
	m := NewMonitor(clk)

	assert.False(t, m.Check())

	m.RecordSuccess()
	clk.AddTime(StaleAfter)
	assert.False(t, m.Check())

	clk.AddTime(time.Second)
	assert.True(t, m.Check())

	m.Reset()
	assert.False(t, m.Check())
	assert.Equal(t, Health{}, m.Health())
}
