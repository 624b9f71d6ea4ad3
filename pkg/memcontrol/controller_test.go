package memcontrol

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mixer/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mb = 1024 * 1024

type harness struct {
	ctrl  *Controller
	clock *clock.MockClock
	heap  atomic.Uint64
	gcs   atomic.Int32
}

func newHarness(maxMB uint64) *harness {
	h := &harness{clock: clock.NewMockClock()}
	sample := func() runtime.MemStats {
		return runtime.MemStats{HeapAlloc: h.heap.Load(), Sys: 2 * h.heap.Load()}
	}
	h.ctrl = newController(DefaultThresholds(maxMB), h.clock, sample, func() { h.gcs.Add(1) })
	return h
}

func TestMemoryLevelString(t *testing.T) {
	assert.Equal(t, "NORMAL", MemoryNormal.String())
	assert.Equal(t, "WARNING", MemoryWarning.String())
	assert.Equal(t, "CRITICAL", MemoryCritical.String())
	assert.Equal(t, "EMERGENCY", MemoryEmergency.String())
	assert.Equal(t, "UNKNOWN", MemoryLevel(99).String())
}

func TestNewControllerDefaultBudget(t *testing.T) {
	c := NewController(0)
	assert.GreaterOrEqual(t, c.Config().MaxMemoryMB, uint64(512))

	c = NewController(256)
	assert.Equal(t, uint64(256), c.Config().MaxMemoryMB)
}

func TestCheckLevels(t *testing.T) {
	tests := []struct {
		heapMB uint64
		want   MemoryLevel
	}{
		{10, MemoryNormal},
		{59, MemoryNormal},
		{60, MemoryWarning},
		{75, MemoryCritical},
		{85, MemoryEmergency},
		{120, MemoryEmergency},
	}

	for _, tt := range tests {
		h := newHarness(100)
		h.heap.Store(tt.heapMB * mb)

		stats := h.ctrl.Check()
		assert.Equal(t, tt.want, stats.Level, "heap %dMB", tt.heapMB)
		assert.Equal(t, tt.want, h.ctrl.Level())
		assert.InDelta(t, float64(tt.heapMB), stats.UsagePercent, 1e-9)
	}
}

func TestShouldShed(t *testing.T) {
	h := newHarness(100)

	h.heap.Store(70 * mb)
	h.ctrl.Check()
	assert.False(t, h.ctrl.ShouldShed())

	h.heap.Store(80 * mb)
	h.ctrl.Check()
	assert.True(t, h.ctrl.ShouldShed())

	h.heap.Store(20 * mb)
	h.ctrl.Check()
	assert.False(t, h.ctrl.ShouldShed())
}

func TestForcedGCRespectsCooldown(t *testing.T) {
	h := newHarness(100)
	h.clock.AddTime(time.Minute)
	h.heap.Store(90 * mb)

	h.ctrl.Check()
	h.ctrl.Check()
	assert.Equal(t, int32(1), h.gcs.Load())

	h.clock.AddTime(5 * time.Second)
	h.ctrl.Check()
	assert.Equal(t, int32(2), h.gcs.Load())

	h.heap.Store(65 * mb)
	h.clock.AddTime(time.Minute)
	h.ctrl.Check()
	assert.Equal(t, int32(2), h.gcs.Load())
}

func TestRunSamplesUntilCanceled(t *testing.T) {
	h := newHarness(100)
	h.heap.Store(90 * mb)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		h.ctrl.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return h.ctrl.Level() == MemoryEmergency }, time.Second, 5*time.Millisecond)

	h.heap.Store(10 * mb)
	require.Eventually(t, func() bool {
		h.clock.AddTime(2 * time.Second)
		return h.ctrl.Level() == MemoryNormal
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
