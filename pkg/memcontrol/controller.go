// Package memcontrol watches heap usage against a budget and tells the
// analysis server when to shed optional work.
package memcontrol

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/mixer/clock"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/T3-Labs/emotion-capture/pkg/logger"
	"github.com/T3-Labs/emotion-capture/pkg/metrics"
)

type MemoryLevel int

const (
	MemoryNormal MemoryLevel = iota
	MemoryWarning
	MemoryCritical
	MemoryEmergency
)

func (ml MemoryLevel) String() string {
	switch ml {
	case MemoryNormal:
		return "NORMAL"
	case MemoryWarning:
		return "WARNING"
	case MemoryCritical:
		return "CRITICAL"
	case MemoryEmergency:
		return "EMERGENCY"
	default:
		return "UNKNOWN"
	}
}

func (ml MemoryLevel) MarshalText() ([]byte, error) {
	return []byte(ml.String()), nil
}

type MemoryStats struct {
	HeapAllocBytes uint64      `json:"heap_alloc_bytes"`
	SysBytes       uint64      `json:"sys_bytes"`
	NumGC          uint32      `json:"num_gc"`
	UsagePercent   float64     `json:"usage_percent"`
	Level          MemoryLevel `json:"level"`
	Timestamp      time.Time   `json:"timestamp"`
}

type ThresholdConfig struct {
	MaxMemoryMB      uint64
	WarningPercent   float64
	CriticalPercent  float64
	EmergencyPercent float64
	CheckInterval    time.Duration
	// GCCooldown spaces forced collections.
	GCCooldown time.Duration
}

// DefaultThresholds returns the stock levels for a budget of maxMemoryMB.
func DefaultThresholds(maxMemoryMB uint64) ThresholdConfig {
	return ThresholdConfig{
		MaxMemoryMB:      maxMemoryMB,
		WarningPercent:   60.0,
		CriticalPercent:  75.0,
		EmergencyPercent: 85.0,
		CheckInterval:    2 * time.Second,
		GCCooldown:       5 * time.Second,
	}
}

// Controller samples the heap on a ticker. Level changes are logged and
// exported; at Critical and above a GC is forced and memory returned to
// the OS.
type Controller struct {
	mu     sync.RWMutex
	config ThresholdConfig
	level  MemoryLevel
	stats  MemoryStats
	lastGC time.Time

	clock  clock.Clock
	sample func() runtime.MemStats
	gc     func()
}

// NewController budgets maxMemoryMB of heap. Zero picks three quarters of
// physical memory, at least 512MB.
func NewController(maxMemoryMB uint64) *Controller {
	if maxMemoryMB == 0 {
		maxMemoryMB = defaultBudgetMB()
	}
	return newController(DefaultThresholds(maxMemoryMB), clock.C, readMemStats, forceGC)
}

func newController(cfg ThresholdConfig, c clock.Clock, sample func() runtime.MemStats, gc func()) *Controller {
	ctrl := &Controller{
		config: cfg,
		clock:  c,
		sample: sample,
		gc:     gc,
	}

	logger.Log.Infow("Memory controller configured",
		"max_memory_mb", cfg.MaxMemoryMB,
		"warning_percent", cfg.WarningPercent,
		"critical_percent", cfg.CriticalPercent,
		"emergency_percent", cfg.EmergencyPercent)

	return ctrl
}

func defaultBudgetMB() uint64 {
	budget := uint64(512)
	if vm, err := mem.VirtualMemory(); err == nil {
		if mb := vm.Total / 1024 / 1024 * 3 / 4; mb > budget {
			budget = mb
		}
	}
	return budget
}

func readMemStats() runtime.MemStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms
}

func forceGC() {
	runtime.GC()
	debug.FreeOSMemory()
}

// Run samples until ctx is done.
func (c *Controller) Run(ctx context.Context) {
	ticker := c.clock.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()

	c.Check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.Check()
		}
	}
}

// Check takes one sample and acts on it.
func (c *Controller) Check() MemoryStats {
	ms := c.sample()

	c.mu.Lock()
	usage := float64(ms.HeapAlloc) / float64(c.config.MaxMemoryMB*1024*1024) * 100
	stats := MemoryStats{
		HeapAllocBytes: ms.HeapAlloc,
		SysBytes:       ms.Sys,
		NumGC:          ms.NumGC,
		UsagePercent:   usage,
		Level:          c.determineLevel(usage),
		Timestamp:      c.clock.Now(),
	}
	old := c.level
	c.level = stats.Level
	c.stats = stats

	collect := stats.Level >= MemoryCritical && c.clock.Since(c.lastGC) >= c.config.GCCooldown
	if collect {
		c.lastGC = c.clock.Now()
	}
	c.mu.Unlock()

	metrics.MemoryLevel.Set(float64(stats.Level))
	metrics.MemoryUsagePercent.Set(stats.UsagePercent)
	metrics.MemoryAllocMB.Set(float64(stats.HeapAllocBytes) / 1024 / 1024)
	if stats.Level != old {
		logger.Log.Warnw("Memory level changed",
			"old_level", old,
			"new_level", stats.Level,
			"usage_percent", stats.UsagePercent,
			"heap_mb", stats.HeapAllocBytes/1024/1024)
	}
	if collect {
		logger.Log.Infow("Forcing garbage collection", "level", stats.Level)
		c.gc()
		metrics.MemoryGCCount.Inc()
	}

	return stats
}

func (c *Controller) determineLevel(usagePercent float64) MemoryLevel {
	switch {
	case usagePercent >= c.config.EmergencyPercent:
		return MemoryEmergency
	case usagePercent >= c.config.CriticalPercent:
		return MemoryCritical
	case usagePercent >= c.config.WarningPercent:
		return MemoryWarning
	default:
		return MemoryNormal
	}
}

func (c *Controller) Stats() MemoryStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *Controller) Level() MemoryLevel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.level
}

// ShouldShed reports whether optional work (frame archiving, event
// publication) should be skipped.
func (c *Controller) ShouldShed() bool {
	return c.Level() >= MemoryCritical
}

func (c *Controller) Config() ThresholdConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}
