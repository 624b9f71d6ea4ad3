package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Memory controller of the analysis server.
var (
	MemoryUsagePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "emotion_memory_usage_percent",
		Help: "Heap in use as a percentage of the configured budget",
	})

	MemoryAllocMB = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "emotion_memory_alloc_mb",
		Help: "Heap allocated in megabytes",
	})

	MemoryLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "emotion_memory_level",
		Help: "Memory pressure level (0=normal, 1=warning, 2=critical, 3=emergency)",
	})

	MemoryGCCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "emotion_memory_gc_total",
		Help: "Garbage collections forced by the memory controller",
	})
)
