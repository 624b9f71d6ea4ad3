// Package server is the analysis HTTP surface: the /analyze endpoint the
// capture agent posts to, the dashboard pages and their data, and the
// operational endpoints.
package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/mixer/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/T3-Labs/emotion-capture/internal/events"
	"github.com/T3-Labs/emotion-capture/pkg/circuit"
	"github.com/T3-Labs/emotion-capture/pkg/emotionlog"
	"github.com/T3-Labs/emotion-capture/pkg/hub"
	"github.com/T3-Labs/emotion-capture/pkg/logger"
	"github.com/T3-Labs/emotion-capture/pkg/memcontrol"
	"github.com/T3-Labs/emotion-capture/pkg/submission"
	"github.com/T3-Labs/emotion-capture/pkg/worker"
)

// Analyzer turns encoded image bytes into an analysis result.
type Analyzer interface {
	Analyze(data []byte) (*submission.Result, error)
}

// FrameArchive keeps analysed frames for later retrieval.
type FrameArchive interface {
	Enabled() bool
	SaveFrame(ctx context.Context, userID string, timestamp time.Time, data []byte) (string, error)
	Ping(ctx context.Context) error
}

// MemoryGuard decides when post-analysis work is shed.
type MemoryGuard interface {
	ShouldShed() bool
	Stats() memcontrol.MemoryStats
}

// EventSink receives one event per successful analysis.
type EventSink interface {
	PublishAnalysis(ctx context.Context, event events.AnalysisEvent) error
	BreakerStats() *circuit.BreakerStats
}

type Options struct {
	StaticDir string
	Analyzer  Analyzer
	Log       *emotionlog.Store
	// Window is how many trailing log rows /data summarises.
	Window int

	// Optional post-analysis plumbing. Without a pool, frames are neither
	// archived nor published.
	Pool    *worker.Pool
	Archive FrameArchive
	Events  EventSink
	Results *hub.Hub
	Memory  MemoryGuard

	Clock clock.Clock
}

type Server struct {
	app     *fiber.App
	opts    Options
	started time.Time
}

func New(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.C
	}
	if opts.Window <= 0 {
		opts.Window = emotionlog.DefaultWindow
	}

	s := &Server{
		opts:    opts,
		started: opts.Clock.Now(),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Emotion Analysis",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	app.Get("/", s.handlePage("index.html"))
	app.Get("/dashboard", s.handlePage("dashboard.html"))

	app.Post("/analyze", s.handleAnalyze)
	app.Get("/data", s.handleData)
	app.Get("/download_logs", s.handleDownloadLogs)
	app.Get("/health", s.handleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/results", websocket.New(s.handleResultsWS))

	s.app = app
	return s
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(addr string) error {
	logger.Log.Infow("Analysis server listening", "address", addr)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
