package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/T3-Labs/emotion-capture/internal/events"
	"github.com/T3-Labs/emotion-capture/pkg/analysis"
	"github.com/T3-Labs/emotion-capture/pkg/circuit"
	"github.com/T3-Labs/emotion-capture/pkg/emotionlog"
	"github.com/T3-Labs/emotion-capture/pkg/hub"
	"github.com/T3-Labs/emotion-capture/pkg/logger"
	"github.com/T3-Labs/emotion-capture/pkg/memcontrol"
	"github.com/T3-Labs/emotion-capture/pkg/metrics"
	"github.com/T3-Labs/emotion-capture/pkg/submission"
	"github.com/T3-Labs/emotion-capture/pkg/worker"
)

const (
	msgInvalidBody   = "Invalid request body"
	msgInvalidFormat = "Invalid image format"
	msgDecodeFailed  = "Image decoding failed"
	msgAnalysis      = "Analysis failed"
	msgLogMissing    = "Log file not found."
	downloadName     = "emotion_logs.csv"
	archiveTimeout   = 5 * time.Second
)

func (s *Server) handlePage(name string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendFile(filepath.Join(s.opts.StaticDir, name))
	}
}

func reject(c *fiber.Ctx, code int, label, message string) error {
	metrics.Analyses.WithLabelValues(label).Inc()
	return c.Status(code).JSON(submission.Result{
		Status:  submission.StatusError,
		Message: message,
	})
}

func (s *Server) handleAnalyze(c *fiber.Ctx) error {
	var req submission.Submission
	if err := c.BodyParser(&req); err != nil {
		return reject(c, fiber.StatusBadRequest, "bad_request", msgInvalidBody)
	}

	userID := submission.NormalizeUserID(req.UserID)
	role := strings.TrimSpace(string(req.Role))
	if role == "" {
		role = string(submission.RoleStudent)
	}

	data, err := submission.DecodeDataURL(req.Image)
	if errors.Is(err, submission.ErrInvalidImageFormat) {
		return reject(c, fiber.StatusBadRequest, "bad_request", msgInvalidFormat)
	}
	if err != nil {
		logger.Log.Warnw("Image payload rejected", "user_id", userID, "error", err)
		return reject(c, fiber.StatusBadRequest, "bad_request", msgDecodeFailed)
	}

	result, err := s.opts.Analyzer.Analyze(data)
	if errors.Is(err, analysis.ErrDecode) {
		logger.Log.Warnw("Image decoding failed", "user_id", userID, "error", err)
		return reject(c, fiber.StatusBadRequest, "bad_request", msgDecodeFailed)
	}
	if err != nil {
		logger.Log.Errorw("Analysis failed", "user_id", userID, "error", err)
		return reject(c, fiber.StatusInternalServerError, "error", msgAnalysis)
	}

	metrics.Analyses.WithLabelValues(result.Status).Inc()
	if !result.OK() {
		return c.JSON(result)
	}

	rec := emotionlog.Record{
		Timestamp:  s.opts.Clock.Now().UTC(),
		UserID:     userID,
		Role:       role,
		Emotion:    result.Emotion,
		Confidence: result.Confidence,
		Engagement: result.Engagement,
	}
	metrics.DominantEmotions.WithLabelValues(rec.Emotion, rec.Role).Inc()

	if err := s.opts.Log.Append(rec); err != nil {
		logger.Log.Errorw("Failed to append emotion log", "path", s.opts.Log.Path(), "error", err)
	}

	if s.opts.Results != nil {
		if err := s.opts.Results.BroadcastJSON(rec); err != nil {
			logger.Log.Warnw("Failed to broadcast result", "error", err)
		}
	}

	s.dispatch(uuid.NewString(), rec, data)
	return c.JSON(result)
}

// dispatch hands archiving and event publication to the worker pool so the
// response does not wait on Redis or the broker.
func (s *Server) dispatch(requestID string, rec emotionlog.Record, frame []byte) {
	if s.opts.Pool == nil || (s.opts.Archive == nil && s.opts.Events == nil) {
		return
	}
	if s.opts.Memory != nil && s.opts.Memory.ShouldShed() {
		metrics.JobsDropped.WithLabelValues("memory_pressure").Inc()
		logger.Log.Debugw("Post-analysis job shed under memory pressure", "request_id", requestID)
		return
	}

	job := worker.JobFunc{
		Name: requestID,
		Fn: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
			defer cancel()

			var frameKey string
			if s.opts.Archive != nil {
				key, err := s.opts.Archive.SaveFrame(ctx, rec.UserID, rec.Timestamp, frame)
				if err != nil {
					logger.Log.Warnw("Frame not archived", "request_id", requestID, "error", err)
				}
				frameKey = key
			}

			if s.opts.Events == nil {
				return nil
			}
			return s.opts.Events.PublishAnalysis(ctx, events.AnalysisEvent{
				RequestID:  requestID,
				UserID:     rec.UserID,
				Role:       rec.Role,
				Emotion:    rec.Emotion,
				Confidence: rec.Confidence,
				Engagement: rec.Engagement,
				Timestamp:  rec.Timestamp,
				FrameKey:   frameKey,
				SizeBytes:  len(frame),
			})
		},
	}

	if err := s.opts.Pool.Submit(job); err != nil {
		logger.Log.Warnw("Post-analysis job not queued", "request_id", requestID, "error", err)
	}
}

func (s *Server) handleData(c *fiber.Ctx) error {
	summary, err := s.opts.Log.Summary(s.opts.Window)
	if err != nil {
		logger.Log.Errorw("Failed to summarise emotion log", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status":  submission.StatusError,
			"message": "Failed to read log",
		})
	}
	return c.JSON(summary)
}

func (s *Server) handleDownloadLogs(c *fiber.Ctx) error {
	if !s.opts.Log.Exists() {
		return c.Status(fiber.StatusNotFound).SendString(msgLogMissing)
	}
	return c.Download(s.opts.Log.Path(), downloadName)
}

type ProcessStats struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	Goroutines int     `json:"goroutines"`
}

type Health struct {
	Status        string                  `json:"status"`
	UptimeSeconds float64                 `json:"uptime_seconds"`
	Process       ProcessStats            `json:"process"`
	Workers       *worker.PoolStats       `json:"workers,omitempty"`
	Breaker       *circuit.BreakerStats   `json:"breaker,omitempty"`
	Memory        *memcontrol.MemoryStats `json:"memory,omitempty"`
	Archive       string                  `json:"archive"`
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	h := Health{
		Status:        "ok",
		UptimeSeconds: s.opts.Clock.Since(s.started).Seconds(),
		Process:       processStats(),
		Archive:       "disabled",
	}

	if s.opts.Pool != nil {
		stats := s.opts.Pool.Stats()
		h.Workers = &stats
	}
	if s.opts.Events != nil {
		h.Breaker = s.opts.Events.BreakerStats()
	}
	if s.opts.Memory != nil {
		stats := s.opts.Memory.Stats()
		h.Memory = &stats
		if s.opts.Memory.ShouldShed() {
			h.Status = "degraded"
		}
	}
	if s.opts.Archive != nil && s.opts.Archive.Enabled() {
		h.Archive = "ok"
		if err := s.opts.Archive.Ping(c.UserContext()); err != nil {
			h.Archive = err.Error()
			h.Status = "degraded"
		}
	}

	return c.JSON(h)
}

func processStats() ProcessStats {
	stats := ProcessStats{Goroutines: runtime.NumGoroutine()}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return stats
	}
	if mem, err := proc.MemoryInfo(); err == nil {
		stats.RSSBytes = mem.RSS
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	return stats
}

func (s *Server) handleResultsWS(conn *websocket.Conn) {
	if s.opts.Results == nil {
		conn.Close()
		return
	}
	client, err := hub.NewClient(s.opts.Results, conn)
	if err != nil {
		logger.Log.Warnw("Rejecting websocket client", "error", err)
		conn.Close()
		return
	}
	client.Run()
}
