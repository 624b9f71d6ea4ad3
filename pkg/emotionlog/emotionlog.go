// Package emotionlog persists successful analyses as CSV rows and
// summarises the most recent ones for the dashboard.
package emotionlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/T3-Labs/emotion-capture/pkg/logger"
	"github.com/T3-Labs/emotion-capture/pkg/metrics"
)

// TimestampLayout is the UTC timestamp format written to the log.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// DefaultWindow is how many trailing rows Summary considers.
const DefaultWindow = 500

// RecentInSummary is how many rows a summary carries verbatim.
const RecentInSummary = 20

var Header = []string{"timestamp", "user_id", "role", "emotion", "confidence", "engagement"}

type Record struct {
	Timestamp  time.Time `json:"timestamp"`
	UserID     string    `json:"user_id"`
	Role       string    `json:"role"`
	Emotion    string    `json:"emotion"`
	Confidence float64   `json:"confidence"`
	Engagement float64   `json:"engagement"`
}

func (r Record) row() []string {
	return []string{
		r.Timestamp.UTC().Format(TimestampLayout),
		r.UserID,
		r.Role,
		r.Emotion,
		strconv.FormatFloat(r.Confidence, 'f', -1, 64),
		strconv.FormatFloat(r.Engagement, 'f', -1, 64),
	}
}

func parseRow(row []string) (Record, error) {
	if len(row) < len(Header) {
		return Record{}, fmt.Errorf("row has %d fields, want %d", len(row), len(Header))
	}

	ts, err := time.Parse(TimestampLayout, row[0])
	if err != nil {
		return Record{}, fmt.Errorf("timestamp: %w", err)
	}
	confidence, err := strconv.ParseFloat(row[4], 64)
	if err != nil {
		return Record{}, fmt.Errorf("confidence: %w", err)
	}
	engagement, err := strconv.ParseFloat(row[5], 64)
	if err != nil {
		return Record{}, fmt.Errorf("engagement: %w", err)
	}

	return Record{
		Timestamp:  ts,
		UserID:     row[1],
		Role:       row[2],
		Emotion:    row[3],
		Confidence: confidence,
		Engagement: engagement,
	}, nil
}

type UserEngagement struct {
	UserID     string  `json:"user_id"`
	Engagement float64 `json:"engagement"`
}

// Summary is the dashboard view of the trailing log window.
type Summary struct {
	EmotionCounts       map[string]int   `json:"emotion_counts"`
	AvgEngagementByUser []UserEngagement `json:"avg_engagement_by_user"`
	Recent              []Record         `json:"recent"`
}

func emptySummary() *Summary {
	return &Summary{
		EmotionCounts:       map[string]int{},
		AvgEngagementByUser: []UserEngagement{},
		Recent:              []Record{},
	}
}

// Store appends to and reads from a single CSV file. The file and its
// header are created on the first Append.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Exists reports whether anything has been logged yet.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

func (s *Store) Append(rec Record) (err error) {
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.StorageOperations.WithLabelValues("log_append", status).Inc()
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat log: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(Header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := w.Write(rec.row()); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	w.Flush()
	return w.Error()
}

// Recent returns up to n trailing records, oldest first. A missing file
// yields no records. Malformed rows are skipped.
func (s *Store) Recent(n int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	records := []Record{}
	for line := 1; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read log: %w", err)
		}
		if line == 1 && len(row) > 0 && row[0] == Header[0] {
			continue
		}

		rec, err := parseRow(row)
		if err != nil {
			logger.Log.Debugw("Skipping malformed log row", "line", line, "error", err)
			continue
		}
		records = append(records, rec)
	}

	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}

// Summary aggregates the last window records: counts per emotion and mean
// engagement per user, users in ascending order.
func (s *Store) Summary(window int) (*Summary, error) {
	if window <= 0 {
		window = DefaultWindow
	}

	records, err := s.Recent(window)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return emptySummary(), nil
	}

	return Summarize(records), nil
}

// Summarize builds a Summary over records.
func Summarize(records []Record) *Summary {
	summary := emptySummary()

	type acc struct {
		sum   float64
		count int
	}
	byUser := map[string]*acc{}

	for _, rec := range records {
		summary.EmotionCounts[rec.Emotion]++

		a, ok := byUser[rec.UserID]
		if !ok {
			a = &acc{}
			byUser[rec.UserID] = a
		}
		a.sum += rec.Engagement
		a.count++
	}

	for user, a := range byUser {
		summary.AvgEngagementByUser = append(summary.AvgEngagementByUser, UserEngagement{
			UserID:     user,
			Engagement: a.sum / float64(a.count),
		})
	}
	sort.Slice(summary.AvgEngagementByUser, func(i, j int) bool {
		return summary.AvgEngagementByUser[i].UserID < summary.AvgEngagementByUser[j].UserID
	})

	recent := records
	if len(recent) > RecentInSummary {
		recent = recent[len(recent)-RecentInSummary:]
	}
	summary.Recent = append(summary.Recent, recent...)

	return summary
}
