package emotionlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(user, emotion string, engagement float64) Record {
	return Record{
		Timestamp:  time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.UTC),
		UserID:     user,
		Role:       "student",
		Emotion:    emotion,
		Confidence: 0.5,
		Engagement: engagement,
	}
}

func TestAppendCreatesFileWithHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "emotions.csv")
	store := NewStore(path)
	assert.False(t, store.Exists())

	require.NoError(t, store.Append(record("ana", "happy", 0.92)))
	require.NoError(t, store.Append(record("bo,b", "sad", 0.32)))
	assert.True(t, store.Exists())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "timestamp,user_id,role,emotion,confidence,engagement", lines[0])
	assert.Equal(t, "2024-05-06T07:08:09.123456,ana,student,happy,0.5,0.92", lines[1])
	assert.Equal(t, `2024-05-06T07:08:09.123456,"bo,b",student,sad,0.5,0.32`, lines[2])
}

func TestRecentRoundTripAndTail(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "emotions.csv"))
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(record(fmt.Sprintf("u%d", i), "neutral", 0.6)))
	}

	all, err := store.Recent(0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, record("u0", "neutral", 0.6), all[0])

	tail, err := store.Recent(2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "u3", tail[0].UserID)
	assert.Equal(t, "u4", tail[1].UserID)
}

func TestRecentSkipsMalformedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emotions.csv")
	content := "timestamp,user_id,role,emotion,confidence,engagement\n" +
		"2024-05-06T07:08:09.000000,ana,student,happy,0.9,0.92\n" +
		"garbage\n" +
		"2024-05-06T07:08:10.000000,ana,student,sad,x,0.32\n" +
		"2024-05-06T07:08:11.000000,bob,teacher,neutral,0.7,0.6\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	records, err := NewStore(path).Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "happy", records[0].Emotion)
	assert.Equal(t, "teacher", records[1].Role)
}

func TestSummaryMissingFile(t *testing.T) {
	summary, err := NewStore(filepath.Join(t.TempDir(), "none.csv")).Summary(500)
	require.NoError(t, err)

	assert.Empty(t, summary.EmotionCounts)
	assert.NotNil(t, summary.EmotionCounts)
	assert.Empty(t, summary.AvgEngagementByUser)
	assert.NotNil(t, summary.AvgEngagementByUser)
	assert.Empty(t, summary.Recent)
}

func TestSummaryAggregatesWindow(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "emotions.csv"))

	// outside a window of 4
	require.NoError(t, store.Append(record("zed", "angry", 0.18)))

	require.NoError(t, store.Append(record("bob", "happy", 0.92)))
	require.NoError(t, store.Append(record("ana", "sad", 0.32)))
	require.NoError(t, store.Append(record("bob", "neutral", 0.6)))
	require.NoError(t, store.Append(record("ana", "happy", 0.92)))

	summary, err := store.Summary(4)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"happy": 2, "sad": 1, "neutral": 1}, summary.EmotionCounts)
	require.Len(t, summary.AvgEngagementByUser, 2)
	assert.Equal(t, "ana", summary.AvgEngagementByUser[0].UserID)
	assert.InDelta(t, 0.62, summary.AvgEngagementByUser[0].Engagement, 1e-9)
	assert.Equal(t, "bob", summary.AvgEngagementByUser[1].UserID)
	assert.InDelta(t, 0.76, summary.AvgEngagementByUser[1].Engagement, 1e-9)
	assert.Len(t, summary.Recent, 4)
}

func TestSummarizeCapsRecent(t *testing.T) {
	records := make([]Record, 30)
	for i := range records {
		records[i] = record("ana", "happy", 0.92)
	}

	summary := Summarize(records)
	assert.Len(t, summary.Recent, RecentInSummary)
	assert.Equal(t, 30, summary.EmotionCounts["happy"])
}
