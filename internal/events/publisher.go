// Package events publishes analysis and server status events to the
// configured broker through a circuit breaker.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/T3-Labs/emotion-capture/pkg/circuit"
	"github.com/T3-Labs/emotion-capture/pkg/metrics"
	"github.com/T3-Labs/emotion-capture/pkg/mq"
)

type EventType string

const (
	EventTypeAnalysis     EventType = "analysis"
	EventTypeServerStatus EventType = "server_status"
)

type ServerState string

const (
	ServerStateOnline  ServerState = "online"
	ServerStateOffline ServerState = "offline"
)

// serverStatusKey is the routing key suffix of status events.
const serverStatusKey = "server_status"

// AnalysisEvent describes one successful analysis. FrameKey is set when the
// frame was archived.
type AnalysisEvent struct {
	EventType  EventType `json:"event_type"`
	RequestID  string    `json:"request_id"`
	UserID     string    `json:"user_id"`
	Role       string    `json:"role"`
	Emotion    string    `json:"emotion"`
	Confidence float64   `json:"confidence"`
	Engagement float64   `json:"engagement"`
	Timestamp  time.Time `json:"timestamp"`
	FrameKey   string    `json:"frame_key,omitempty"`
	SizeBytes  int       `json:"size_bytes,omitempty"`
}

type ServerStatusEvent struct {
	EventType EventType   `json:"event_type"`
	Timestamp time.Time   `json:"timestamp"`
	State     ServerState `json:"state"`
	Message   string      `json:"message,omitempty"`
}

// Publisher serialises events and hands them to a broker sink. A publisher
// without a sink is disabled and drops everything.
type Publisher struct {
	sink     mq.Publisher
	sinkName string
	breaker  *circuit.Breaker
}

func NewPublisher(sink mq.Publisher, sinkName string, breaker *circuit.Breaker) *Publisher {
	return &Publisher{sink: sink, sinkName: sinkName, breaker: breaker}
}

func (p *Publisher) Enabled() bool {
	return p.sink != nil
}

func (p *Publisher) PublishAnalysis(ctx context.Context, event AnalysisEvent) error {
	if !p.Enabled() {
		return nil
	}
	event.EventType = EventTypeAnalysis
	return p.publish(ctx, event.UserID, event)
}

func (p *Publisher) PublishServerStatus(ctx context.Context, state ServerState, message string) error {
	if !p.Enabled() {
		return nil
	}
	return p.publish(ctx, serverStatusKey, ServerStatusEvent{
		EventType: EventTypeServerStatus,
		Timestamp: time.Now().UTC(),
		State:     state,
		Message:   message,
	})
}

func (p *Publisher) publish(ctx context.Context, key string, event interface{}) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	start := time.Now()
	send := func() error { return p.sink.Publish(ctx, key, body) }
	if p.breaker != nil {
		err = p.breaker.Call(send)
	} else {
		err = send()
	}
	metrics.PublishLatency.WithLabelValues(p.sinkName).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.EventsPublished.WithLabelValues(p.sinkName, "success").Inc()
	case errors.Is(err, circuit.ErrOpen):
		metrics.EventsPublished.WithLabelValues(p.sinkName, "rejected").Inc()
	default:
		metrics.EventsPublished.WithLabelValues(p.sinkName, "error").Inc()
	}
	return err
}

// BreakerStats reports the guarding breaker, nil when there is none.
func (p *Publisher) BreakerStats() *circuit.BreakerStats {
	if p.breaker == nil {
		return nil
	}
	stats := p.breaker.Stats()
	return &stats
}

func (p *Publisher) Close() error {
	if !p.Enabled() {
		return nil
	}
	return p.sink.Close()
}
