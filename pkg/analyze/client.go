package analyze

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/T3-Labs/emotion-capture/pkg/metrics"
	"github.com/T3-Labs/emotion-capture/pkg/submission"
)

// maxResponseBytes caps the body read from the analysis endpoint.
const maxResponseBytes = 1 << 20

// Client posts frame submissions to the analysis endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a client for the full /analyze URL.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Endpoint returns the URL submissions are posted to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Submit sends one frame. The response body is decoded whatever the HTTP
// status, since the server reports rejections in the same JSON envelope;
// only transport and decoding problems are errors.
func (c *Client) Submit(ctx context.Context, sub submission.Submission) (*submission.Result, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("analysis endpoint is empty")
	}

	start := time.Now()

	jsonData, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal submission: %w", err)
	}
	metrics.SubmissionSizeBytes.Observe(float64(len(jsonData)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.Submissions.WithLabelValues("transport_error").Inc()
		return nil, fmt.Errorf("failed to send frame: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.Submissions.WithLabelValues("transport_error").Inc()
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result submission.Result
	if err := json.Unmarshal(body, &result); err != nil {
		metrics.Submissions.WithLabelValues("decode_error").Inc()
		return nil, fmt.Errorf("failed to decode response (status code %d): %w", resp.StatusCode, err)
	}

	metrics.SubmitLatency.Observe(time.Since(start).Seconds())
	metrics.Submissions.WithLabelValues(statusLabel(result.Status)).Inc()

	return &result, nil
}

func statusLabel(status string) string {
	switch status {
	case submission.StatusOK, submission.StatusWarning, submission.StatusError:
		return status
	default:
		return "other"
	}
}
