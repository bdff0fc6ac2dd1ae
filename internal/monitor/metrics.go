package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	httpserver "github.com/fyrsmithlabs/reqstream/internal/http"
)

// StatusClient polls a reqstream gateway.
type StatusClient struct {
	baseURL string
	client  *http.Client
}

// Sample is one poll of the gateway.
type Sample struct {
	Health httpserver.HealthResponse
	Status httpserver.StatusResponse
	At     time.Time
}

// Listeners returns the number of listeners across every channel.
func (s Sample) Listeners() int {
	n := 0
	for _, ch := range s.Status.Channels {
		n += ch.Listeners
	}
	return n
}

// NewStatusClient creates a client for the gateway at baseURL.
func NewStatusClient(baseURL string) *StatusClient {
	return &StatusClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// Sample fetches health and realtime status.
func (c *StatusClient) Sample(ctx context.Context) (Sample, error) {
	var s Sample
	if err := c.get(ctx, "/health", &s.Health); err != nil {
		return Sample{}, err
	}
	if err := c.get(ctx, "/api/v1/realtime/status", &s.Status); err != nil {
		return Sample{}, err
	}
	s.At = time.Now()
	return s, nil
}

func (c *StatusClient) get(ctx context.Context, path string, out any) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status code %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// EventRate returns deliveries per second between two samples. A counter
// reset (gateway restart) yields 0.
func EventRate(prev, cur Sample) float64 {
	if prev.At.IsZero() || !cur.At.After(prev.At) {
		return 0
	}
	if cur.Status.EventsDelivered < prev.Status.EventsDelivered {
		return 0
	}
	delta := cur.Status.EventsDelivered - prev.Status.EventsDelivered
	return float64(delta) / cur.At.Sub(prev.At).Seconds()
}
