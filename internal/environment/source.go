package environment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rockit-astro/opsd/internal/models"
)

// Reading is one sensor.parameter value published by the environment daemon.
type Reading struct {
	Value float64 `json:"value"`
	// Unsafe is the sensor's own limit flag; absent means the parameter
	// carries no safety semantics of its own.
	Unsafe *bool `json:"unsafe,omitempty"`
	// Date is when the sensor last reported.
	Date models.UTCTime `json:"date"`
	// Cadence is the sensor's reporting interval in seconds, if known.
	Cadence float64 `json:"cadence,omitempty"`
}

// Data is the raw dictionary published by the environment daemon, keyed by
// sensor daemon then parameter.
type Data map[string]map[string]Reading

// Source fetches the raw environment dictionary.
type Source interface {
	Fetch(ctx context.Context) (Data, error)
}

// HTTPSource polls an environment daemon over HTTP.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

// NewHTTPSource builds a source with a poll-sized timeout.
func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{URL: url, Client: &http.Client{Timeout: 5 * time.Second}}
}

func (s *HTTPSource) Fetch(ctx context.Context) (Data, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polling environment daemon: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("environment daemon returned %s", resp.Status)
	}
	var data Data
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decoding environment data: %w", err)
	}
	return data, nil
}
