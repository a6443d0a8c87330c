package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rockit-astro/opsd/internal/models"
)

// Client speaks the daemon's RPC surface. Transport failures map to the
// CommunicationError command status so callers only ever see the taxonomy.
type Client struct {
	base string
	http *http.Client
}

// NewClient targets the daemon at base (e.g. "http://obs-server:9700").
func NewClient(base string) *Client {
	return &Client{base: base, http: &http.Client{Timeout: 30 * time.Second}}
}

func commError(err error) models.CommandResult {
	res := models.Result(models.CommunicationError)
	res.Errors = []string{err.Error()}
	return res
}

func (c *Client) postResult(path string, body any) models.CommandResult {
	payload, err := json.Marshal(body)
	if err != nil {
		return models.ResultErrors(models.Failed, []string{err.Error()})
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return commError(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return commError(fmt.Errorf("daemon returned %s", resp.Status))
	}
	var res models.CommandResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return commError(err)
	}
	return res
}

// Status fetches the full status payload.
func (c *Client) Status() (models.StatusPayload, error) {
	resp, err := c.http.Get(c.base + "/status")
	if err != nil {
		return models.StatusPayload{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return models.StatusPayload{}, fmt.Errorf("daemon returned %s", resp.Status)
	}
	var p models.StatusPayload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return models.StatusPayload{}, err
	}
	return p, nil
}

// StatusJSON fetches the raw status document.
func (c *Client) StatusJSON() ([]byte, error) {
	resp, err := c.http.Get(c.base + "/status")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("daemon returned %s", resp.Status)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DomeControl toggles dome mode.
func (c *Client) DomeControl(auto bool) models.CommandResult {
	return c.postResult("/dome/control", controlRequest{Automatic: auto})
}

// TelControl toggles telescope mode.
func (c *Client) TelControl(auto bool) models.CommandResult {
	return c.postResult("/telescope/control", controlRequest{Automatic: auto})
}

// StopTelescope aborts the running action and drains the queue.
func (c *Client) StopTelescope() models.CommandResult {
	return c.postResult("/telescope/stop", struct{}{})
}

// SetDomeWindow sets the dome open window.
func (c *Client) SetDomeWindow(open, close time.Time) models.CommandResult {
	return c.postResult("/dome/window", windowRequest{
		Open:  models.UTCTime(open),
		Close: models.UTCTime(close),
	})
}

// ClearDomeWindow removes the dome open window.
func (c *Client) ClearDomeWindow() models.CommandResult {
	return c.postResult("/dome/clear_window", struct{}{})
}

// Schedule submits a raw schedule document.
func (c *Client) Schedule(raw []byte) models.CommandResult {
	return c.postRaw("/schedule", raw)
}

// Validate checks a raw schedule document without committing it.
func (c *Client) Validate(raw []byte) models.CommandResult {
	return c.postRaw("/schedule/validate", raw)
}

func (c *Client) postRaw(path string, raw []byte) models.CommandResult {
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		return commError(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var res models.CommandResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return commError(err)
	}
	return res
}

// RunScript runs a named site script.
func (c *Client) RunScript(name string, args []string) models.CommandResult {
	return c.postResult("/script", scriptRequest{Name: name, Args: args})
}

// NotifyProcessedFrame delivers reduced-frame headers; the returned map
// holds extra header entries, nil when no action consumed them.
func (c *Client) NotifyProcessedFrame(headers map[string]any) (map[string]any, error) {
	return c.postNotification("/pipeline/frame", frameNotification{Headers: headers})
}

// NotifyGuideProfiles delivers a guide profile.
func (c *Client) NotifyGuideProfiles(headers map[string]any, x, y []float64) (map[string]any, error) {
	return c.postNotification("/pipeline/guide", guideNotification{Headers: headers, X: x, Y: y})
}

func (c *Client) postNotification(path string, body any) (map[string]any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	var res notificationResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	return res.Headers, nil
}
