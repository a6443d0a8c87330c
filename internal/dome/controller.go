package dome

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rockit-astro/opsd/internal/clock"
	"github.com/rockit-astro/opsd/internal/config"
	"github.com/rockit-astro/opsd/internal/models"
	"github.com/rockit-astro/opsd/internal/telemetry/events"
	"github.com/rockit-astro/opsd/internal/telemetry/logging"
	"github.com/rockit-astro/opsd/internal/telemetry/metrics"
)

// commRetries is the per-tick retry budget for communication failures.
// Timeouts skip it and elevate to Error immediately.
const commRetries = 3

// Default command and heartbeat timeouts, in seconds, applied when the
// dome config leaves them unset.
const (
	defaultOpenTimeout      = 300
	defaultCloseTimeout     = 300
	defaultMovementTimeout  = 120
	defaultHeartbeatTimeout = 60
)

// Timeouts carries the resolved backend command timeouts.
type Timeouts struct {
	Open, Close, Movement                    time.Duration
	Heartbeat, HeartbeatOpen, HeartbeatClose time.Duration
}

func timeoutsFrom(cfg *config.DomeConfig) Timeouts {
	secs := func(v, def float64) time.Duration {
		if v <= 0 {
			v = def
		}
		return time.Duration(v * float64(time.Second))
	}
	return Timeouts{
		Open:           secs(cfg.OpenTimeout, defaultOpenTimeout),
		Close:          secs(cfg.CloseTimeout, defaultCloseTimeout),
		Movement:       secs(cfg.MovementTimeout, defaultMovementTimeout),
		Heartbeat:      secs(cfg.HeartbeatTimeout, defaultHeartbeatTimeout),
		HeartbeatOpen:  secs(cfg.HeartbeatOpenTimeout, defaultHeartbeatTimeout),
		HeartbeatClose: secs(cfg.HeartbeatCloseTimeout, defaultHeartbeatTimeout),
	}
}

// Controller is the dome mode state machine. All fields are guarded by mu;
// backend calls happen with the lock held because only the tick thread
// reaches them (commands mutate targets and let the next tick act).
type Controller struct {
	mu      sync.Mutex
	backend Backend
	clk     clock.Clock
	log     logging.Logger
	bus     events.Bus

	mode          models.OperationsMode
	requestedMode models.OperationsMode
	status        models.DomeStatus
	statusUpdated time.Time
	window        *models.Window
	intentOpen    bool

	timeouts Timeouts

	mMode metrics.Gauge
}

// ControllerOptions collects the controller dependencies.
type ControllerOptions struct {
	Backend Backend
	Config  *config.DomeConfig
	Clock   clock.Clock
	Logger  logging.Logger
	Bus     events.Bus
	Metrics metrics.Provider
}

// NewController builds a dome controller starting in Manual mode.
func NewController(opts ControllerOptions) *Controller {
	c := &Controller{
		backend:       opts.Backend,
		clk:           opts.Clock,
		log:           opts.Logger,
		bus:           opts.Bus,
		mode:          models.ModeManual,
		requestedMode: models.ModeManual,
		status:        models.DomeClosed,
	}
	if c.clk == nil {
		c.clk = clock.Real()
	}
	if opts.Config != nil {
		c.timeouts = timeoutsFrom(opts.Config)
	} else {
		c.timeouts = timeoutsFrom(&config.DomeConfig{})
	}
	if opts.Metrics != nil {
		c.mMode = opts.Metrics.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "opsd", Subsystem: "dome", Name: "mode", Help: "Dome mode (0 manual, 1 automatic, 2 error)"}})
	}
	c.statusUpdated = c.clk.Now()
	return c
}

// RequestMode asks for Automatic (auto=true) or Manual. An Automatic
// request acknowledges and clears a prior Error. A Manual request is
// refused unless the dome is Closed.
func (c *Controller) RequestMode(auto bool) models.CommandStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if auto {
		c.requestedMode = models.ModeAutomatic
		c.setMode(models.ModeAutomatic)
		return models.Succeeded
	}
	if c.mode == models.ModeError {
		return models.InErrorState
	}
	if c.status != models.DomeClosed {
		return models.DomeNotClosed
	}
	c.requestedMode = models.ModeManual
	c.setMode(models.ModeManual)
	return models.Succeeded
}

// SetWindow replaces the open window. Requires Automatic mode.
func (c *Controller) SetWindow(w models.Window) models.CommandStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == models.ModeError {
		return models.InErrorState
	}
	if c.mode != models.ModeAutomatic {
		return models.DomeNotAutomatic
	}
	if !w.OpenAt.Before(w.CloseAt) {
		return models.Failed
	}
	c.window = &w
	c.publish("window_set", "info", map[string]any{
		"open_at":  w.OpenAt.UTC().Format(time.RFC3339),
		"close_at": w.CloseAt.UTC().Format(time.RFC3339),
	})
	return models.Succeeded
}

// ClearWindow removes any open window.
func (c *Controller) ClearWindow() models.CommandStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.window != nil {
		c.window = nil
		c.publish("window_cleared", "info", nil)
	}
	return models.Succeeded
}

// Window returns the current open window, or nil.
func (c *Controller) Window() *models.Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.window == nil {
		return nil
	}
	w := *c.window
	return &w
}

// RestoreWindow reinstates a previously captured window (schedule
// rollback); nil clears.
func (c *Controller) RestoreWindow(w *models.Window) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window = w
}

// Mode returns the current mode.
func (c *Controller) Mode() models.OperationsMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// IsOpen reports whether the backend last reported Open.
func (c *Controller) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == models.DomeOpen
}

// Status returns the dome block of the status payload.
func (c *Controller) Status() *models.DomeStatusPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := &models.DomeStatusPayload{
		Mode:          c.mode,
		RequestedMode: c.requestedMode,
		Status:        c.status,
		StatusUpdated: models.UTCTime(c.statusUpdated),
	}
	if c.window != nil {
		open := models.UTCTime(c.window.OpenAt)
		closeAt := models.UTCTime(c.window.CloseAt)
		p.RequestedOpenDate = &open
		p.RequestedCloseDate = &closeAt
	}
	return p
}

// Tick reconciles mode, window and heartbeat against the environment
// verdict. Called once per daemon tick from the tick thread.
func (c *Controller) Tick(ctx context.Context, envSafe bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.Now()
	c.pollStatus(ctx, now)

	if c.mode == models.ModeAutomatic {
		// Expired windows are dropped before intent is derived.
		if c.window != nil && !now.Before(c.window.CloseAt) {
			c.window = nil
			c.publish("window_expired", "info", nil)
		}
		wantOpen := c.window != nil && c.window.Contains(now) && envSafe
		if wantOpen != c.intentOpen {
			c.publish("intent_changed", "info", map[string]any{"open": wantOpen})
		}
		c.intentOpen = wantOpen
		c.reconcile(ctx)
	} else {
		c.intentOpen = false
	}

	c.heartbeat(ctx)
}

func (c *Controller) pollStatus(ctx context.Context, now time.Time) {
	var status models.DomeStatus
	err := c.withRetries(func() error {
		var serr error
		status, serr = c.backend.Status(ctx)
		return serr
	})
	if err != nil {
		c.fail(ctx, "dome status poll failed", err)
		return
	}
	// Timeout and Hardware Error stick until an operator acknowledges.
	if c.status == models.DomeTimeout || c.status == models.DomeHardwareError {
		if c.mode != models.ModeError {
			c.statusUpdated = now
			c.status = status
		}
		return
	}
	if status != c.status {
		c.status = status
		c.statusUpdated = now
		c.publish("status_changed", "info", map[string]any{"status": status.String()})
	}
	if status == models.DomeTimeout || status == models.DomeHardwareError {
		c.fail(ctx, "dome backend reported fault", errors.New(status.String()))
	}
}

// reconcile issues open/close commands until the backend matches intent.
func (c *Controller) reconcile(ctx context.Context) {
	if c.mode != models.ModeAutomatic || c.status == models.DomeMoving {
		return
	}
	switch {
	case c.intentOpen && c.status != models.DomeOpen:
		c.command(ctx, "open", func() error { return c.backend.Open(ctx, c.timeouts.Open) })
	case !c.intentOpen && c.status != models.DomeClosed:
		c.command(ctx, "close", func() error { return c.backend.Close(ctx, c.timeouts.Close) })
	}
}

func (c *Controller) command(ctx context.Context, name string, run func() error) {
	err := c.withRetries(run)
	if err == nil {
		if c.log != nil {
			c.log.InfoCtx(ctx, "dome command issued", "command", name)
		}
		// Pick up the state the command produced so status() and this
		// tick's heartbeat already reflect it.
		c.pollStatus(ctx, c.clk.Now())
		return
	}
	if isTimeout(err) {
		c.status = models.DomeTimeout
		c.statusUpdated = c.clk.Now()
	}
	c.fail(ctx, "dome "+name+" failed", err)
}

func (c *Controller) heartbeat(ctx context.Context) {
	if c.mode == models.ModeError {
		return
	}
	timeout := c.timeouts.HeartbeatClose
	switch {
	case c.status == models.DomeMoving:
		timeout = c.timeouts.Heartbeat
	case c.intentOpen:
		timeout = c.timeouts.HeartbeatOpen
	}
	if err := c.withRetries(func() error { return c.backend.Heartbeat(ctx, timeout) }); err != nil {
		c.fail(ctx, "dome heartbeat not acknowledged", err)
	}
}

// withRetries runs op with the communication retry budget; timeouts are
// returned on first occurrence.
func (c *Controller) withRetries(op func() error) error {
	var err error
	for attempt := 0; attempt < commRetries; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if isTimeout(err) {
			return err
		}
	}
	return err
}

func isTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Controller) fail(ctx context.Context, msg string, err error) {
	if c.log != nil {
		c.log.ErrorCtx(ctx, msg, "error", err.Error())
	}
	c.setMode(models.ModeError)
	c.publish("error", "error", map[string]any{"detail": err.Error()})
}

func (c *Controller) setMode(mode models.OperationsMode) {
	if c.mode == mode {
		return
	}
	c.mode = mode
	if c.mMode != nil {
		c.mMode.Set(float64(mode))
	}
	c.publish("mode_changed", "info", map[string]any{"mode": mode.String()})
}

func (c *Controller) publish(eventType, severity string, fields map[string]any) {
	if c.bus == nil {
		return
	}
	_ = c.bus.Publish(events.Event{
		Category: events.CategoryDome,
		Type:     eventType,
		Severity: severity,
		Fields:   fields,
	})
}
