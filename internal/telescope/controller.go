// Package telescope governs telescope mode and the night's action queue.
// A dedicated worker goroutine pops actions and runs them cooperatively;
// every external entry point only mutates target state and wakes it.
package telescope

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rockit-astro/opsd/internal/action"
	"github.com/rockit-astro/opsd/internal/clock"
	"github.com/rockit-astro/opsd/internal/models"
	"github.com/rockit-astro/opsd/internal/telemetry/events"
	"github.com/rockit-astro/opsd/internal/telemetry/logging"
	"github.com/rockit-astro/opsd/internal/telemetry/metrics"
)

// queuedAction pairs an action with its queue identity.
type queuedAction struct {
	id  uuid.UUID
	act action.Action
}

// Controller is the telescope mode state machine and queue owner.
type Controller struct {
	mu            sync.Mutex
	mode          models.OperationsMode
	requestedMode models.OperationsMode
	statusUpdated time.Time

	schedule []*queuedAction
	next     int
	running  action.Action
	domeOpen bool

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	clk clock.Clock
	log logging.Logger
	bus events.Bus

	mMode   metrics.Gauge
	mQueued metrics.Gauge
}

// ControllerOptions collects the controller dependencies.
type ControllerOptions struct {
	Clock   clock.Clock
	Logger  logging.Logger
	Bus     events.Bus
	Metrics metrics.Provider
}

// NewController builds the controller in Manual mode and starts its worker.
func NewController(opts ControllerOptions) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		mode:          models.ModeManual,
		requestedMode: models.ModeManual,
		wake:          make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
		clk:           opts.Clock,
		log:           opts.Logger,
		bus:           opts.Bus,
	}
	if c.clk == nil {
		c.clk = clock.Real()
	}
	if opts.Metrics != nil {
		c.mMode = opts.Metrics.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "opsd", Subsystem: "telescope", Name: "mode", Help: "Telescope mode (0 manual, 1 automatic, 2 error)"}})
		c.mQueued = opts.Metrics.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "opsd", Subsystem: "telescope", Name: "queued_actions", Help: "Actions not yet in a terminal state"}})
	}
	c.statusUpdated = c.clk.Now()
	c.wg.Add(1)
	go c.worker()
	return c
}

// Stop aborts any running action and shuts the worker down.
func (c *Controller) Stop() {
	c.Abort()
	c.cancel()
	c.signal()
	c.wg.Wait()
}

// RequestMode asks for Automatic (auto=true) or Manual. Automatic
// acknowledges and clears a prior Error; switching to Manual aborts the
// running action while pending entries stay queued for a later resume.
func (c *Controller) RequestMode(auto bool) models.CommandStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if auto {
		c.requestedMode = models.ModeAutomatic
		c.setMode(models.ModeAutomatic)
		c.signal()
		return models.Succeeded
	}
	if c.mode == models.ModeError {
		return models.InErrorState
	}
	c.requestedMode = models.ModeManual
	c.setMode(models.ModeManual)
	if c.running != nil {
		c.running.Abort()
	}
	return models.Succeeded
}

// Abort stops the night: the running action is aborted and every pending
// entry is drained to Aborted without executing. Idempotent; returns as
// soon as the flags are set, the worker performs the teardown.
func (c *Controller) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running != nil {
		c.running.Abort()
	}
	for i := c.next; i < len(c.schedule); i++ {
		if c.schedule[i].act.State() == models.ActionPending {
			c.schedule[i].act.Abort()
		}
	}
	c.updateQueueGauge()
}

// QueueActions appends actions to the night's schedule. Requires
// Automatic mode; the append is all-or-nothing.
func (c *Controller) QueueActions(actions []action.Action) models.CommandStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == models.ModeError {
		return models.InErrorState
	}
	if c.mode != models.ModeAutomatic {
		return models.TelescopeNotAutomatic
	}
	for _, act := range actions {
		c.schedule = append(c.schedule, &queuedAction{id: uuid.New(), act: act})
		c.publish("queued", "info", map[string]any{"action": act.Name()})
	}
	c.updateQueueGauge()
	c.signal()
	return models.Succeeded
}

// Tick forwards the dome-open flag into the running action on change.
func (c *Controller) Tick(ctx context.Context, domeOpen bool) {
	c.mu.Lock()
	changed := domeOpen != c.domeOpen
	c.domeOpen = domeOpen
	running := c.running
	c.mu.Unlock()
	if changed && running != nil {
		running.DomeIsOpenChanged(domeOpen)
	}
}

// NotifyProcessedFrame delivers reduced-frame headers to the running
// action and returns its extra header entries, or nil when idle.
func (c *Controller) NotifyProcessedFrame(headers map[string]any) map[string]any {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if running == nil {
		return nil
	}
	return running.NotifyProcessedFrame(headers)
}

// NotifyGuideProfile delivers a guide profile to the running action.
func (c *Controller) NotifyGuideProfile(headers map[string]any, x, y []float64) map[string]any {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if running == nil {
		return nil
	}
	return running.NotifyGuideProfile(headers, x, y)
}

// Mode returns the current mode.
func (c *Controller) Mode() models.OperationsMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// ActionStates lists the schedule's action states in order.
func (c *Controller) ActionStates() []models.ActionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	states := make([]models.ActionState, len(c.schedule))
	for i, qa := range c.schedule {
		states[i] = qa.act.State()
	}
	return states
}

// Status returns the telescope block of the status payload.
func (c *Controller) Status() *models.TelescopeStatusPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := &models.TelescopeStatusPayload{
		Mode:          c.mode,
		RequestedMode: c.requestedMode,
		StatusUpdated: models.UTCTime(c.statusUpdated),
		Schedule:      make([]models.ActionStatusPayload, 0, len(c.schedule)),
	}
	for _, qa := range c.schedule {
		p.Schedule = append(p.Schedule, models.ActionStatusPayload{
			Name:  qa.act.Name(),
			Tasks: qa.act.Tasks(),
			State: qa.act.State(),
		})
	}
	return p
}

func (c *Controller) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Controller) worker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.wake:
		}
		c.drain()
	}
}

// drain runs queued actions until the queue empties or the mode leaves
// Automatic. At most one action is Running at any instant.
func (c *Controller) drain() {
	for {
		c.mu.Lock()
		if c.ctx.Err() != nil || c.mode != models.ModeAutomatic || c.next >= len(c.schedule) {
			c.mu.Unlock()
			return
		}
		qa := c.schedule[c.next]
		if qa.act.State() != models.ActionPending {
			c.next++
			c.mu.Unlock()
			continue
		}
		c.running = qa.act
		domeOpen := c.domeOpen
		c.mu.Unlock()

		qa.act.Start()
		qa.act.DomeIsOpenChanged(domeOpen)
		c.publish("started", "info", map[string]any{"action": qa.act.Name()})
		qa.act.Run(c.ctx)
		state := qa.act.State()

		c.mu.Lock()
		c.running = nil
		c.next++
		c.updateQueueGauge()
		c.mu.Unlock()

		c.publish("finished", severityForState(state), map[string]any{
			"action": qa.act.Name(),
			"state":  state.String(),
		})
		if state == models.ActionError {
			c.mu.Lock()
			c.setMode(models.ModeError)
			c.mu.Unlock()
			if c.log != nil {
				c.log.ErrorCtx(c.ctx, "action failed, telescope entering error mode", "action", qa.act.Name())
			}
			return
		}
	}
}

func (c *Controller) setMode(mode models.OperationsMode) {
	if c.mode == mode {
		return
	}
	c.mode = mode
	c.statusUpdated = c.clk.Now()
	if c.mMode != nil {
		c.mMode.Set(float64(mode))
	}
	c.publish("mode_changed", "info", map[string]any{"mode": mode.String()})
}

func (c *Controller) updateQueueGauge() {
	if c.mQueued == nil {
		return
	}
	pending := 0
	for _, qa := range c.schedule {
		s := qa.act.State()
		if s == models.ActionPending || s == models.ActionRunning {
			pending++
		}
	}
	c.mQueued.Set(float64(pending))
}

func (c *Controller) publish(eventType, severity string, fields map[string]any) {
	if c.bus == nil {
		return
	}
	_ = c.bus.Publish(events.Event{
		Category: events.CategoryTelescope,
		Type:     eventType,
		Severity: severity,
		Fields:   fields,
	})
}

func severityForState(s models.ActionState) string {
	switch s {
	case models.ActionError:
		return "error"
	case models.ActionAborted:
		return "warn"
	default:
		return "info"
	}
}
