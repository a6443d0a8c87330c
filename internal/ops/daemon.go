// Package ops composes the environment watcher and the dome and telescope
// controllers into the operations daemon: one periodic tick drives
// reconciliation, and every remote command competes for a single try-lock
// so exactly one mutation interacts with the loops at a time.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rockit-astro/opsd/internal/clock"
	"github.com/rockit-astro/opsd/internal/config"
	"github.com/rockit-astro/opsd/internal/dome"
	"github.com/rockit-astro/opsd/internal/environment"
	"github.com/rockit-astro/opsd/internal/models"
	"github.com/rockit-astro/opsd/internal/schedule"
	"github.com/rockit-astro/opsd/internal/script"
	"github.com/rockit-astro/opsd/internal/telemetry/events"
	"github.com/rockit-astro/opsd/internal/telemetry/logging"
	"github.com/rockit-astro/opsd/internal/telemetry/metrics"
	"github.com/rockit-astro/opsd/internal/telemetry/tracing"
	"github.com/rockit-astro/opsd/internal/telescope"
)

// Daemon is the operations controller.
type Daemon struct {
	cfg    *config.Config
	clk    clock.Clock
	log    logging.Logger
	bus    events.Bus
	tracer tracing.Tracer

	env  *environment.Watcher
	dome *dome.Controller
	tel  *telescope.Controller

	watcher *config.Watcher

	commandMu sync.Mutex
	wake      chan struct{}

	lastTick atomic.Int64 // unix nanos of the last completed tick

	mTick     func() metrics.Timer
	mCommands metrics.Counter
}

// Options collects the daemon dependencies. Source and DomeBackend
// override the config-derived defaults, mainly for tests.
type Options struct {
	Config      *config.Config
	Clock       clock.Clock
	Logger      logging.Logger
	Bus         events.Bus
	Metrics     metrics.Provider
	Tracer      tracing.Tracer
	Source      environment.Source
	DomeBackend dome.Backend
	Watcher     *config.Watcher
}

// New composes the daemon from its controllers.
func New(opts Options) (*Daemon, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	d := &Daemon{
		cfg:     cfg,
		clk:     opts.Clock,
		log:     opts.Logger,
		bus:     opts.Bus,
		tracer:  opts.Tracer,
		watcher: opts.Watcher,
		wake:    make(chan struct{}, 1),
	}
	if d.clk == nil {
		d.clk = clock.Real()
	}
	if d.tracer == nil {
		d.tracer = tracing.NewTracer(true)
	}

	source := opts.Source
	if source == nil {
		source = environment.NewHTTPSource(cfg.EnvironmentDaemon)
	}
	d.env = environment.NewWatcher(environment.Options{
		Conditions: cfg.EnvironmentConditions,
		GraceTicks: cfg.EnvironmentGraceTicks,
		Source:     source,
		Clock:      d.clk,
		Logger:     d.log,
		Bus:        d.bus,
		Metrics:    opts.Metrics,
	})

	if cfg.Dome != nil {
		backend := opts.DomeBackend
		if backend == nil {
			var err error
			if backend, err = dome.New(cfg.Dome.Module, cfg.Dome.Params); err != nil {
				return nil, fmt.Errorf("constructing dome backend: %w", err)
			}
		}
		d.dome = dome.NewController(dome.ControllerOptions{
			Backend: backend,
			Config:  cfg.Dome,
			Clock:   d.clk,
			Logger:  d.log,
			Bus:     d.bus,
			Metrics: opts.Metrics,
		})
	}

	d.tel = telescope.NewController(telescope.ControllerOptions{
		Clock:   d.clk,
		Logger:  d.log,
		Bus:     d.bus,
		Metrics: opts.Metrics,
	})

	if opts.Metrics != nil {
		d.mTick = opts.Metrics.NewTimer(metrics.HistogramOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "opsd", Subsystem: "ops", Name: "tick_seconds", Help: "Tick duration"}})
		d.mCommands = opts.Metrics.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "opsd", Subsystem: "ops", Name: "commands_total", Help: "Remote commands by method and result",
			Labels: []string{"method", "result"}}})
	}
	return d, nil
}

// Run drives the periodic tick until ctx is cancelled. Mutating commands
// wake the loop early so new targets take effect without waiting out the
// full loop delay.
func (d *Daemon) Run(ctx context.Context) error {
	if d.log != nil {
		d.log.InfoCtx(ctx, "operations daemon started",
			"daemon", d.cfg.Daemon, "loop_delay", d.cfg.TickInterval().String())
	}
	for {
		d.RunTick(ctx)
		select {
		case <-ctx.Done():
			d.Close()
			return ctx.Err()
		case <-d.wake:
		case <-time.After(d.cfg.TickInterval()):
		}
	}
}

// RunTick executes one reconciliation pass. Failures inside a tick are
// reduced to controller error state and a log line; they never escape.
func (d *Daemon) RunTick(ctx context.Context) {
	ctx, span := d.tracer.StartSpan(ctx, "ops.tick")
	defer span.End()
	defer func() {
		if r := recover(); r != nil && d.log != nil {
			d.log.ErrorCtx(ctx, "tick panicked", "panic", fmt.Sprint(r))
		}
	}()
	var timer metrics.Timer
	if d.mTick != nil {
		timer = d.mTick()
	}

	snap := d.env.Poll(ctx)
	if d.dome != nil {
		d.dome.Tick(ctx, snap.Safe)
	}
	d.tel.Tick(ctx, d.dome != nil && d.dome.IsOpen())

	d.lastTick.Store(d.clk.Now().UnixNano())
	if timer != nil {
		timer.ObserveDuration()
	}
}

// Close releases the controllers' background resources. Run calls it on
// its way out; tests that drive ticks directly call it themselves.
func (d *Daemon) Close() { d.tel.Stop() }

// Wake nudges the tick loop to run immediately.
func (d *Daemon) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// command serializes a mutating command behind the try-lock. A held lock
// returns Blocked immediately; there is no queueing.
func (d *Daemon) command(name string, fn func(ctx context.Context) models.CommandResult) models.CommandResult {
	if !d.commandMu.TryLock() {
		return models.Result(models.Blocked)
	}
	defer d.commandMu.Unlock()
	ctx, span := d.tracer.StartSpan(context.Background(), "ops."+name)
	defer span.End()

	res := fn(ctx)

	if d.mCommands != nil {
		d.mCommands.Inc(1, name, fmt.Sprint(int(res.Code)))
	}
	if d.bus != nil {
		_ = d.bus.Publish(events.Event{
			Category: events.CategoryCommand,
			Type:     name,
			Severity: commandSeverity(res.Code),
			Fields:   map[string]any{"code": int(res.Code), "message": res.Message},
		})
	}
	if res.Code == models.Succeeded {
		d.Wake()
	}
	return res
}

func commandSeverity(code models.CommandStatus) string {
	if code == models.Succeeded {
		return "info"
	}
	return "warn"
}

// DomeControl requests automatic or manual dome mode.
func (d *Daemon) DomeControl(auto bool) models.CommandResult {
	return d.command("dome_control", func(ctx context.Context) models.CommandResult {
		if d.dome == nil {
			return models.Result(models.Failed)
		}
		return models.Result(d.dome.RequestMode(auto))
	})
}

// TelControl requests automatic or manual telescope mode.
func (d *Daemon) TelControl(auto bool) models.CommandResult {
	return d.command("tel_control", func(ctx context.Context) models.CommandResult {
		return models.Result(d.tel.RequestMode(auto))
	})
}

// StopTelescope aborts the running action and drains the queue.
func (d *Daemon) StopTelescope() models.CommandResult {
	return d.command("stop_telescope", func(ctx context.Context) models.CommandResult {
		d.tel.Abort()
		return models.Result(models.Succeeded)
	})
}

// ClearDomeWindow removes any scheduled open window.
func (d *Daemon) ClearDomeWindow() models.CommandResult {
	return d.command("clear_dome_window", func(ctx context.Context) models.CommandResult {
		if d.dome == nil {
			return models.Result(models.Failed)
		}
		return models.Result(d.dome.ClearWindow())
	})
}

// SetDomeWindow sets or replaces the open window directly. A zero openAt
// means now; a zero closeAt means the end of tonight's darkness. A window
// that has already begun requires the environment to be safe, matching
// the schedule path.
func (d *Daemon) SetDomeWindow(openAt, closeAt time.Time) models.CommandResult {
	return d.command("set_dome_window", func(ctx context.Context) models.CommandResult {
		if d.dome == nil {
			return models.Result(models.Failed)
		}
		now := d.clk.Now()
		if openAt.IsZero() {
			openAt = now
		}
		if closeAt.IsZero() {
			night := schedule.Tonight(now, d.cfg.SiteLongitude)
			_, end, err := schedule.NightStartEnd(night, d.cfg.SiteLatitude, d.cfg.SiteLongitude, d.cfg.SunAltitudeLimit)
			if err != nil || !now.Before(end) {
				return models.ResultErrors(models.Failed, []string{"no darkness remains tonight"})
			}
			closeAt = end
		}
		w := models.Window{OpenAt: openAt, CloseAt: closeAt}
		if !w.OpenAt.Before(w.CloseAt) {
			return models.ResultErrors(models.InvalidSchedule, []string{"open time must be before close time"})
		}
		if w.Contains(d.clk.Now()) && !d.env.Current().Safe {
			return models.Result(models.EnvironmentNotSafe)
		}
		return models.Result(d.dome.SetWindow(w))
	})
}

// ValidateSchedule validates raw schedule JSON without committing it.
func (d *Daemon) ValidateSchedule(raw json.RawMessage) models.CommandResult {
	s, err := schedule.Parse(raw)
	if err != nil {
		return models.ResultErrors(models.InvalidSchedule, []string{err.Error()})
	}
	if errs := schedule.Validate(s, d.cfg, true); len(errs) > 0 {
		return models.ResultErrors(models.InvalidSchedule, errs)
	}
	return models.Result(models.Succeeded)
}

// ScheduleObservations validates and commits a schedule: the dome window
// and the action queue commit together or not at all.
func (d *Daemon) ScheduleObservations(raw json.RawMessage) models.CommandResult {
	return d.command("schedule_observations", func(ctx context.Context) models.CommandResult {
		s, err := schedule.Parse(raw)
		if err != nil {
			return models.ResultErrors(models.InvalidSchedule, []string{err.Error()})
		}
		return d.commitSchedule(ctx, s)
	})
}

// RunScript expands a named site script into a schedule and commits it.
func (d *Daemon) RunScript(name string, args []string) models.CommandResult {
	return d.command("run_script", func(ctx context.Context) models.CommandResult {
		module, ok := script.LookupModule(d.cfg.ScriptsModule)
		if !ok {
			return models.ResultErrors(models.Failed, []string{"no scripts module configured"})
		}
		sc, ok := module.Lookup(name)
		if !ok {
			return models.ResultErrors(models.Failed, []string{fmt.Sprintf("unknown script %q", name)})
		}
		s, err := sc.Run(script.Context{
			Now:              d.clk.Now(),
			SiteLatitude:     d.cfg.SiteLatitude,
			SiteLongitude:    d.cfg.SiteLongitude,
			SunAltitudeLimit: d.cfg.SunAltitudeLimit,
			Args:             args,
		})
		if err != nil {
			return models.ResultErrors(models.Failed, []string{err.Error()})
		}
		return d.commitSchedule(ctx, s)
	})
}

// commitSchedule is the shared atomic commit: validation, the in-window
// safety gate, dome window, then action queueing with window rollback on
// failure. Callers hold the command lock.
func (d *Daemon) commitSchedule(ctx context.Context, s models.Schedule) models.CommandResult {
	if errs := schedule.Validate(s, d.cfg, true); len(errs) > 0 {
		return models.ResultErrors(models.InvalidSchedule, errs)
	}
	window := schedule.DomeWindow(s)
	actions, err := schedule.Actions(s, d.cfg)
	if err != nil {
		return models.ResultErrors(models.InvalidSchedule, []string{err.Error()})
	}

	var prev *models.Window
	if window != nil {
		if d.dome == nil {
			return models.Result(models.DomeNotAutomatic)
		}
		if window.Contains(d.clk.Now()) && !d.env.Current().Safe {
			return models.Result(models.EnvironmentNotSafe)
		}
		prev = d.dome.Window()
		if st := d.dome.SetWindow(*window); st != models.Succeeded {
			return models.Result(st)
		}
	}
	if len(actions) > 0 {
		if st := d.tel.QueueActions(actions); st != models.Succeeded {
			if window != nil {
				d.dome.RestoreWindow(prev)
			}
			return models.Result(st)
		}
	}
	if d.log != nil {
		d.log.InfoCtx(ctx, "schedule committed",
			"night", s.Night, "actions", len(actions), "window", window != nil)
	}
	return models.Result(models.Succeeded)
}

// NotifyProcessedFrame forwards reduced-frame headers to the running
// action; nil means no action is running.
func (d *Daemon) NotifyProcessedFrame(headers map[string]any) map[string]any {
	return d.tel.NotifyProcessedFrame(headers)
}

// NotifyGuideProfile forwards a guide profile to the running action.
func (d *Daemon) NotifyGuideProfile(headers map[string]any, x, y []float64) map[string]any {
	return d.tel.NotifyGuideProfile(headers, x, y)
}

// Status assembles the full status payload.
func (d *Daemon) Status() models.StatusPayload {
	p := models.StatusPayload{
		Environment: d.env.Current().Payload(),
		Telescope:   d.tel.Status(),
	}
	if d.dome != nil {
		p.Dome = d.dome.Status()
	}
	if d.watcher != nil {
		p.ConfigStale = d.watcher.Stale()
	}
	return p
}

// Health summarizes liveness for /healthz.
type Health struct {
	TickAge        float64 `json:"tick_age_seconds"`
	EnvironmentAge float64 `json:"environment_age_seconds"`
	DomeMode       string  `json:"dome_mode,omitempty"`
	TelescopeMode  string  `json:"telescope_mode"`
}

// HealthSnapshot reports tick and poll ages plus controller modes.
func (d *Daemon) HealthSnapshot() Health {
	now := d.clk.Now()
	h := Health{TelescopeMode: d.tel.Mode().String()}
	if last := d.lastTick.Load(); last > 0 {
		h.TickAge = now.Sub(time.Unix(0, last)).Seconds()
	}
	if updated := d.env.Current().Updated; !updated.IsZero() {
		h.EnvironmentAge = now.Sub(updated).Seconds()
	}
	if d.dome != nil {
		h.DomeMode = d.dome.Mode().String()
	}
	return h
}

// Config exposes the loaded configuration (read-only).
func (d *Daemon) Config() *config.Config { return d.cfg }
