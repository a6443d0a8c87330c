// Package environment folds heterogeneous sensor readings into the single
// safe/unsafe verdict the dome controller consumes. One snapshot is built
// per tick and published copy-on-write; readers never block the tick.
package environment

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rockit-astro/opsd/internal/clock"
	"github.com/rockit-astro/opsd/internal/config"
	"github.com/rockit-astro/opsd/internal/models"
	"github.com/rockit-astro/opsd/internal/telemetry/events"
	"github.com/rockit-astro/opsd/internal/telemetry/logging"
	"github.com/rockit-astro/opsd/internal/telemetry/metrics"
)

// defaultMaxAge applies when a sensor has no configured max-age and
// publishes no cadence.
const defaultMaxAge = 30 * time.Second

// Condition is one evaluated sensor group.
type Condition struct {
	Label   string
	Safe    bool
	Age     time.Duration
	Sensors []models.SensorStatus
}

// Snapshot is the environment verdict for one tick.
type Snapshot struct {
	// Updated is the time of the last successful poll.
	Updated time.Time
	// Safe is the aggregate verdict: every condition safe and the daemon
	// reachable within the grace window.
	Safe       bool
	Conditions []Condition
}

// Payload renders the snapshot into the status() wire shape.
func (s *Snapshot) Payload() models.EnvironmentStatus {
	conditions := make(map[string][]models.SensorStatus, len(s.Conditions))
	for _, c := range s.Conditions {
		conditions[c.Label] = c.Sensors
	}
	return models.EnvironmentStatus{
		Updated:    models.UTCTime(s.Updated),
		Safe:       s.Safe,
		Conditions: conditions,
	}
}

// Watcher polls the environment daemon and aggregates the verdict.
type Watcher struct {
	conditions []config.ConditionConfig
	graceTicks int
	source     Source
	clk        clock.Clock
	log        logging.Logger
	bus        events.Bus

	data        Data
	lastPoll    time.Time
	missedPolls int

	snapshot atomic.Pointer[Snapshot]

	mSafe     metrics.Gauge
	mCondSafe metrics.Gauge
	mPollErrs metrics.Counter
}

// Options collects the watcher dependencies.
type Options struct {
	Conditions []config.ConditionConfig
	GraceTicks int
	Source     Source
	Clock      clock.Clock
	Logger     logging.Logger
	Bus        events.Bus
	Metrics    metrics.Provider
}

// NewWatcher builds a watcher. The initial snapshot is unsafe until the
// first successful poll.
func NewWatcher(opts Options) *Watcher {
	w := &Watcher{
		conditions: opts.Conditions,
		graceTicks: opts.GraceTicks,
		source:     opts.Source,
		clk:        opts.Clock,
		log:        opts.Logger,
		bus:        opts.Bus,
	}
	if w.graceTicks <= 0 {
		w.graceTicks = 2
	}
	if w.clk == nil {
		w.clk = clock.Real()
	}
	if opts.Metrics != nil {
		w.mSafe = opts.Metrics.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "opsd", Subsystem: "environment", Name: "safe", Help: "Aggregate environment safety (1 safe, 0 unsafe)"}})
		w.mCondSafe = opts.Metrics.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "opsd", Subsystem: "environment", Name: "condition_safe", Help: "Per-condition safety (1 safe, 0 unsafe)", Labels: []string{"condition"}}})
		w.mPollErrs = opts.Metrics.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "opsd", Subsystem: "environment", Name: "poll_failures_total", Help: "Failed environment daemon polls"}})
	}
	w.snapshot.Store(&Snapshot{})
	return w
}

// Poll fetches fresh data and rebuilds the published snapshot. A single
// missed poll keeps the previous values (aged normally); polls missed past
// the grace window force the aggregate unsafe.
func (w *Watcher) Poll(ctx context.Context) *Snapshot {
	now := w.clk.Now()
	data, err := w.source.Fetch(ctx)
	if err != nil {
		w.missedPolls++
		if w.mPollErrs != nil {
			w.mPollErrs.Inc(1)
		}
		if w.log != nil {
			w.log.WarnCtx(ctx, "environment poll failed", "error", err.Error(), "missed", w.missedPolls)
		}
	} else {
		w.data = data
		w.lastPoll = now
		w.missedPolls = 0
	}

	prev := w.snapshot.Load()
	snap := w.evaluate(now)
	w.snapshot.Store(snap)
	w.instrument(ctx, prev, snap)
	return snap
}

// Current returns the last published snapshot.
func (w *Watcher) Current() *Snapshot { return w.snapshot.Load() }

func (w *Watcher) evaluate(now time.Time) *Snapshot {
	snap := &Snapshot{Updated: w.lastPoll, Safe: true}
	for _, cond := range w.conditions {
		c := w.evaluateCondition(now, cond)
		snap.Conditions = append(snap.Conditions, c)
		if !c.Safe {
			snap.Safe = false
		}
	}
	if w.missedPolls > w.graceTicks {
		snap.Safe = false
	}
	return snap
}

func (w *Watcher) evaluateCondition(now time.Time, cond config.ConditionConfig) Condition {
	c := Condition{Label: cond.Label, Age: -1}
	anyFresh := false
	anyUnsafe := false
	for _, sc := range cond.Sensors {
		status := models.SensorStatus{Label: sc.Label, Stale: true}
		if reading, ok := w.lookup(sc.Sensor); ok {
			age := now.Sub(reading.Date.Time())
			status.Value = reading.Value
			status.Stale = age > maxAge(sc, reading)
			status.Unsafe = reading.Unsafe != nil && *reading.Unsafe
			if c.Age < 0 || age < c.Age {
				c.Age = age
			}
		}
		if !status.Stale {
			anyFresh = true
		}
		if status.Unsafe {
			anyUnsafe = true
		}
		c.Sensors = append(c.Sensors, status)
	}
	c.Safe = anyFresh && !anyUnsafe
	if c.Age < 0 {
		c.Age = 0
	}
	return c
}

func (w *Watcher) lookup(key string) (Reading, bool) {
	daemon, param, ok := strings.Cut(key, ".")
	if !ok || w.data == nil {
		return Reading{}, false
	}
	params, ok := w.data[daemon]
	if !ok {
		return Reading{}, false
	}
	r, ok := params[param]
	return r, ok
}

// maxAge resolves the staleness threshold: explicit max_age, else three
// reporting cadences, else 30 s. A sensor exactly at the threshold is
// still fresh.
func maxAge(sc config.SensorConfig, r Reading) time.Duration {
	if sc.MaxAge > 0 {
		return time.Duration(sc.MaxAge * float64(time.Second))
	}
	if r.Cadence > 0 {
		return time.Duration(3 * r.Cadence * float64(time.Second))
	}
	return defaultMaxAge
}

func (w *Watcher) instrument(ctx context.Context, prev, snap *Snapshot) {
	if w.mSafe != nil {
		w.mSafe.Set(boolGauge(snap.Safe))
		for _, c := range snap.Conditions {
			w.mCondSafe.Set(boolGauge(c.Safe), c.Label)
		}
	}
	if prev != nil && prev.Safe != snap.Safe {
		if w.log != nil {
			w.log.InfoCtx(ctx, "environment safety changed", "safe", snap.Safe)
		}
		if w.bus != nil {
			_ = w.bus.Publish(events.Event{
				Category: events.CategoryEnvironment,
				Type:     "safety_changed",
				Severity: severityFor(snap.Safe),
				Fields:   map[string]any{"safe": snap.Safe},
			})
		}
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func severityFor(safe bool) string {
	if safe {
		return "info"
	}
	return "warn"
}
