package metrics

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusProviderExposesInstruments(t *testing.T) {
	p := NewPrometheusProvider(PrometheusProviderOptions{})

	c := p.NewCounter(CounterOpts{CommonOpts: CommonOpts{
		Namespace: "opsd", Subsystem: "ops", Name: "commands_total",
		Help: "commands", Labels: []string{"method"}}})
	c.Inc(1, "dome_control")
	c.Inc(2, "dome_control")

	g := p.NewGauge(GaugeOpts{CommonOpts: CommonOpts{
		Namespace: "opsd", Subsystem: "environment", Name: "safe", Help: "safety"}})
	g.Set(1)

	h := p.NewHistogram(HistogramOpts{CommonOpts: CommonOpts{
		Namespace: "opsd", Subsystem: "ops", Name: "tick_seconds", Help: "tick"}})
	h.Observe(0.25)

	rec := httptest.NewRecorder()
	p.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `opsd_ops_commands_total{method="dome_control"} 3`)
	assert.Contains(t, body, "opsd_environment_safe 1")
	assert.Contains(t, body, "opsd_ops_tick_seconds_count 1")
	require.NoError(t, p.Health(context.Background()))
}

func TestPrometheusProviderReusesRegistrations(t *testing.T) {
	p := NewPrometheusProvider(PrometheusProviderOptions{})
	opts := CounterOpts{CommonOpts: CommonOpts{Namespace: "opsd", Name: "events_total", Help: "events"}}
	a := p.NewCounter(opts)
	b := p.NewCounter(opts)
	a.Inc(1)
	b.Inc(1)

	rec := httptest.NewRecorder()
	p.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "opsd_events_total 2")
}

func TestInvalidMetricNameFallsBackToNoop(t *testing.T) {
	p := NewPrometheusProvider(PrometheusProviderOptions{})
	c := p.NewCounter(CounterOpts{CommonOpts: CommonOpts{Name: "bad name"}})
	c.Inc(1) // must not panic
	assert.Error(t, p.Health(context.Background()))
}

func TestNoopProvider(t *testing.T) {
	p := NewNoopProvider()
	p.NewCounter(CounterOpts{}).Inc(1)
	p.NewGauge(GaugeOpts{}).Set(3)
	p.NewHistogram(HistogramOpts{}).Observe(1)
	p.NewTimer(HistogramOpts{})().ObserveDuration()
	assert.NoError(t, p.Health(context.Background()))
}

func TestOTelProviderInstruments(t *testing.T) {
	p := NewOTelProvider(OTelProviderOptions{ServiceName: "opsd-test"})
	c := p.NewCounter(CounterOpts{CommonOpts: CommonOpts{
		Namespace: "opsd", Subsystem: "ops", Name: "commands_total", Labels: []string{"method"}}})
	c.Inc(1, "tel_control")

	g := p.NewGauge(GaugeOpts{CommonOpts: CommonOpts{Namespace: "opsd", Name: "safe"}})
	g.Set(1)
	g.Set(0)
	g.Add(2)

	h := p.NewHistogram(HistogramOpts{CommonOpts: CommonOpts{Namespace: "opsd", Name: "tick_seconds"}})
	h.Observe(0.1)
	assert.NoError(t, p.Health(context.Background()))
}

func TestFromBackend(t *testing.T) {
	assert.IsType(t, &PrometheusProvider{}, FromBackend(BackendPrometheus))
	assert.IsType(t, &PrometheusProvider{}, FromBackend("anything-else"))
	assert.NotNil(t, FromBackend(BackendOTel))
	_, isProm := FromBackend(BackendNoop).(*PrometheusProvider)
	assert.False(t, isProm)
}

func TestBuildFQName(t *testing.T) {
	fq, err := buildFQName(CommonOpts{Namespace: "opsd", Subsystem: "dome", Name: "mode"})
	require.NoError(t, err)
	assert.Equal(t, "opsd_dome_mode", fq)

	fq, err = buildFQName(CommonOpts{Name: "mode"})
	require.NoError(t, err)
	assert.Equal(t, "mode", fq)

	_, err = buildFQName(CommonOpts{})
	assert.Error(t, err)
}
