// Package config loads and validates the site configuration. The canonical
// format is JSON; files ending in .yaml or .yml are accepted and converted.
// Config is created once at startup and treated as immutable afterwards.
package config

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SensorConfig selects one sensor.parameter reading within a condition.
type SensorConfig struct {
	// Label is the display name reported in status().
	Label string `json:"label"`
	// Sensor is the nested key "daemon.parameter" in the environment data.
	Sensor string `json:"sensor"`
	// MaxAge overrides the staleness threshold, in seconds. Zero means
	// three times the sensor's reported cadence, or 30 s without one.
	MaxAge float64 `json:"max_age,omitempty"`
}

// ConditionConfig is a named group of sensors folded into one verdict.
type ConditionConfig struct {
	Label   string         `json:"label"`
	Sensors []SensorConfig `json:"sensors"`
}

// DomeConfig selects and parameterizes the dome backend. Timeouts are in
// seconds; zero falls back to the dome controller's defaults.
type DomeConfig struct {
	Module                string         `json:"module"`
	OpenTimeout           float64        `json:"open_timeout,omitempty"`
	CloseTimeout          float64        `json:"close_timeout,omitempty"`
	MovementTimeout       float64        `json:"movement_timeout,omitempty"`
	HeartbeatTimeout      float64        `json:"heartbeat_timeout,omitempty"`
	HeartbeatOpenTimeout  float64        `json:"heartbeat_open_timeout,omitempty"`
	HeartbeatCloseTimeout float64        `json:"heartbeat_close_timeout,omitempty"`
	Params                map[string]any `json:"-"`
}

// domeConfigKnown mirrors DomeConfig's named keys for extraction.
var domeConfigKnown = map[string]struct{}{
	"module": {}, "open_timeout": {}, "close_timeout": {}, "movement_timeout": {},
	"heartbeat_timeout": {}, "heartbeat_open_timeout": {}, "heartbeat_close_timeout": {},
}

// UnmarshalJSON captures backend-specific subkeys into Params.
func (d *DomeConfig) UnmarshalJSON(b []byte) error {
	type plain DomeConfig
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	p.Params = make(map[string]any)
	for k, v := range raw {
		if _, known := domeConfigKnown[k]; !known {
			p.Params[k] = v
		}
	}
	*d = DomeConfig(p)
	return nil
}

// Config is the full site configuration.
type Config struct {
	Daemon           string   `json:"daemon"`
	LogName          string   `json:"log_name"`
	ControlMachines  []string `json:"control_machines"`
	PipelineMachines []string `json:"pipeline_machines"`
	ActionsModule    string   `json:"actions_module"`
	ScriptsModule    string   `json:"scripts_module"`
	// LoopDelay is the tick interval in seconds (default 10).
	LoopDelay        float64 `json:"loop_delay,omitempty"`
	SiteLatitude     float64 `json:"site_latitude"`
	SiteLongitude    float64 `json:"site_longitude"`
	SiteElevation    float64 `json:"site_elevation"`
	SunAltitudeLimit float64 `json:"sun_altitude_limit"`

	Dome *DomeConfig `json:"dome,omitempty"`

	EnvironmentDaemon     string            `json:"environment_daemon"`
	EnvironmentConditions []ConditionConfig `json:"environment_conditions"`
	// EnvironmentGraceTicks is how many consecutive failed polls are
	// tolerated before the aggregate verdict is forced unsafe (default 2).
	EnvironmentGraceTicks int `json:"environment_grace_ticks,omitempty"`

	// RPCListen is the bind address of the remote command surface.
	RPCListen string `json:"rpc_listen,omitempty"`
	// OpsListen is the bind address of /metrics and /healthz.
	OpsListen string `json:"ops_listen,omitempty"`
	// MetricsBackend selects prom (default), otel or noop.
	MetricsBackend string `json:"metrics_backend,omitempty"`

	controlPrefixes  []netip.Prefix
	pipelinePrefixes []netip.Prefix
}

// Registries supplies the module lookups Validate resolves names against.
// Wired by the caller so config stays free of backend imports.
type Registries struct {
	DomeModule    func(name string) bool
	ActionsModule func(name string) bool
	ScriptsModule func(name string) bool
}

// Load reads, parses and validates the configuration at path.
func Load(path string, regs Registries) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var tree map[string]any
		if err := yaml.Unmarshal(raw, &tree); err != nil {
			return nil, fmt.Errorf("parsing yaml config: %w", err)
		}
		if raw, err = json.Marshal(tree); err != nil {
			return nil, fmt.Errorf("converting yaml config: %w", err)
		}
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if errs := cfg.Validate(regs); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return &cfg, nil
}

// Validate applies defaults and returns human-readable problems.
func (c *Config) Validate(regs Registries) []string {
	var errs []string
	if c.Daemon == "" {
		errs = append(errs, "daemon name is required")
	}
	if c.LogName == "" {
		c.LogName = c.Daemon
	}
	if c.LoopDelay == 0 {
		c.LoopDelay = 10
	}
	if c.LoopDelay < 0 {
		errs = append(errs, "loop_delay must be positive")
	}
	if c.SiteLatitude < -90 || c.SiteLatitude > 90 {
		errs = append(errs, "site_latitude out of range")
	}
	if c.SiteLongitude < -180 || c.SiteLongitude > 180 {
		errs = append(errs, "site_longitude out of range")
	}
	if c.SunAltitudeLimit < -90 || c.SunAltitudeLimit > 90 {
		errs = append(errs, "sun_altitude_limit out of range")
	}
	if c.EnvironmentGraceTicks == 0 {
		c.EnvironmentGraceTicks = 2
	}
	if c.RPCListen == "" {
		c.RPCListen = ":9700"
	}
	if c.OpsListen == "" {
		c.OpsListen = ":9701"
	}
	if c.MetricsBackend == "" {
		c.MetricsBackend = "prom"
	}
	if c.EnvironmentDaemon == "" {
		errs = append(errs, "environment_daemon is required")
	}
	for i, cond := range c.EnvironmentConditions {
		if cond.Label == "" {
			errs = append(errs, fmt.Sprintf("environment_conditions[%d]: label is required", i))
		}
		if len(cond.Sensors) == 0 {
			errs = append(errs, fmt.Sprintf("environment_conditions[%d]: at least one sensor is required", i))
		}
		for j, s := range cond.Sensors {
			if !strings.Contains(s.Sensor, ".") {
				errs = append(errs, fmt.Sprintf("environment_conditions[%d].sensors[%d]: sensor must be daemon.parameter", i, j))
			}
		}
	}
	if c.Dome != nil {
		if c.Dome.Module == "" {
			errs = append(errs, "dome.module is required when dome is configured")
		} else if regs.DomeModule != nil && !regs.DomeModule(c.Dome.Module) {
			errs = append(errs, fmt.Sprintf("unknown dome module %q", c.Dome.Module))
		}
	}
	if c.ActionsModule == "" {
		errs = append(errs, "actions_module is required")
	} else if regs.ActionsModule != nil && !regs.ActionsModule(c.ActionsModule) {
		errs = append(errs, fmt.Sprintf("unknown actions module %q", c.ActionsModule))
	}
	if c.ScriptsModule != "" && regs.ScriptsModule != nil && !regs.ScriptsModule(c.ScriptsModule) {
		errs = append(errs, fmt.Sprintf("unknown scripts module %q", c.ScriptsModule))
	}
	var err error
	if c.controlPrefixes, err = parsePrefixes(c.ControlMachines); err != nil {
		errs = append(errs, fmt.Sprintf("control_machines: %v", err))
	}
	if c.pipelinePrefixes, err = parsePrefixes(c.PipelineMachines); err != nil {
		errs = append(errs, fmt.Sprintf("pipeline_machines: %v", err))
	}
	return errs
}

// TickInterval returns the loop delay as a duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.LoopDelay * float64(time.Second))
}

func parsePrefixes(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("invalid network %q", e)
			}
			prefixes = append(prefixes, p)
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q", e)
		}
		prefixes = append(prefixes, netip.PrefixFrom(a, a.BitLen()))
	}
	return prefixes, nil
}

func allowed(prefixes []netip.Prefix, addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ControlAllowed reports whether addr may issue control commands.
func (c *Config) ControlAllowed(addr netip.Addr) bool {
	return allowed(c.controlPrefixes, addr)
}

// PipelineAllowed reports whether addr may deliver pipeline notifications.
func (c *Config) PipelineAllowed(addr netip.Addr) bool {
	return allowed(c.pipelinePrefixes, addr)
}
