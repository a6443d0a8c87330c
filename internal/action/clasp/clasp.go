// Package clasp registers the CLASP telescope's action set. The actions
// here exercise the full queue/worker machinery; richer behaviours plug in
// through the same registry.
package clasp

import (
	"fmt"

	"github.com/rockit-astro/opsd/internal/action"
)

// ModuleName is the actions_module config value for this set.
const ModuleName = "clasp"

func init() {
	action.RegisterModule(action.NewModule(ModuleName,
		waitDefinition(),
		parkDefinition(),
		skyFlatsDefinition(),
	))
}

func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key].(string)
	return v, ok
}

// floatParam accepts any JSON number for key.
func floatParam(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func unknownKeys(params map[string]any, known ...string) []string {
	allowed := map[string]struct{}{"type": {}}
	for _, k := range known {
		allowed[k] = struct{}{}
	}
	var errs []string
	for k := range params {
		if _, ok := allowed[k]; !ok {
			errs = append(errs, fmt.Sprintf("unknown parameter %q", k))
		}
	}
	return errs
}
