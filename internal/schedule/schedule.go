// Package schedule holds the pure functions that turn an external JSON
// plan into a dome window and a list of constructed actions. Nothing here
// touches controller state; validation accumulates human-readable problems.
// The parsers expect a schedule that already passed validation: Actions
// refuses a missing or unknown action type and whatever an action
// constructor rejects, but not every parameter problem validation reports;
// DomeWindow refuses nothing.
package schedule

import (
	"encoding/json"
	"fmt"

	"github.com/rockit-astro/opsd/internal/action"
	"github.com/rockit-astro/opsd/internal/config"
	"github.com/rockit-astro/opsd/internal/models"
)

// Parse decodes raw JSON into a Schedule.
func Parse(raw []byte) (models.Schedule, error) {
	var s models.Schedule
	if err := json.Unmarshal(raw, &s); err != nil {
		return models.Schedule{}, fmt.Errorf("parsing schedule: %w", err)
	}
	return s, nil
}

// Validate checks a schedule against the site configuration and returns
// the list of problems; an empty list means the schedule is valid.
// requireNight rejects schedules without a night field.
func Validate(s models.Schedule, cfg *config.Config, requireNight bool) []string {
	var errs []string
	if s.Night == "" {
		if requireNight {
			errs = append(errs, "schedule is missing the night field")
		}
		if s.Dome != nil {
			errs = append(errs, "a dome window requires a night field")
		}
	} else if _, err := ParseNight(s.Night); err != nil {
		errs = append(errs, err.Error())
	} else if s.Dome != nil {
		errs = append(errs, validateWindow(s, cfg)...)
	}
	errs = append(errs, validateActions(s, cfg)...)
	return errs
}

func validateWindow(s models.Schedule, cfg *config.Config) []string {
	var errs []string
	open := s.Dome.Open.Time()
	closeAt := s.Dome.Close.Time()
	if open.IsZero() || closeAt.IsZero() {
		return append(errs, "dome window must set both open and close")
	}
	if !open.Before(closeAt) {
		errs = append(errs, "dome open time must be before close time")
	}
	nightStart, nightEnd, err := NightBounds(s.Night, cfg.SiteLongitude)
	if err != nil {
		return append(errs, err.Error())
	}
	if open.Before(nightStart) || !closeAt.Before(nightEnd) {
		errs = append(errs, fmt.Sprintf("dome window must lie within the night of %s", s.Night))
	}
	darkStart, darkEnd, err := NightStartEnd(s.Night, cfg.SiteLatitude, cfg.SiteLongitude, cfg.SunAltitudeLimit)
	if err != nil {
		return append(errs, err.Error())
	}
	if !darkStart.Before(darkEnd) {
		errs = append(errs, fmt.Sprintf("the sun never sets below %.1f degrees on %s", cfg.SunAltitudeLimit, s.Night))
	}
	return errs
}

func validateActions(s models.Schedule, cfg *config.Config) []string {
	var errs []string
	module, ok := action.LookupModule(cfg.ActionsModule)
	if !ok {
		return append(errs, fmt.Sprintf("unknown actions module %q", cfg.ActionsModule))
	}
	for i, desc := range s.Actions {
		typeName, ok := desc.Type()
		if !ok {
			errs = append(errs, fmt.Sprintf("actions[%d]: missing type", i))
			continue
		}
		def, ok := module.Lookup(typeName)
		if !ok {
			errs = append(errs, fmt.Sprintf("actions[%d]: unknown action type %q", i, typeName))
			continue
		}
		for _, problem := range def.Validate(desc) {
			errs = append(errs, fmt.Sprintf("actions[%d] (%s): %s", i, typeName, problem))
		}
	}
	return errs
}

// DomeWindow extracts the schedule's dome window, or nil without one.
// The schedule must already have passed Validate.
func DomeWindow(s models.Schedule) *models.Window {
	if s.Dome == nil {
		return nil
	}
	return &models.Window{OpenAt: s.Dome.Open.Time(), CloseAt: s.Dome.Close.Time()}
}

// Actions constructs the schedule's actions in order. The schedule must
// already have passed Validate; construction failures are still reported
// because action constructors are the authority on their parameters.
func Actions(s models.Schedule, cfg *config.Config) ([]action.Action, error) {
	module, ok := action.LookupModule(cfg.ActionsModule)
	if !ok {
		return nil, fmt.Errorf("unknown actions module %q", cfg.ActionsModule)
	}
	actions := make([]action.Action, 0, len(s.Actions))
	for i, desc := range s.Actions {
		typeName, ok := desc.Type()
		if !ok {
			return nil, fmt.Errorf("actions[%d]: missing type", i)
		}
		def, ok := module.Lookup(typeName)
		if !ok {
			return nil, fmt.Errorf("actions[%d]: unknown action type %q", i, typeName)
		}
		act, err := def.New(desc)
		if err != nil {
			return nil, fmt.Errorf("actions[%d] (%s): %w", i, typeName, err)
		}
		actions = append(actions, act)
	}
	return actions, nil
}
