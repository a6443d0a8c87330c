// Package clasp registers the CLASP site's night scripts.
package clasp

import (
	"fmt"

	"github.com/rockit-astro/opsd/internal/models"
	"github.com/rockit-astro/opsd/internal/schedule"
	"github.com/rockit-astro/opsd/internal/script"
)

// ModuleName is the scripts_module config value for this set.
const ModuleName = "clasp"

func init() {
	script.RegisterModule(script.NewModule(ModuleName,
		script.Script{Name: "startup", Run: startup},
		script.Script{Name: "flats", Run: flats},
	))
}

// startup opens the dome for the remainder of tonight's darkness.
func startup(ctx script.Context) (models.Schedule, error) {
	night := schedule.Tonight(ctx.Now, ctx.SiteLongitude)
	start, end, err := schedule.NightStartEnd(night, ctx.SiteLatitude, ctx.SiteLongitude, ctx.SunAltitudeLimit)
	if err != nil {
		return models.Schedule{}, err
	}
	if !start.Before(end) || !ctx.Now.Before(end) {
		return models.Schedule{}, fmt.Errorf("no darkness remains on %s", night)
	}
	if ctx.Now.After(start) {
		start = ctx.Now
	}
	return models.Schedule{
		Night: night,
		Dome:  &models.ScheduleDome{Open: models.UTCTime(start), Close: models.UTCTime(end)},
	}, nil
}

// flats opens for the night and queues a twilight flat sequence.
func flats(ctx script.Context) (models.Schedule, error) {
	s, err := startup(ctx)
	if err != nil {
		return models.Schedule{}, err
	}
	prefix := "evening"
	if len(ctx.Args) > 0 {
		prefix = ctx.Args[0]
	}
	s.Actions = []models.ActionDescriptor{
		{"type": "SkyFlats", "prefix": prefix, "count": float64(15)},
	}
	return s, nil
}
