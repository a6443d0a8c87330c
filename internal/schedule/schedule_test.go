package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/rockit-astro/opsd/internal/action/clasp"
	"github.com/rockit-astro/opsd/internal/config"
	"github.com/rockit-astro/opsd/internal/models"
)

func claspConfig() *config.Config {
	return &config.Config{
		Daemon:           "clasp_ops",
		ActionsModule:    "clasp",
		SiteLatitude:     claspLatitude,
		SiteLongitude:    claspLongitude,
		SunAltitudeLimit: 5,
	}
}

func utc(y int, m time.Month, d, hh, mm int) models.UTCTime {
	return models.UTCTime(time.Date(y, m, d, hh, mm, 0, 0, time.UTC))
}

func validSchedule() models.Schedule {
	return models.Schedule{
		Night: "2024-03-14",
		Dome: &models.ScheduleDome{
			Open:  utc(2024, 3, 14, 21, 0),
			Close: utc(2024, 3, 15, 6, 0),
		},
		Actions: []models.ActionDescriptor{
			{"type": "Wait", "delay": float64(30)},
			{"type": "SkyFlats", "prefix": "evening", "count": float64(10)},
		},
	}
}

func TestParse(t *testing.T) {
	raw := []byte(`{
		"night": "2024-03-14",
		"dome": {"open": "2024-03-14T21:00:00Z", "close": "2024-03-15T06:00:00Z"},
		"actions": [{"type": "Wait", "delay": 30}]
	}`)
	s, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-14", s.Night)
	require.NotNil(t, s.Dome)
	assert.Equal(t, time.Date(2024, 3, 14, 21, 0, 0, 0, time.UTC), s.Dome.Open.Time())
	require.Len(t, s.Actions, 1)

	_, err = Parse([]byte("not json"))
	assert.Error(t, err)
}

func TestValidateAcceptsFullSchedule(t *testing.T) {
	assert.Empty(t, Validate(validSchedule(), claspConfig(), true))
}

func TestValidateRequiresNight(t *testing.T) {
	s := validSchedule()
	s.Night = ""
	s.Dome = nil
	assert.NotEmpty(t, Validate(s, claspConfig(), true))
	assert.Empty(t, Validate(s, claspConfig(), false))
}

func TestValidateWindowBoundaries(t *testing.T) {
	t.Run("open_equals_close", func(t *testing.T) {
		s := validSchedule()
		s.Dome.Close = s.Dome.Open
		assert.NotEmpty(t, Validate(s, claspConfig(), true))
	})

	t.Run("open_after_close", func(t *testing.T) {
		s := validSchedule()
		s.Dome.Open, s.Dome.Close = s.Dome.Close, s.Dome.Open
		assert.NotEmpty(t, Validate(s, claspConfig(), true))
	})

	t.Run("straddles_night_boundary", func(t *testing.T) {
		s := validSchedule()
		s.Dome.Close = utc(2024, 3, 15, 14, 0)
		assert.NotEmpty(t, Validate(s, claspConfig(), true))
	})

	t.Run("before_the_night", func(t *testing.T) {
		s := validSchedule()
		s.Dome.Open = utc(2024, 3, 14, 10, 0)
		assert.NotEmpty(t, Validate(s, claspConfig(), true))
	})

	t.Run("rejected_when_sun_never_sets", func(t *testing.T) {
		cfg := claspConfig()
		cfg.SiteLatitude = 78
		cfg.SiteLongitude = 15
		cfg.SunAltitudeLimit = 0
		s := models.Schedule{
			Night: "2024-06-21",
			Dome: &models.ScheduleDome{
				Open:  utc(2024, 6, 21, 22, 0),
				Close: utc(2024, 6, 22, 2, 0),
			},
		}
		assert.NotEmpty(t, Validate(s, cfg, true))
	})
}

func TestValidateActions(t *testing.T) {
	t.Run("unknown_type", func(t *testing.T) {
		s := validSchedule()
		s.Actions = append(s.Actions, models.ActionDescriptor{"type": "Teleport"})
		assert.NotEmpty(t, Validate(s, claspConfig(), true))
	})

	t.Run("missing_type", func(t *testing.T) {
		s := validSchedule()
		s.Actions = append(s.Actions, models.ActionDescriptor{"delay": float64(5)})
		assert.NotEmpty(t, Validate(s, claspConfig(), true))
	})

	t.Run("bad_parameters", func(t *testing.T) {
		s := validSchedule()
		s.Actions = []models.ActionDescriptor{{"type": "Wait", "delay": float64(-1)}}
		errs := Validate(s, claspConfig(), true)
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0], "delay")
	})

	t.Run("unknown_parameter", func(t *testing.T) {
		s := validSchedule()
		s.Actions = []models.ActionDescriptor{{"type": "Wait", "delay": float64(5), "colour": "red"}}
		assert.NotEmpty(t, Validate(s, claspConfig(), true))
	})
}

// On these schedules validation and the parsers agree: a clean validation
// means both parsers succeed, and a rejected action makes Actions fail too.
func TestValidateMatchesParsers(t *testing.T) {
	cfg := claspConfig()
	for name, s := range map[string]models.Schedule{
		"valid":      validSchedule(),
		"bad_action": {Night: "2024-03-14", Actions: []models.ActionDescriptor{{"type": "Wait"}}},
	} {
		t.Run(name, func(t *testing.T) {
			errs := Validate(s, cfg, true)
			_, actionsErr := Actions(s, cfg)
			if len(errs) == 0 {
				assert.NoError(t, actionsErr)
				if s.Dome != nil {
					assert.NotNil(t, DomeWindow(s))
				}
			} else {
				assert.Error(t, actionsErr)
			}
		})
	}
}

func TestActionsConstructInOrder(t *testing.T) {
	acts, err := Actions(validSchedule(), claspConfig())
	require.NoError(t, err)
	require.Len(t, acts, 2)
	assert.Equal(t, "Wait", acts[0].Name())
	assert.Equal(t, "SkyFlats", acts[1].Name())
	assert.Equal(t, models.ActionPending, acts[0].State())
}

func TestDomeWindow(t *testing.T) {
	w := DomeWindow(validSchedule())
	require.NotNil(t, w)
	assert.Equal(t, time.Date(2024, 3, 14, 21, 0, 0, 0, time.UTC), w.OpenAt)
	assert.Nil(t, DomeWindow(models.Schedule{Night: "2024-03-14"}))
}
