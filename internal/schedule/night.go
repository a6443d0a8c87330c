package schedule

import (
	"fmt"
	"math"
	"time"
)

// nightLayout is the schedule's night date format.
const nightLayout = "2006-01-02"

// ParseNight parses a "YYYY-MM-DD" night identifier.
func ParseNight(night string) (time.Time, error) {
	t, err := time.Parse(nightLayout, night)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid night %q", night)
	}
	return t, nil
}

// NightBounds returns the noon-to-noon UTC interval covered by the night,
// using local solar noon at the site's longitude.
func NightBounds(night string, longitude float64) (start, end time.Time, err error) {
	date, err := ParseNight(night)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start = solarNoon(date, longitude)
	end = solarNoon(date.AddDate(0, 0, 1), longitude)
	return start, end, nil
}

// Tonight returns the night identifier covering now: the date of the most
// recent local solar noon at the site's longitude.
func Tonight(now time.Time, longitude float64) string {
	night := now.UTC().Format(nightLayout)
	if start := solarNoon(now.UTC(), longitude); now.Before(start) {
		night = now.UTC().AddDate(0, 0, -1).Format(nightLayout)
	}
	return night
}

// NightStartEnd returns the first and last UTC instants of the night where
// the sun sits below sunAltitudeLimit degrees. A site where the sun never
// climbs above the limit gets the full noon-to-noon interval; one where it
// never drops below gets an empty interval (start == end), which rejects
// any dome window during validation.
func NightStartEnd(night string, latitude, longitude, sunAltitudeLimit float64) (start, end time.Time, err error) {
	date, err := ParseNight(night)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	eveningNoon := solarNoon(date, longitude)
	morningNoon := solarNoon(date.AddDate(0, 0, 1), longitude)

	eveningHA, eveningOK := crossingHourAngle(eveningNoon, latitude, sunAltitudeLimit)
	morningHA, morningOK := crossingHourAngle(morningNoon, latitude, sunAltitudeLimit)
	if !eveningOK || !morningOK {
		if belowAllDay(eveningNoon, latitude, sunAltitudeLimit) {
			return eveningNoon, morningNoon, nil
		}
		// Sun never reaches the limit: no darkness this night.
		return morningNoon, morningNoon, nil
	}
	start = eveningNoon.Add(hourAngleOffset(eveningHA))
	end = morningNoon.Add(-hourAngleOffset(morningHA))
	return start, end, nil
}

// solarParams evaluates the NOAA approximation at t, returning the solar
// declination in radians and the equation of time in minutes.
func solarParams(t time.Time) (decl, eqTime float64) {
	frac := float64(t.YearDay()-1) + (float64(t.Hour())-12)/24
	gamma := 2 * math.Pi / 365 * frac
	eqTime = 229.18 * (0.000075 +
		0.001868*math.Cos(gamma) - 0.032077*math.Sin(gamma) -
		0.014615*math.Cos(2*gamma) - 0.040849*math.Sin(2*gamma))
	decl = 0.006918 -
		0.399912*math.Cos(gamma) + 0.070257*math.Sin(gamma) -
		0.006758*math.Cos(2*gamma) + 0.000907*math.Sin(2*gamma) -
		0.002697*math.Cos(3*gamma) + 0.00148*math.Sin(3*gamma)
	return decl, eqTime
}

// solarNoon returns local solar noon (UTC) for the given date and
// longitude (degrees east positive).
func solarNoon(date time.Time, longitude float64) time.Time {
	approx := time.Date(date.Year(), date.Month(), date.Day(), 12, 0, 0, 0, time.UTC).
		Add(-time.Duration(longitude * 4 * float64(time.Minute)))
	_, eqTime := solarParams(approx)
	return approx.Add(-time.Duration(eqTime * float64(time.Minute)))
}

// crossingHourAngle returns the hour angle (degrees) at which the sun
// crosses the altitude limit around the given solar noon, or ok=false when
// no crossing exists that day.
func crossingHourAngle(noon time.Time, latitude, altitudeLimit float64) (float64, bool) {
	decl, _ := solarParams(noon)
	latRad := latitude * math.Pi / 180
	altRad := altitudeLimit * math.Pi / 180
	cosHA := (math.Sin(altRad) - math.Sin(latRad)*math.Sin(decl)) /
		(math.Cos(latRad) * math.Cos(decl))
	if cosHA < -1 || cosHA > 1 {
		return 0, false
	}
	return math.Acos(cosHA) * 180 / math.Pi, true
}

// belowAllDay reports whether the sun stays below the limit at solar noon,
// its highest point of the day.
func belowAllDay(noon time.Time, latitude, altitudeLimit float64) bool {
	decl, _ := solarParams(noon)
	latRad := latitude * math.Pi / 180
	// Altitude at culmination: 90 - |lat - decl|.
	alt := math.Pi/2 - math.Abs(latRad-decl)
	return alt < altitudeLimit*math.Pi/180
}

// hourAngleOffset converts an hour angle in degrees to a time offset.
func hourAngleOffset(degrees float64) time.Duration {
	return time.Duration(degrees * 4 * float64(time.Minute))
}
