package clock

import "time"

// Clock abstracts time operations for deterministic testing.
type Clock interface {
	Now() time.Time
	Sleep(time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// Real returns the wall clock.
func Real() Clock { return realClock{} }
