package domain

import "github.com/jonboulle/clockwork"

// clock is a package-level time source so tests can freeze time via SetClock.
// Correction timestamps and report detection times come from it; production
// code uses the real clock.
var clock = clockwork.NewRealClock()

// SetClock swaps the time source used for correction and report timestamps.
// Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}
