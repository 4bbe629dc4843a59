package clock

import "time"

// Clock supplies the current time. Services take a Clock instead of calling
// time.Now directly so vesting, daily-limit and timelock math can be driven
// deterministically in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System returns a Clock backed by time.Now.
func System() Clock { return systemClock{} }
