package compositor

import (
	"time"

	"golang.org/x/sys/unix"
)

// Clock is the time source used for frame pacing and presentation
// timestamps.
type Clock interface {
	Now() time.Duration
}

// MonotonicClock reads CLOCK_MONOTONIC.
type MonotonicClock struct{}

func (MonotonicClock) Now() time.Duration {
	var ts unix.Timespec
	err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	if err != nil {
		panic(err)
	}
	return time.Duration(ts.Nano())
}
