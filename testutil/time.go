package testutil

import (
	"time"

	"github.com/raulk/clock"
)

// Some time functions used for working with fixed times.

var KnownTime = time.Unix(1601378000, 0).UTC()

func KnownTimeNow() time.Time {
	return KnownTime
}

// NewMockClock returns a mock clock set to KnownTime.
func NewMockClock() *clock.Mock {
	c := clock.NewMock()
	c.Set(KnownTime)
	return c
}
