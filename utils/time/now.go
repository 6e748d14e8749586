package time

import (
	"time"
)

// Now is a wrapper around time.Now() and used to override behavior in tests.
var Now = func() time.Time {
	return time.Now()
}
