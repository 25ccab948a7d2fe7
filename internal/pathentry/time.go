package pathentry

import "time"

// timeFromNanos converts a Unix-nanosecond timestamp to a time.Time.
func timeFromNanos(ns int64) time.Time {
	return time.Unix(0, ns)
}
