package messaging

import "time"

// Clock is the time source for due checks, backoff and processed_at stamps.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// ClockFunc lets tests pin time with a closure.
type ClockFunc func() time.Time

func (fn ClockFunc) Now() time.Time {
	return fn()
}
