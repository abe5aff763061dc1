package plexer

import "time"

// Clock is a monotonic microsecond counter shared by every channel on
// one plexer, used to timestamp outbound segments. It starts at zero
// when the plexer is constructed and wraps, like the wire format's
// 32-bit timestamp field, after roughly 71 minutes.
type Clock struct {
	start time.Time
}

// NewClock returns a Clock whose epoch is now.
func NewClock() Clock { return Clock{start: time.Now()} }

// NowMicros returns the elapsed microseconds since the clock's epoch,
// truncated to 32 bits.
func (c Clock) NowMicros() uint32 {
	return uint32(time.Since(c.start).Microseconds())
}
