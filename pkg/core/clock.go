package core

import "time"

// Clock supplies monotonic timestamps in microseconds. The core never
// reads wall time directly: every operation takes `now` from its caller,
// and the daemon threads all derive it from one boot-anchored clock.
// Tests substitute a manual clock.
type Clock interface {
	NowMicros() uint64
}

// BootClock is a Clock anchored at process start, backed by Go's
// monotonic time reading.
type BootClock struct {
	start time.Time
}

// NewBootClock creates a clock anchored at the current instant.
func NewBootClock() *BootClock {
	return &BootClock{start: time.Now()}
}

// NowMicros returns microseconds elapsed since boot.
func (c *BootClock) NowMicros() uint64 {
	return uint64(time.Since(c.start) / time.Microsecond)
}

// ManualClock is a test clock advanced explicitly.
type ManualClock struct {
	Micros uint64
}

// NowMicros returns the current manual time.
func (c *ManualClock) NowMicros() uint64 { return c.Micros }

// Advance moves the manual clock forward.
func (c *ManualClock) Advance(d time.Duration) {
	c.Micros += uint64(d / time.Microsecond)
}

// Micros converts a duration to the core's µs representation.
func Micros(d time.Duration) uint64 {
	return uint64(d / time.Microsecond)
}
