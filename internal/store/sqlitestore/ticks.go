package sqlitestore

import (
	"math"
	"time"
)

// unixEpochTicks is the number of .NET-style 100ns ticks between
// 0001-01-01T00:00:00Z and the Unix epoch (time.Time(1970,1,1).Ticks in
// .NET terms): 621355968000000000. The source Akavache databases this
// store must stay binary-compatible with (spec.md §6.1) count ticks from
// year 1, not from 1970, so every conversion below anchors to this
// constant rather than to time.Time's own year-1 zero value — computing
// the offset via time.Time.Sub would span more than time.Duration's
// ~292-year range and silently saturate.
const unixEpochTicks int64 = 621355968000000000

// neverTicks is the sentinel Expiration value meaning "never expires".
const neverTicks int64 = math.MaxInt64

// ticksPerSecond is the number of 100ns ticks in one second.
const ticksPerSecond = int64(time.Second / 100)

// toTicks converts an absolute instant to a 64-bit tick count. The zero
// time.Time (store.CacheElement's "never" sentinel) maps to neverTicks.
func toTicks(t time.Time) int64 {
	if t.IsZero() {
		return neverTicks
	}
	t = t.UTC()
	return t.Unix()*ticksPerSecond + int64(t.Nanosecond())/100 + unixEpochTicks
}

// fromTicks is the inverse of toTicks. neverTicks maps back to the zero
// time.Time.
func fromTicks(ticks int64) time.Time {
	if ticks == neverTicks {
		return time.Time{}
	}
	unixTicks := ticks - unixEpochTicks
	sec := unixTicks / ticksPerSecond
	nsec := (unixTicks % ticksPerSecond) * 100
	return time.Unix(sec, nsec).UTC()
}

// nowTicks is the current instant in tick form, used to filter expired
// rows out of SELECT/GetKeys queries server-side.
func nowTicks() int64 {
	return toTicks(time.Now())
}
