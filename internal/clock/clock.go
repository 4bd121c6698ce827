// Package clock holds the timestamp arithmetic used by the retiming core.
// Timestamps are durations on a source clock; only differences matter.
package clock

import (
	"fmt"
	"time"
)

// DefaultOutputFPS is the output frame rate the retiming threshold is derived from.
const DefaultOutputFPS = 30

var epoch = time.Now()

// Now returns a monotonic timestamp relative to process start.
func Now() time.Duration {
	return time.Since(epoch)
}

// FrameInterval returns the duration of one frame at fps.
func FrameInterval(fps int) time.Duration {
	if fps <= 0 {
		fps = DefaultOutputFPS
	}
	return time.Second / time.Duration(fps)
}

// Scale multiplies d by factor.
func Scale(d time.Duration, factor float64) time.Duration {
	return time.Duration(float64(d) * factor)
}

// Compress divides d by multiple. A multiple below one is treated as one.
func Compress(d time.Duration, multiple float64) time.Duration {
	if multiple < 1 {
		multiple = 1
	}
	return time.Duration(float64(d) / multiple)
}

// Retime maps a source timestamp onto the compressed output timeline anchored at offset:
// offset + (ts - offset) / multiple.
func Retime(ts, offset time.Duration, multiple float64) time.Duration {
	return offset + Compress(ts-offset, multiple)
}

// Threshold is the real elapsed time that must pass before the next output frame slot opens.
func Threshold(interval time.Duration, multiple float64) time.Duration {
	if multiple < 1 {
		multiple = 1
	}
	return Scale(interval, multiple)
}

// Format renders d as mm:ss.cc for status lines.
func Format(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := int(d / time.Minute)
	seconds := d % time.Minute
	return fmt.Sprintf("%02d:%05.2f", minutes, seconds.Seconds())
}
