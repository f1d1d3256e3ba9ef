// Package format renders stored durations for display. Only a small pattern
// language is supported; callers never receive an error from it.
package format

import (
	"fmt"
	"strings"
)

// PatternMinutesSeconds is the only pattern currently recognized.
const PatternMinutesSeconds = "mm:ss"

// Millis formats a duration in milliseconds under the given pattern.
// "mm:ss" yields minutes (unbounded width), a colon, and zero-padded
// two-digit seconds. Sub-second remainders are truncated, not rounded.
// Any unrecognized or empty pattern falls back to "mm:ss".
func Millis(ms int64, pattern string) string {
	totalSeconds := ms / 1000
	minutes := totalSeconds / 60
	seconds := totalSeconds % 60

	if pattern == "" || strings.EqualFold(pattern, PatternMinutesSeconds) {
		return fmt.Sprintf("%d:%02d", minutes, seconds)
	}

	// Unknown pattern: fall back rather than fail.
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
