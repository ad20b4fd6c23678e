package duration

import (
	"fmt"
	"math"
)

// NotAvailable is shown when no duration is known.
const NotAvailable = "N/A"

// Format renders seconds as "m:ss", or N/A when unknown.
func Format(seconds *float64) string {
	if !known(seconds) {
		return NotAvailable
	}
	minutes, secs := split(*seconds)
	return fmt.Sprintf("%d:%02d", minutes, secs)
}

// FormatVerbose renders seconds as "X mins Y secs", or N/A when unknown.
func FormatVerbose(seconds *float64) string {
	if !known(seconds) {
		return NotAvailable
	}
	minutes, secs := split(*seconds)
	return fmt.Sprintf("%d mins %d secs", minutes, secs)
}

// FormatClock renders a player position as "m:ss". Unknown values render as 0:00.
func FormatClock(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return "0:00"
	}
	minutes, secs := split(seconds)
	return fmt.Sprintf("%d:%02d", minutes, secs)
}

func known(seconds *float64) bool {
	return seconds != nil && !math.IsNaN(*seconds) && !math.IsInf(*seconds, 0) && *seconds != 0
}

func split(seconds float64) (int64, int64) {
	whole := int64(math.Floor(seconds))
	return whole / 60, whole % 60
}
