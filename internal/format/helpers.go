package format

import (
	"fmt"
	"time"
)

// FmtScore formats an accuracy or percentile in [0,1] with three decimals.
func FmtScore(v float64) string {
	return fmt.Sprintf("%.3f", v)
}

// FmtPercent formats a ratio in [0,1] as a percentage.
func FmtPercent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

// FmtDuration formats a duration as "Xm Ys" or "Ys".
func FmtDuration(d time.Duration) string {
	s := int(d.Seconds())
	if s >= 60 {
		return fmt.Sprintf("%dm %ds", s/60, s%60)
	}
	return fmt.Sprintf("%ds", s)
}

// Truncate shortens s to maxLen characters, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
