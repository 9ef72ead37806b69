package logger

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Status maps an operation result to the status field: ok, cancelled when the
// caller's context ended, fail otherwise.
func Status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "fail"
	}
}

// RoundMS rounds duration to the nearest millisecond; negative values become zero.
func RoundMS(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d.Round(time.Millisecond)
}

// SummarizeStrings joins up to limit values for a single log field and reports
// whether some were left out.
func SummarizeStrings(values []string, limit int) (string, bool) {
	if limit <= 0 {
		return "", len(values) > 0
	}
	n := min(len(values), limit)
	return strings.Join(values[:n], ", "), len(values) > limit
}
