package logger

import "strings"

const (
	// LevelDebug represents the debug severity level name.
	LevelDebug = "DEBUG"
	// LevelInfo represents the info severity level name.
	LevelInfo = "INFO"
	// LevelWarn represents the warning severity level name.
	LevelWarn = "WARN"
	// LevelError represents the error severity level name.
	LevelError = "ERROR"
)

var allowedLevels = map[string]string{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

// Status values used by webhook and sender logs.
var allowedStatus = map[string]string{
	"ok":        "ok",
	"fail":      "fail",
	"skip":      "skip",
	"rejected":  "rejected",
	"cancelled": "cancelled",
}

// Outcome values describe what the relay did with an update.
var allowedOutcome = map[string]string{
	"sent":      "sent",
	"ignored":   "ignored",
	"failed":    "failed",
	"malformed": "malformed",
	"cancelled": "cancelled",
}

func normalizeLevel(level string) string {
	if level == "" {
		return LevelInfo
	}
	if mapped, ok := allowedLevels[strings.ToLower(level)]; ok {
		return mapped
	}
	return strings.ToUpper(level)
}

func normalizeStatus(status string) (string, bool) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status == "" {
		return "", false
	}
	if mapped, ok := allowedStatus[status]; ok {
		return mapped, true
	}
	return status, false
}

func normalizeOutcome(outcome string) (string, bool) {
	outcome = strings.ToLower(strings.TrimSpace(outcome))
	if outcome == "" {
		return "", false
	}
	val, ok := allowedOutcome[outcome]
	return val, ok
}

var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"rid_full",
	"trace_id",
	"span_id",
	"ts_unix_nano",
	"request_id",
	"update_id",
	"chat_id",
	"handler",
	"method",
	"path",
	"alias",
	"http_code",
	"outcome",
	"duration_ms",
	"action",
	"endpoint",
	"payload",
	"text_len",
	"mode",
	"listen",
	"aliases",
	"public_url",
	"db",
	"host",
	"port",
	"err",
	"err_kind",
	"err_code",
	"cause",
	"retryable",
	"attempts",
}
