package worker

import "strings"

// retryablePatterns match transient upstream failures: provider rate
// limits, timeouts, 5xx responses, and dropped connections.
var retryablePatterns = []string{
	"429",
	"rate limit",
	"timeout",
	"timed out",
	"500",
	"502",
	"503",
	"504",
	"connection reset",
	"connection refused",
	"no such host",
	"deadline exceeded",
}

// IsRetryableError reports whether a failed job should stay eligible
// for reclaim by a future poll.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
