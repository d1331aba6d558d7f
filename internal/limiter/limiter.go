// Package limiter tracks per-provider quota usage over a sliding window and
// recognises throttling responses.
package limiter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// rateLimitKeywords mark provider messages that signal throttling even when
// no 429 status is available.
var rateLimitKeywords = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
	"quota exceeded",
	"resource exhausted",
	"resource_exhausted",
}

// LooksRateLimited returns true if msg contains a throttling signal.
func LooksRateLimited(msg string) bool {
	lower := strings.ToLower(msg)
	for _, kw := range rateLimitKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

var retryAfterRe = regexp.MustCompile(`(?:(\d+)h)?(?:(\d+)m)?(\d+(?:\.\d+)?)s`)

// ParseRetryAfter extracts a cooldown such as "1h2m3.5s" or "90s" embedded in
// a provider error message.
func ParseRetryAfter(msg string) (time.Duration, bool) {
	m := retryAfterRe.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	var d time.Duration
	if m[1] != "" {
		h, _ := strconv.Atoi(m[1])
		d += time.Duration(h) * time.Hour
	}
	if m[2] != "" {
		mins, _ := strconv.Atoi(m[2])
		d += time.Duration(mins) * time.Minute
	}
	secs, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, false
	}
	d += time.Duration(secs * float64(time.Second))
	return d, true
}

// ErrRateLimit is reported when a provider throttles a request. Cooldown is
// zero when the provider gave no usable retry hint.
type ErrRateLimit struct {
	Cooldown time.Duration
	Message  string
}

func (e *ErrRateLimit) Error() string {
	if e.Cooldown > 0 {
		return fmt.Sprintf("rate limit detected (retry in %s): %s", e.Cooldown, e.Message)
	}
	return "rate limit detected: " + e.Message
}

// RetryHint returns the cooldown of a message that asks the caller to retry
// later, such as "please retry after 1m30s". Durations in messages without a
// retry instruction are ignored.
func RetryHint(msg string) (time.Duration, bool) {
	if !strings.Contains(strings.ToLower(msg), "retry") {
		return 0, false
	}
	return ParseRetryAfter(msg)
}
