package llm

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Rate limit headers sent by OpenAI-compatible endpoints.
const (
	HeaderRetryAfter        = "retry-after"
	HeaderRemainingRequests = "x-ratelimit-remaining-requests"
	HeaderRemainingTokens   = "x-ratelimit-remaining-tokens"
	HeaderResetRequests     = "x-ratelimit-reset-requests"
	HeaderResetTokens       = "x-ratelimit-reset-tokens"
)

// RateLimitState is the advisory quota read from a single response.
type RateLimitState struct {
	RemainingRequests int
	RemainingTokens   int
	ResetRequests     time.Duration
	ResetTokens       time.Duration
}

// ParseRateLimitState reads quota headers. Missing or unreadable values
// count as one remaining unit and defaultReset until the window resets.
func ParseRateLimitState(h http.Header, defaultReset time.Duration) RateLimitState {
	return RateLimitState{
		RemainingRequests: parseCount(h.Get(HeaderRemainingRequests)),
		RemainingTokens:   parseCount(h.Get(HeaderRemainingTokens)),
		ResetRequests:     parseReset(h.Get(HeaderResetRequests), defaultReset),
		ResetTokens:       parseReset(h.Get(HeaderResetTokens), defaultReset),
	}
}

func parseCount(value string) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 1
	}
	return n
}

// parseReset accepts bare seconds ("12.5"), Go-style durations ("2m59.56s",
// "120ms") and seconds with any trailing unit letters ("7.66s").
func parseReset(value string, fallback time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	if d, ok := parseSeconds(value); ok {
		return d
	}
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d
	}
	if d, ok := parseSeconds(strings.TrimRight(value, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")); ok {
		return d
	}
	return fallback
}

// maxSeconds is the largest wait a time.Duration can hold.
var maxSeconds = float64(math.MaxInt64) / float64(time.Second)

func parseSeconds(value string) (time.Duration, bool) {
	secs, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(secs) || secs < 0 || secs >= maxSeconds {
		return 0, false
	}
	d := time.Duration(secs * float64(time.Second))
	if d < 0 {
		return 0, false
	}
	return d, true
}

// retryAfter reads the wait advised by a 429 response. The header may carry
// seconds or an HTTP date.
func retryAfter(h http.Header, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(h.Get(HeaderRetryAfter))
	if value == "" {
		return fallback
	}
	if d, ok := parseSeconds(value); ok {
		return d
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
		return 0
	}
	return fallback
}
