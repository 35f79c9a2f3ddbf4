package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	headerLimit      = "x-ratelimit-limit"
	headerRemaining  = "x-ratelimit-remaining"
	headerReset      = "x-ratelimit-reset"
	headerRetryAfter = "retry-after"
)

// rateHeaders holds the rate limit headers present on one response.
type rateHeaders struct {
	limit      *int
	remaining  *int
	resetAt    *time.Time
	retryAfter *time.Duration
}

func parseRateHeaders(headers map[string]string, now time.Time) rateHeaders {
	lookup := make(map[string]string, len(headers))
	for key, value := range headers {
		lookup[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}

	var out rateHeaders
	if value, err := strconv.Atoi(lookup[headerLimit]); err == nil {
		out.limit = &value
	}
	if value, err := strconv.Atoi(lookup[headerRemaining]); err == nil {
		out.remaining = &value
	}
	if unix, err := strconv.ParseInt(lookup[headerReset], 10, 64); err == nil && unix > 0 {
		reset := time.Unix(unix, 0).UTC()
		out.resetAt = &reset
	}
	if wait, ok := parseRetryAfter(lookup[headerRetryAfter], now); ok {
		out.retryAfter = &wait
	}
	return out
}

// parseRetryAfter accepts delta seconds (fractions allowed) or an HTTP date.
func parseRetryAfter(raw string, now time.Time) (time.Duration, bool) {
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds * float64(time.Second)), true
	}
	if at, err := http.ParseTime(raw); err == nil && at.After(now) {
		return at.Sub(now), true
	}
	return 0, false
}

// apply copies the reported quota into state. RetryAfter always reflects the
// latest response.
func (h rateHeaders) apply(state *State) {
	if h.limit != nil {
		state.Limit = *h.limit
	}
	if h.remaining != nil {
		state.Remaining = *h.remaining
	}
	if h.resetAt != nil {
		state.ResetAt = h.resetAt
	}
	state.RetryAfter = h.retryAfter
}

func normalizeBucket(bucket string) string {
	return strings.ToLower(strings.TrimSpace(bucket))
}
