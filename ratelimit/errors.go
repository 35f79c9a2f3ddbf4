package ratelimit

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-changefeed/core"
	goerrors "github.com/goliatone/go-errors"
)

// ThrottledError reports that a bucket must not be called for RetryAfter.
type ThrottledError struct {
	Bucket     string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf("ratelimit: bucket %q throttled for %s", strings.TrimSpace(e.Bucket), e.RetryAfter)
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{"bucket": strings.TrimSpace(e.Bucket)}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ErrorCodeRateLimited).
		WithMetadata(metadata)
}
