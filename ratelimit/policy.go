// Package ratelimit tracks upstream throttling per bucket (usually a host)
// from response status and rate limit headers.
package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"time"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// State is the last known quota and throttle window of one bucket.
type State struct {
	Bucket         string
	Limit          int
	Remaining      int
	ResetAt        *time.Time
	RetryAfter     *time.Duration
	ThrottledUntil *time.Time
	LastStatus     int
	Attempts       int
	UpdatedAt      time.Time
}

// Wait returns how long a call made at now must wait, or zero.
func (s State) Wait(now time.Time) time.Duration {
	if s.ThrottledUntil != nil && now.Before(*s.ThrottledUntil) {
		return s.ThrottledUntil.Sub(now)
	}
	if s.Remaining == 0 && s.ResetAt != nil && now.Before(*s.ResetAt) {
		return s.ResetAt.Sub(now)
	}
	return 0
}

type StateStore interface {
	Get(ctx context.Context, bucket string) (State, error)
	Upsert(ctx context.Context, state State) error
}

// ResponseMeta is the part of an HTTP response the policy reads.
type ResponseMeta struct {
	StatusCode int
	Headers    map[string]string
}

// AdaptivePolicy opens a throttle window when a bucket answers 429 or reports
// an exhausted quota. The window is the server's Retry-After hint when given,
// otherwise an exponential backoff on consecutive throttled responses.
// Server errors never open a window.
type AdaptivePolicy struct {
	Store          StateStore
	Now            func() time.Time
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func NewAdaptivePolicy(store StateStore) *AdaptivePolicy {
	if store == nil {
		store = NewMemoryStateStore()
	}
	return &AdaptivePolicy{
		Store:          store,
		Now:            func() time.Time { return time.Now().UTC() },
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
	}
}

// BeforeCall returns a ThrottledError while the bucket is inside a throttle
// window or has exhausted its quota until reset.
func (p *AdaptivePolicy) BeforeCall(ctx context.Context, bucket string) error {
	if p == nil || p.Store == nil {
		return nil
	}
	bucket = normalizeBucket(bucket)
	state, found, err := p.load(ctx, bucket)
	if err != nil || !found {
		return err
	}
	if wait := state.Wait(p.now()); wait > 0 {
		return ThrottledError{Bucket: bucket, RetryAfter: wait}
	}
	return nil
}

// AfterCall folds one response into the bucket state.
func (p *AdaptivePolicy) AfterCall(ctx context.Context, bucket string, res ResponseMeta) error {
	if p == nil || p.Store == nil {
		return nil
	}
	bucket = normalizeBucket(bucket)
	state, found, err := p.load(ctx, bucket)
	if err != nil {
		return err
	}
	if !found {
		state = State{Bucket: bucket}
	}

	now := p.now()
	headers := parseRateHeaders(res.Headers, now)
	headers.apply(&state)
	state.LastStatus = res.StatusCode
	state.UpdatedAt = now

	if !throttles(res.StatusCode, headers) {
		state.Attempts = 0
		state.ThrottledUntil = nil
		return p.Store.Upsert(ctx, state)
	}

	state.Attempts++
	delay := p.backoff(state.Attempts)
	if headers.retryAfter != nil {
		delay = *headers.retryAfter
	}
	until := now.Add(delay)
	state.ThrottledUntil = &until
	return p.Store.Upsert(ctx, state)
}

func (p *AdaptivePolicy) load(ctx context.Context, bucket string) (State, bool, error) {
	state, err := p.Store.Get(ctx, bucket)
	switch {
	case errors.Is(err, ErrStateNotFound):
		return State{}, false, nil
	case err != nil:
		return State{}, false, err
	}
	return state, true, nil
}

func (p *AdaptivePolicy) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// backoff doubles from InitialBackoff per consecutive throttled attempt and
// caps at MaxBackoff.
func (p *AdaptivePolicy) backoff(attempt int) time.Duration {
	delay := p.InitialBackoff
	if delay <= 0 {
		delay = time.Second
	}
	limit := p.MaxBackoff
	if limit <= 0 {
		limit = time.Minute
	}
	for range max(attempt-1, 0) {
		if delay >= limit/2 {
			return limit
		}
		delay *= 2
	}
	return min(delay, limit)
}

func throttles(status int, headers rateHeaders) bool {
	switch {
	case status == http.StatusTooManyRequests:
		return true
	case status >= http.StatusInternalServerError:
		return false
	}
	return headers.remaining != nil && *headers.remaining == 0
}
