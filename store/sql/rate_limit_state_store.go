package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-changefeed/ratelimit"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RateLimitStateStore persists throttle windows per bucket so a scheduled
// invocation honours a window opened by the previous one.
type RateLimitStateStore struct {
	db   *bun.DB
	repo repository.Repository[*rateLimitStateRecord]
}

func NewRateLimitStateStore(db *bun.DB) (*RateLimitStateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*rateLimitStateRecord](db, rateLimitStateHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid rate-limit state repository wiring: %w", err)
		}
	}
	return &RateLimitStateStore{db: db, repo: repo}, nil
}

func (s *RateLimitStateStore) Get(ctx context.Context, bucket string) (ratelimit.State, error) {
	if s == nil || s.repo == nil {
		return ratelimit.State{}, fmt.Errorf("sqlstore: rate-limit state store is not configured")
	}
	bucket = normalizeBucket(bucket)
	if bucket == "" {
		return ratelimit.State{}, fmt.Errorf("sqlstore: rate-limit bucket is required")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("bucket", "=", bucket),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return ratelimit.State{}, err
	}
	if len(records) == 0 || records[0] == nil {
		return ratelimit.State{}, ratelimit.ErrStateNotFound
	}
	return records[0].toDomain(), nil
}

func (s *RateLimitStateStore) Upsert(ctx context.Context, state ratelimit.State) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: rate-limit state store is not configured")
	}
	state.Bucket = normalizeBucket(state.Bucket)
	if state.Bucket == "" {
		return fmt.Errorf("sqlstore: rate-limit bucket is required")
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findRateLimitStateTx(ctx, tx, state.Bucket)
		if err != nil {
			return err
		}
		if record == nil {
			record = &rateLimitStateRecord{ID: uuid.NewString()}
			applyRateLimitState(record, state)
			_, err := tx.NewInsert().Model(record).Exec(ctx)
			return err
		}
		applyRateLimitState(record, state)
		_, err = tx.NewUpdate().
			Model(record).
			Where("id = ?", record.ID).
			Exec(ctx)
		return err
	})
}

func applyRateLimitState(record *rateLimitStateRecord, state ratelimit.State) {
	record.Bucket = state.Bucket
	record.Limit = state.Limit
	record.Remaining = state.Remaining
	record.ResetAt = copyTimePointer(state.ResetAt)
	record.ThrottledUntil = copyTimePointer(state.ThrottledUntil)
	record.RetryAfterMS = nil
	if state.RetryAfter != nil && *state.RetryAfter > 0 {
		ms := state.RetryAfter.Milliseconds()
		record.RetryAfterMS = &ms
	}
	record.LastStatus = state.LastStatus
	record.Attempts = state.Attempts
	record.UpdatedAt = state.UpdatedAt.UTC()
}

func (r *rateLimitStateRecord) toDomain() ratelimit.State {
	if r == nil {
		return ratelimit.State{}
	}
	state := ratelimit.State{
		Bucket:         r.Bucket,
		Limit:          r.Limit,
		Remaining:      r.Remaining,
		ResetAt:        copyTimePointer(r.ResetAt),
		ThrottledUntil: copyTimePointer(r.ThrottledUntil),
		LastStatus:     r.LastStatus,
		Attempts:       r.Attempts,
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	if r.RetryAfterMS != nil && *r.RetryAfterMS > 0 {
		value := time.Duration(*r.RetryAfterMS) * time.Millisecond
		state.RetryAfter = &value
	}
	return state
}

func findRateLimitStateTx(ctx context.Context, tx bun.Tx, bucket string) (*rateLimitStateRecord, error) {
	record := &rateLimitStateRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.bucket = ?", bucket).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func normalizeBucket(bucket string) string {
	return strings.ToLower(strings.TrimSpace(bucket))
}

func copyTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
