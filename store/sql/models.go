package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type stateBlobRecord struct {
	bun.BaseModel `bun:"table:changefeed_state,alias:cfs"`

	ID        string    `bun:"id,pk"`
	Key       string    `bun:"state_key,notnull,unique"`
	Data      []byte    `bun:"data,notnull"`
	Encoding  string    `bun:"encoding,notnull"`
	SizeBytes int       `bun:"size_bytes,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type dispatchRecord struct {
	bun.BaseModel `bun:"table:changefeed_dispatches,alias:cfd"`

	ID          string    `bun:"id,pk"`
	RunID       string    `bun:"run_id,notnull"`
	Idempotency string    `bun:"idempotency_key,notnull"`
	EventType   string    `bun:"event_type,notnull"`
	ItemID      string    `bun:"item_id,notnull"`
	Topic       string    `bun:"topic,notnull"`
	Status      string    `bun:"status,notnull"`
	Error       string    `bun:"error,notnull"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type rateLimitStateRecord struct {
	bun.BaseModel `bun:"table:changefeed_rate_limits,alias:cfr"`

	ID             string     `bun:"id,pk"`
	Bucket         string     `bun:"bucket,notnull,unique"`
	Limit          int        `bun:"limit_value,notnull"`
	Remaining      int        `bun:"remaining,notnull"`
	ResetAt        *time.Time `bun:"reset_at,nullzero"`
	RetryAfterMS   *int64     `bun:"retry_after_ms,nullzero"`
	ThrottledUntil *time.Time `bun:"throttled_until,nullzero"`
	LastStatus     int        `bun:"last_status,notnull"`
	Attempts       int        `bun:"attempts,notnull"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// keyedRecord is implemented by every changefeed table model. Methods are
// nil-safe so repository handlers can call them on empty results.
type keyedRecord interface {
	rowID() string
	setRowID(id string)
	naturalKey() string
}

func (r *stateBlobRecord) rowID() string {
	if r == nil {
		return ""
	}
	return r.ID
}

func (r *stateBlobRecord) setRowID(id string) {
	if r != nil {
		r.ID = id
	}
}

func (r *stateBlobRecord) naturalKey() string {
	if r == nil {
		return ""
	}
	return r.Key
}

func (r *dispatchRecord) rowID() string {
	if r == nil {
		return ""
	}
	return r.ID
}

func (r *dispatchRecord) setRowID(id string) {
	if r != nil {
		r.ID = id
	}
}

// Dispatch rows have no natural key besides their id.
func (r *dispatchRecord) naturalKey() string { return r.rowID() }

func (r *rateLimitStateRecord) rowID() string {
	if r == nil {
		return ""
	}
	return r.ID
}

func (r *rateLimitStateRecord) setRowID(id string) {
	if r != nil {
		r.ID = id
	}
}

func (r *rateLimitStateRecord) naturalKey() string {
	if r == nil {
		return ""
	}
	return r.Bucket
}
