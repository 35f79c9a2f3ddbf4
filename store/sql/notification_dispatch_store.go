package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-changefeed/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// NotificationDispatchStore appends one row per emission attempt. Seen only
// considers rows with status sent.
type NotificationDispatchStore struct {
	repo repository.Repository[*dispatchRecord]
}

func NewNotificationDispatchStore(db *bun.DB) (*NotificationDispatchStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*dispatchRecord](db, dispatchHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid notification dispatch repository wiring: %w", err)
		}
	}
	return &NotificationDispatchStore{repo: repo}, nil
}

func (s *NotificationDispatchStore) Seen(ctx context.Context, idempotencyKey string) (bool, error) {
	if s == nil || s.repo == nil {
		return false, fmt.Errorf("sqlstore: notification dispatch store is not configured")
	}
	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		return false, fmt.Errorf("sqlstore: idempotency key is required")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("idempotency_key", "=", key),
		repository.SelectBy("status", "=", string(core.DispatchStatusSent)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}

func (s *NotificationDispatchStore) Record(ctx context.Context, input core.DispatchRecord) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: notification dispatch store is not configured")
	}
	if strings.TrimSpace(input.IdempotencyKey) == "" {
		return fmt.Errorf("sqlstore: idempotency key is required")
	}
	if strings.TrimSpace(input.ItemID) == "" {
		return fmt.Errorf("sqlstore: item id is required")
	}
	if !input.EventType.Valid() {
		return fmt.Errorf("sqlstore: invalid event type %q", input.EventType)
	}

	status := strings.TrimSpace(string(input.Status))
	if status == "" {
		status = string(core.DispatchStatusSent)
	}
	record := &dispatchRecord{
		ID:          uuid.NewString(),
		RunID:       strings.TrimSpace(input.RunID),
		Idempotency: strings.TrimSpace(input.IdempotencyKey),
		EventType:   string(input.EventType),
		ItemID:      strings.TrimSpace(input.ItemID),
		Topic:       strings.TrimSpace(input.Topic),
		Status:      status,
		Error:       strings.TrimSpace(input.Error),
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.repo.Create(ctx, record)
	return err
}

// ListByRun returns the ledger rows of one run, oldest first.
func (s *NotificationDispatchStore) ListByRun(ctx context.Context, runID string) ([]core.DispatchRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: notification dispatch store is not configured")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("sqlstore: run id is required")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("run_id", "=", runID),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.DispatchRecord, 0, len(records))
	for _, record := range records {
		if record == nil {
			continue
		}
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (r *dispatchRecord) toDomain() core.DispatchRecord {
	return core.DispatchRecord{
		RunID:          r.RunID,
		IdempotencyKey: r.Idempotency,
		EventType:      core.EventType(r.EventType),
		ItemID:         r.ItemID,
		Topic:          r.Topic,
		Status:         core.DispatchStatus(r.Status),
		Error:          r.Error,
	}
}
