package sqlstore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	EncodingJSON = "json"
	EncodingGzip = "gzip+json"
)

// StateBlobStore keeps one row per state key. Save replaces the row's data
// inside a transaction; there is no version check.
type StateBlobStore struct {
	db   *bun.DB
	repo repository.Repository[*stateBlobRecord]
	now  func() time.Time
}

func NewStateBlobStore(db *bun.DB) (*StateBlobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*stateBlobRecord](db, stateBlobHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid state blob repository wiring: %w", err)
		}
	}
	return &StateBlobStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *StateBlobStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil || s.repo == nil {
		return nil, false, fmt.Errorf("sqlstore: state blob store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, fmt.Errorf("sqlstore: state key is required")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("state_key", "=", key),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return nil, false, err
	}
	if len(records) == 0 || records[0] == nil {
		return nil, false, nil
	}
	return append([]byte(nil), records[0].Data...), true, nil
}

func (s *StateBlobStore) Save(ctx context.Context, key string, data []byte) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: state blob store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("sqlstore: state key is required")
	}
	now := s.now()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findStateBlobTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if record == nil {
			record = &stateBlobRecord{
				ID:        uuid.NewString(),
				Key:       key,
				CreatedAt: now,
				UpdatedAt: now,
			}
			applyStateBlob(record, data)
			_, err := tx.NewInsert().Model(record).Exec(ctx)
			return err
		}
		applyStateBlob(record, data)
		record.UpdatedAt = now
		_, err = tx.NewUpdate().
			Model(record).
			Column("data", "encoding", "size_bytes", "updated_at").
			Where("id = ?", record.ID).
			Exec(ctx)
		return err
	})
}

func applyStateBlob(record *stateBlobRecord, data []byte) {
	record.Data = append([]byte(nil), data...)
	record.Encoding = detectEncoding(data)
	record.SizeBytes = len(data)
}

func findStateBlobTx(ctx context.Context, tx bun.Tx, key string) (*stateBlobRecord, error) {
	record := &stateBlobRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.state_key = ?", key).
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

func detectEncoding(data []byte) string {
	if bytes.HasPrefix(data, []byte{0x1f, 0x8b}) {
		return EncodingGzip
	}
	return EncodingJSON
}
