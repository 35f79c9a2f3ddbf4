package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-changefeed/core"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// RepositoryFactory opens the changefeed tables on one bun database. It is
// what core.WithRepositoryFactory expects, and the first BuildStores call fixes
// the database for the factory's lifetime.
type RepositoryFactory struct {
	db *bun.DB

	blobs      *StateBlobStore
	ledger     *NotificationDispatchStore
	rateLimits *RateLimitStateStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	return newBuiltFactory(client)
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	return newBuiltFactory(db)
}

func newBuiltFactory(client any) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

// BuildStores accepts a *bun.DB or anything exposing DB() *bun.DB, such as a
// go-persistence-bun client.
func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := bunDBFrom(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.built() {
		return f, nil
	}

	blobs, err := NewStateBlobStore(f.db)
	if err != nil {
		return nil, err
	}
	ledger, err := NewNotificationDispatchStore(f.db)
	if err != nil {
		return nil, err
	}
	rateLimits, err := NewRateLimitStateStore(f.db)
	if err != nil {
		return nil, err
	}
	f.blobs, f.ledger, f.rateLimits = blobs, ledger, rateLimits
	return f, nil
}

func (f *RepositoryFactory) built() bool {
	return f.blobs != nil && f.ledger != nil && f.rateLimits != nil
}

// BlobStore returns a nil interface, not a typed nil, before BuildStores.
func (f *RepositoryFactory) BlobStore() core.BlobStore {
	if store := f.StateBlobStore(); store != nil {
		return store
	}
	return nil
}

func (f *RepositoryFactory) DispatchLedger() core.DispatchLedger {
	if ledger := f.NotificationDispatchStore(); ledger != nil {
		return ledger
	}
	return nil
}

func (f *RepositoryFactory) StateBlobStore() *StateBlobStore {
	if f == nil {
		return nil
	}
	return f.blobs
}

func (f *RepositoryFactory) NotificationDispatchStore() *NotificationDispatchStore {
	if f == nil {
		return nil
	}
	return f.ledger
}

func (f *RepositoryFactory) RateLimitStateStore() *RateLimitStateStore {
	if f == nil {
		return nil
	}
	return f.rateLimits
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func bunDBFrom(candidate any) (*bun.DB, error) {
	switch client := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		if client == nil {
			return nil, fmt.Errorf("sqlstore: bun db is nil")
		}
		return client, nil
	case interface{ DB() *bun.DB }:
		if db := client.DB(); db != nil {
			return db, nil
		}
		return nil, fmt.Errorf("sqlstore: %T returned a nil bun db", candidate)
	default:
		return nil, fmt.Errorf("sqlstore: cannot resolve a bun db from %T", candidate)
	}
}
