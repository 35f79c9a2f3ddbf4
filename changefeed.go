// Package changefeed observes a remote collection, diffs it against the last
// persisted snapshot and publishes one notification per created, updated or
// deleted item.
package changefeed

import (
	"embed"
	"io/fs"

	"github.com/goliatone/go-changefeed/core"
)

// Schema for the state, dispatch and rate limit tables. Postgres files sit at
// the top level and the sqlite variants in a subdirectory.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var schemaFS embed.FS

// GetMigrationsFS returns the embedded schema rooted at the module root, as
// the migrations package expects.
func GetMigrationsFS() fs.FS {
	return schemaFS
}

type Config = core.Config
type StateConfig = core.StateConfig
type DispatchConfig = core.DispatchConfig

type Option = core.Option

type Service = core.Service

type CollectionSource = core.CollectionSource
type BlobStore = core.BlobStore
type Publisher = core.Publisher
type DispatchLedger = core.DispatchLedger
type MetricsRecorder = core.MetricsRecorder

type Record = core.Record
type VersionMarkerMap = core.VersionMarkerMap
type ChangeSet = core.ChangeSet
type EventType = core.EventType
type NotificationEvent = core.NotificationEvent
type OutboundMessage = core.OutboundMessage
type RunResult = core.RunResult
type PreviewResult = core.PreviewResult

const (
	EventTypeCreated = core.EventTypeCreated
	EventTypeUpdated = core.EventTypeUpdated
	EventTypeDeleted = core.EventTypeDeleted
)

var (
	WithLogger            = core.WithLogger
	WithLoggerProvider    = core.WithLoggerProvider
	WithMetricsRecorder   = core.WithMetricsRecorder
	WithErrorMapper       = core.WithErrorMapper
	WithPersistenceClient = core.WithPersistenceClient
	WithRepositoryFactory = core.WithRepositoryFactory
	WithConfigProvider    = core.WithConfigProvider
	WithOptionsResolver   = core.WithOptionsResolver
	WithCollectionSource  = core.WithCollectionSource
	WithBlobStore         = core.WithBlobStore
	WithPublisher         = core.WithPublisher
	WithDispatchLedger    = core.WithDispatchLedger
	WithClock             = core.WithClock
	WithRunIDGenerator    = core.WithRunIDGenerator
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}

// DetectChanges is the pure diff used by every run.
func DetectChanges(previous VersionMarkerMap, current VersionMarkerMap) ChangeSet {
	return core.DetectChanges(previous, current)
}
