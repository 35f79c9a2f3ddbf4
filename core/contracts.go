package core

import (
	"context"
	"iter"

	glog "github.com/goliatone/go-logger/glog"
	jsoniter "github.com/json-iterator/go"
)

// jsonAPI sorts map keys on encode, which keeps persisted state byte-stable.
var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// CollectionSource yields every record of one collection snapshot. Each call
// to Records starts a fresh listing; pagination is the source's concern.
type CollectionSource interface {
	Records(ctx context.Context) iter.Seq2[Record, error]
}

// BlobStore is a keyed single-slot store. Save overwrites unconditionally.
type BlobStore interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, data []byte) error
}

// Publisher hands one message to a bus. Delivery is at-least-once and
// unordered.
type Publisher interface {
	Publish(ctx context.Context, topic string, message OutboundMessage) error
}

type DispatchLedger interface {
	Seen(ctx context.Context, idempotencyKey string) (bool, error)
	Record(ctx context.Context, record DispatchRecord) error
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type ChangefeedService interface {
	Run(ctx context.Context) (RunResult, error)
	Preview(ctx context.Context) (PreviewResult, error)
	LoadState(ctx context.Context) (VersionMarkerMap, error)
}

type StoreProvider interface {
	BlobStore() BlobStore
	DispatchLedger() DispatchLedger
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
