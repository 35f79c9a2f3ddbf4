package core

import (
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

type ErrorMapper func(err error) *goerrors.Error

type serviceBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	source            CollectionSource
	blobStore         BlobStore
	publisher         Publisher
	dispatchLedger    DispatchLedger
	now               func() time.Time
	newRunID          func() string
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithCollectionSource(source CollectionSource) Option {
	return func(b *serviceBuilder) {
		b.source = source
	}
}

func WithBlobStore(store BlobStore) Option {
	return func(b *serviceBuilder) {
		b.blobStore = store
	}
}

func WithPublisher(publisher Publisher) Option {
	return func(b *serviceBuilder) {
		b.publisher = publisher
	}
}

func WithDispatchLedger(ledger DispatchLedger) Option {
	return func(b *serviceBuilder) {
		b.dispatchLedger = ledger
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func WithRunIDGenerator(fn func() string) Option {
	return func(b *serviceBuilder) {
		b.newRunID = fn
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("changefeed", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return serviceErrorMapper(err)
}
