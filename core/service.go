package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	source            CollectionSource
	state             *StateStore
	dispatcher        *NotificationDispatcher
	dispatchLedger    DispatchLedger
	now               func() time.Time
	newRunID          func() string
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("changefeed", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("changefeed"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}
	if builder.newRunID == nil {
		builder.newRunID = uuid.NewString
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if (builder.blobStore == nil || builder.dispatchLedger == nil) && builder.repositoryFactory != nil {
		var stores StoreProvider
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			built, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			stores = built
		} else if provided, ok := builder.repositoryFactory.(StoreProvider); ok {
			stores = provided
		}
		if stores != nil {
			if builder.blobStore == nil {
				builder.blobStore = stores.BlobStore()
			}
			if builder.dispatchLedger == nil {
				builder.dispatchLedger = stores.DispatchLedger()
			}
		}
	}

	svc := &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		source:            builder.source,
		dispatchLedger:    builder.dispatchLedger,
		now:               builder.now,
		newRunID:          builder.newRunID,
	}

	if builder.blobStore != nil {
		state, err := NewStateStore(builder.blobStore, finalConfig.StateKey, StateCodec{
			Compress: !finalConfig.State.DisableCompression,
		})
		if err != nil {
			return nil, mapBuildError(builder.errorMapper, err)
		}
		svc.state = state
	}
	if builder.publisher != nil {
		dispatcher, err := NewNotificationDispatcher(
			builder.publisher,
			finalConfig.Topic,
			DispatcherConfig{
				MaxConcurrency: finalConfig.Dispatch.MaxConcurrency,
				Deduplicate:    finalConfig.Dispatch.Deduplicate,
			},
			builder.dispatchLedger,
			logger,
		)
		if err != nil {
			return nil, mapBuildError(builder.errorMapper, err)
		}
		svc.dispatcher = dispatcher
	}
	return svc, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Logger() Logger {
	if s == nil {
		return nil
	}
	return s.logger
}

func (s *Service) LoggerProvider() LoggerProvider {
	if s == nil {
		return nil
	}
	return s.loggerProvider
}

// Run executes one invocation: fetch and load concurrently, detect, then
// dispatch and persist concurrently. The result is populated on failure too,
// with Status set to failed.
func (s *Service) Run(ctx context.Context) (result RunResult, err error) {
	startedAt := time.Now()
	result = RunResult{
		StateKey:  s.Config().StateKey,
		Topic:     s.Config().Topic,
		Status:    RunStatusFailed,
		StartedAt: s.clock(),
	}
	fields := map[string]any{
		"state_key": result.StateKey,
		"topic":     result.Topic,
	}
	defer func() {
		result.FinishedAt = s.clock()
		fields["created"] = result.Created
		fields["updated"] = result.Updated
		fields["deleted"] = result.Deleted
		fields["delivered"] = result.Dispatch.Delivered
		fields["failed"] = result.Dispatch.Failed
		s.observeOperation(ctx, startedAt, "sync_run", err, fields)
	}()

	if err = s.requireRunDependencies(); err != nil {
		return result, err
	}
	result.RunID = s.newRunID()
	fields["run_id"] = result.RunID

	previous, snapshot, err := s.observe(ctx, result.RunID)
	if err != nil {
		return result, err
	}

	changes := DetectChanges(previous, snapshot.Markers)
	result.Created = len(changes.Created)
	result.Updated = len(changes.Updated)
	result.Deleted = len(changes.Deleted)
	s.recordChangeCounts(ctx, changes)

	var (
		group      errgroup.Group
		stats      DispatchStats
		dispatched error
		persisted  error
	)
	group.Go(func() error {
		stats, dispatched = s.dispatcher.Dispatch(ctx, DispatchInput{
			RunID:    result.RunID,
			Changes:  changes,
			Records:  snapshot.Records,
			Current:  snapshot.Markers,
			Previous: previous,
		})
		return nil
	})
	group.Go(func() error {
		persisted = s.state.SavePersisted(ctx, snapshot.Markers)
		return nil
	})
	_ = group.Wait()

	result.Dispatch = stats
	if err = s.joinErrors(dispatched, persisted); err != nil {
		return result, err
	}
	result.Status = RunStatusSucceeded
	return result, nil
}

// Preview runs the fetch, load and detect steps without dispatching or
// saving.
func (s *Service) Preview(ctx context.Context) (out PreviewResult, err error) {
	startedAt := time.Now()
	defer func() {
		s.observeOperation(ctx, startedAt, "preview", err, map[string]any{
			"state_key": s.Config().StateKey,
			"topic":     s.Config().Topic,
			"changes":   out.Changes.Len(),
		})
	}()
	if s == nil || s.source == nil || s.state == nil {
		return PreviewResult{}, s.mapError(fmt.Errorf("core: preview requires a collection source and blob store"))
	}
	previous, snapshot, err := s.observe(ctx, "")
	if err != nil {
		return PreviewResult{}, err
	}
	return PreviewResult{
		Changes:  DetectChanges(previous, snapshot.Markers),
		Previous: len(previous),
		Current:  len(snapshot.Markers),
	}, nil
}

func (s *Service) LoadState(ctx context.Context) (VersionMarkerMap, error) {
	if s == nil || s.state == nil {
		return nil, s.mapError(fmt.Errorf("core: blob store is required"))
	}
	markers, err := s.state.LoadPrevious(ctx)
	if err != nil {
		return nil, s.mapError(err)
	}
	return markers, nil
}

func (s *Service) requireRunDependencies() error {
	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	var missing []string
	if s.source == nil {
		missing = append(missing, "collection source")
	}
	if s.state == nil {
		missing = append(missing, "blob store")
	}
	if s.dispatcher == nil {
		missing = append(missing, "publisher")
	}
	if len(missing) > 0 {
		return s.mapError(newBadInputError("core: run requires " + strings.Join(missing, ", ")))
	}
	return nil
}

// observe fetches the current snapshot and loads the previous markers
// concurrently. Both are awaited so that a failure in one is reported
// alongside a failure in the other.
func (s *Service) observe(ctx context.Context, runID string) (VersionMarkerMap, Snapshot, error) {
	var (
		group    errgroup.Group
		previous VersionMarkerMap
		snapshot Snapshot
		loadErr  error
		fetchErr error
	)
	group.Go(func() error {
		previous, loadErr = s.state.LoadPrevious(ctx)
		return nil
	})
	group.Go(func() error {
		snapshot, fetchErr = s.fetchSnapshot(ctx, runID)
		return nil
	})
	_ = group.Wait()

	if err := s.joinErrors(fetchErr, loadErr); err != nil {
		return nil, Snapshot{}, err
	}
	return previous, snapshot, nil
}

func (s *Service) fetchSnapshot(ctx context.Context, runID string) (Snapshot, error) {
	snapshot := NewSnapshot()
	fetched := 0
	for record, err := range s.source.Records(ctx) {
		if err != nil {
			return Snapshot{}, NewSourceFetchError(err, fetched)
		}
		fetched++
		id := record.ID
		if id == "" {
			return Snapshot{}, NewSourceFetchError(fmt.Errorf("core: record %d has no id", fetched), fetched)
		}
		if len(record.Payload) == 0 || !jsonAPI.Valid(record.Payload) {
			return Snapshot{}, NewSourceFetchError(fmt.Errorf("core: record %q has no valid json payload", id), fetched)
		}
		if _, dup := snapshot.Markers[id]; dup {
			s.logWarn(ctx, "duplicate record id in snapshot, keeping last", map[string]any{
				"run_id":  runID,
				"item_id": id,
			})
		}
		snapshot.Markers[id] = record.VersionMarker
		snapshot.Records[id] = record.Payload
	}
	return snapshot, nil
}

func (s *Service) clock() time.Time {
	if s != nil && s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

// joinErrors maps each failure on its own so a joined result keeps every
// envelope instead of collapsing to the first.
func (s *Service) joinErrors(errs ...error) error {
	var mapped []error
	for _, err := range errs {
		if err == nil {
			continue
		}
		mapped = append(mapped, s.mapError(err))
	}
	switch len(mapped) {
	case 0:
		return nil
	case 1:
		return mapped[0]
	default:
		return errors.Join(mapped...)
	}
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return err
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}
