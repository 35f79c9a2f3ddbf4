package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-changefeed/core"
)

type StateReader interface {
	LoadState(ctx context.Context) (core.VersionMarkerMap, error)
	Config() core.Config
}

type ChangePreviewer interface {
	Preview(ctx context.Context) (core.PreviewResult, error)
	Config() core.Config
}

type LoadStateQuery struct {
	reader StateReader
}

func NewLoadStateQuery(reader StateReader) *LoadStateQuery {
	return &LoadStateQuery{reader: reader}
}

func (q *LoadStateQuery) Query(ctx context.Context, msg LoadStateMessage) (core.VersionMarkerMap, error) {
	if q == nil || q.reader == nil {
		return nil, core.NewMissingDependencyError("query: state reader is required")
	}
	if err := checkStateKey(msg.StateKey, q.reader.Config()); err != nil {
		return nil, err
	}
	return q.reader.LoadState(ctx)
}

type PreviewChangesQuery struct {
	previewer ChangePreviewer
}

func NewPreviewChangesQuery(previewer ChangePreviewer) *PreviewChangesQuery {
	return &PreviewChangesQuery{previewer: previewer}
}

func (q *PreviewChangesQuery) Query(ctx context.Context, msg PreviewChangesMessage) (core.PreviewResult, error) {
	if q == nil || q.previewer == nil {
		return core.PreviewResult{}, core.NewMissingDependencyError("query: change previewer is required")
	}
	if err := checkStateKey(msg.StateKey, q.previewer.Config()); err != nil {
		return core.PreviewResult{}, err
	}
	return q.previewer.Preview(ctx)
}

func checkStateKey(key string, cfg core.Config) error {
	if err := validateStateKey(key); err != nil {
		return err
	}
	if strings.TrimSpace(key) != cfg.StateKey {
		return core.NewUnboundStateKeyError("query", key)
	}
	return nil
}
