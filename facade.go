package changefeed

import (
	"context"
	"fmt"

	changefeedcommand "github.com/goliatone/go-changefeed/command"
	"github.com/goliatone/go-changefeed/core"
	changefeedquery "github.com/goliatone/go-changefeed/query"
	gocmd "github.com/goliatone/go-command"
)

// CommandQueryService is what the run command and the state queries need
// from a changefeed. *Service satisfies it.
type CommandQueryService interface {
	changefeedcommand.SyncService
	changefeedquery.StateReader
	changefeedquery.ChangePreviewer
}

type Commands struct {
	RunSync *changefeedcommand.RunSyncCommand
}

type Queries struct {
	LoadState      *changefeedquery.LoadStateQuery
	PreviewChanges *changefeedquery.PreviewChangesQuery
}

// Facade binds the command and query handlers to one changefeed. Its
// RunSync, LoadState and Preview methods address the bound state key, so
// callers outside a dispatcher need not build messages.
type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("changefeed: command/query service is required")
	}
	f := &Facade{service: service}
	f.commands.RunSync = changefeedcommand.NewRunSyncCommand(service)
	f.queries.LoadState = changefeedquery.NewLoadStateQuery(service)
	f.queries.PreviewChanges = changefeedquery.NewPreviewChangesQuery(service)
	return f, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

func (f *Facade) stateKey() (string, error) {
	if f == nil || f.service == nil {
		return "", core.NewMissingDependencyError("changefeed: facade has no service")
	}
	return f.service.Config().StateKey, nil
}

// RunSync executes the run command and returns its RunResult, which is
// populated even when the run fails.
func (f *Facade) RunSync(ctx context.Context) (RunResult, error) {
	key, err := f.stateKey()
	if err != nil {
		return RunResult{}, err
	}
	collector := gocmd.NewResult[core.RunResult]()
	err = f.commands.RunSync.Execute(gocmd.ContextWithResult(ctx, collector), changefeedcommand.RunSyncMessage{StateKey: key})
	result, _ := collector.Load()
	return result, err
}

func (f *Facade) LoadState(ctx context.Context) (VersionMarkerMap, error) {
	key, err := f.stateKey()
	if err != nil {
		return nil, err
	}
	return f.queries.LoadState.Query(ctx, changefeedquery.LoadStateMessage{StateKey: key})
}

func (f *Facade) Preview(ctx context.Context) (PreviewResult, error) {
	key, err := f.stateKey()
	if err != nil {
		return PreviewResult{}, err
	}
	return f.queries.PreviewChanges.Query(ctx, changefeedquery.PreviewChangesMessage{StateKey: key})
}

var _ CommandQueryService = (*Service)(nil)
