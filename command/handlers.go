package command

import (
	"context"
	"strings"

	"github.com/goliatone/go-changefeed/core"
	gocmd "github.com/goliatone/go-command"
)

type SyncService interface {
	Run(ctx context.Context) (core.RunResult, error)
	Config() core.Config
}

type RunSyncCommand struct {
	service SyncService
}

func NewRunSyncCommand(service SyncService) *RunSyncCommand {
	return &RunSyncCommand{service: service}
}

// Execute runs the bound changefeed. A message addressed to a different state
// key is rejected before anything is fetched. The RunResult is stored even
// when the run fails.
func (c *RunSyncCommand) Execute(ctx context.Context, msg RunSyncMessage) error {
	if c == nil || c.service == nil {
		return core.NewMissingDependencyError("command: changefeed service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if bound := c.service.Config().StateKey; strings.TrimSpace(msg.StateKey) != bound {
		return core.NewUnboundStateKeyError("command", msg.StateKey)
	}
	out, err := c.service.Run(ctx)
	storeResult(ctx, out)
	return err
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
