package command

import (
	"strings"

	"github.com/goliatone/go-changefeed/core"
)

const TypeRunSync = "changefeed.command.run_sync"

// RunSyncMessage asks the changefeed bound to StateKey to run once.
type RunSyncMessage struct {
	StateKey string
}

func (RunSyncMessage) Type() string { return TypeRunSync }

func (m RunSyncMessage) Validate() error {
	if strings.TrimSpace(m.StateKey) == "" {
		return core.NewFieldError("command", "state_key", "state key is required")
	}
	return nil
}
