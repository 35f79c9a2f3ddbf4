package command

import (
	"github.com/goliatone/go-changefeed/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Commander[RunSyncMessage] = (*RunSyncCommand)(nil)
	_ SyncService                     = (*core.Service)(nil)
)
