package query

import (
	"github.com/goliatone/go-changefeed/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Querier[LoadStateMessage, core.VersionMarkerMap]   = (*LoadStateQuery)(nil)
	_ gocmd.Querier[PreviewChangesMessage, core.PreviewResult] = (*PreviewChangesQuery)(nil)
	_ StateReader                                              = (*core.Service)(nil)
	_ ChangePreviewer                                          = (*core.Service)(nil)
)
