package sqlstore

import (
	"github.com/goliatone/go-changefeed/core"
	"github.com/goliatone/go-changefeed/ratelimit"
)

var (
	_ core.BlobStore              = (*StateBlobStore)(nil)
	_ core.DispatchLedger         = (*NotificationDispatchStore)(nil)
	_ ratelimit.StateStore        = (*RateLimitStateStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
