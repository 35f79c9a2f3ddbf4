package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ BlobStore         = (*MemoryBlobStore)(nil)
	_ DispatchLedger    = (*MemoryDispatchLedger)(nil)
	_ MetricsRecorder   = NopMetricsRecorder{}
	_ ChangefeedService = (*Service)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
