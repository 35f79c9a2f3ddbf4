// Package core holds the changefeed domain: change detection over version
// marker maps, persisted state, notification dispatch and the Service that
// runs one observation cycle. Storage and transport adapters depend on this
// package; core does not depend on them.
package core
