package query

import (
	"strings"

	"github.com/goliatone/go-changefeed/core"
)

const (
	TypeLoadState      = "changefeed.query.state.load"
	TypePreviewChanges = "changefeed.query.changes.preview"
)

type LoadStateMessage struct {
	StateKey string
}

func (LoadStateMessage) Type() string { return TypeLoadState }

func (m LoadStateMessage) Validate() error {
	return validateStateKey(m.StateKey)
}

// PreviewChangesMessage computes the pending change set without dispatching
// or saving.
type PreviewChangesMessage struct {
	StateKey string
}

func (PreviewChangesMessage) Type() string { return TypePreviewChanges }

func (m PreviewChangesMessage) Validate() error {
	return validateStateKey(m.StateKey)
}

func validateStateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return core.NewFieldError("query", "state_key", "state key is required")
	}
	return nil
}
