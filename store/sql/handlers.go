package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

const (
	stateKeyColumn   = "state_key"
	dispatchIDColumn = "id"
	bucketColumn     = "bucket"
)

// handlersFor builds go-repository-bun model handlers for a changefeed table.
// Row ids are uuid strings; anything unparsable reads back as uuid.Nil.
func handlersFor[R keyedRecord](naturalKeyColumn string, newRecord func() R) repository.ModelHandlers[R] {
	return repository.ModelHandlers[R]{
		NewRecord: newRecord,
		GetID: func(record R) uuid.UUID {
			parsed, err := uuid.Parse(strings.TrimSpace(record.rowID()))
			if err != nil {
				return uuid.Nil
			}
			return parsed
		},
		SetID: func(record R, id uuid.UUID) {
			record.setRowID(id.String())
		},
		GetIdentifier: func() string {
			return naturalKeyColumn
		},
		GetIdentifierValue: func(record R) string {
			return strings.TrimSpace(record.naturalKey())
		},
	}
}

func stateBlobHandlers() repository.ModelHandlers[*stateBlobRecord] {
	return handlersFor(stateKeyColumn, func() *stateBlobRecord { return &stateBlobRecord{} })
}

func dispatchHandlers() repository.ModelHandlers[*dispatchRecord] {
	return handlersFor(dispatchIDColumn, func() *dispatchRecord { return &dispatchRecord{} })
}

func rateLimitStateHandlers() repository.ModelHandlers[*rateLimitStateRecord] {
	return handlersFor(bucketColumn, func() *rateLimitStateRecord { return &rateLimitStateRecord{} })
}
