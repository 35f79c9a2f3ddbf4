package core

import (
	"context"
	"fmt"
	"strings"
)

type StateStore struct {
	blobs BlobStore
	key   string
	codec StateCodec
}

func NewStateStore(blobs BlobStore, key string, codec StateCodec) (*StateStore, error) {
	if blobs == nil {
		return nil, fmt.Errorf("core: blob store is required")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("core: state key is required")
	}
	return &StateStore{blobs: blobs, key: key, codec: codec}, nil
}

func (s *StateStore) Key() string {
	if s == nil {
		return ""
	}
	return s.key
}

// LoadPrevious returns the last persisted markers. A missing blob means first
// run and yields an empty map; a blob with the wrong shape is a validation
// error.
func (s *StateStore) LoadPrevious(ctx context.Context) (VersionMarkerMap, error) {
	if s == nil || s.blobs == nil {
		return nil, fmt.Errorf("core: state store is not configured")
	}
	data, found, err := s.blobs.Load(ctx, s.key)
	if err != nil {
		return nil, NewStateLoadError(err, s.key)
	}
	if !found {
		return VersionMarkerMap{}, nil
	}
	markers, err := s.codec.Decode(data)
	if err != nil {
		return nil, NewValidationError(err, s.key)
	}
	return markers, nil
}

// SavePersisted overwrites the slot with the full map. There is no merge and
// no concurrency check.
func (s *StateStore) SavePersisted(ctx context.Context, markers VersionMarkerMap) error {
	if s == nil || s.blobs == nil {
		return fmt.Errorf("core: state store is not configured")
	}
	data, err := s.codec.Encode(markers)
	if err != nil {
		return NewPersistError(err, s.key)
	}
	if err := s.blobs.Save(ctx, s.key, data); err != nil {
		return NewPersistError(err, s.key)
	}
	return nil
}
