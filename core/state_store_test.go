package core

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestStateStore_MissingBlobIsEmptyMap(t *testing.T) {
	store, err := NewStateStore(NewMemoryBlobStore(), "state.json", StateCodec{Compress: true})
	if err != nil {
		t.Fatalf("new state store: %v", err)
	}
	markers, err := store.LoadPrevious(context.Background())
	if err != nil {
		t.Fatalf("load previous: %v", err)
	}
	if markers == nil || len(markers) != 0 {
		t.Fatalf("expected empty non-nil map, got %#v", markers)
	}
}

func TestStateStore_RoundTripCompressed(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemoryBlobStore()
	store, err := NewStateStore(blobs, "state.json", StateCodec{Compress: true})
	if err != nil {
		t.Fatalf("new state store: %v", err)
	}
	want := VersionMarkerMap{"a": "2024-01-01T00:00:00.000Z", "b": "rev-7"}
	if err := store.SavePersisted(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	raw, found, err := blobs.Load(ctx, "state.json")
	if err != nil || !found {
		t.Fatalf("expected stored blob, found=%v err=%v", found, err)
	}
	if !bytes.HasPrefix(raw, gzipMagic) {
		t.Fatalf("expected gzip encoded blob")
	}

	got, err := store.LoadPrevious(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestStateStore_ReadsPlainBlobWhenCompressionEnabled(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemoryBlobStore()
	if err := blobs.Save(ctx, "state.json", []byte(`{"a":"1"}`)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store, err := NewStateStore(blobs, "state.json", StateCodec{Compress: true})
	if err != nil {
		t.Fatalf("new state store: %v", err)
	}
	got, err := store.LoadPrevious(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got["a"] != "1" || len(got) != 1 {
		t.Fatalf("unexpected markers %v", got)
	}
}

func TestStateStore_EmptyMapPersists(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemoryBlobStore()
	store, err := NewStateStore(blobs, "state.json", StateCodec{})
	if err != nil {
		t.Fatalf("new state store: %v", err)
	}
	if err := store.SavePersisted(ctx, VersionMarkerMap{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, found, _ := blobs.Load(ctx, "state.json")
	if !found || string(raw) != "{}" {
		t.Fatalf("expected empty object blob, got %q", raw)
	}
	got, err := store.LoadPrevious(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
}

func TestStateStore_MalformedBlobIsValidationError(t *testing.T) {
	cases := map[string]string{
		"non string value": `{"a":5}`,
		"array":            `["a","b"]`,
		"nested object":    `{"a":{"b":"c"}}`,
		"null":             `null`,
		"not json":         `{"a":`,
	}
	for name, blob := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			blobs := NewMemoryBlobStore()
			if err := blobs.Save(ctx, "state.json", []byte(blob)); err != nil {
				t.Fatalf("seed: %v", err)
			}
			store, err := NewStateStore(blobs, "state.json", StateCodec{})
			if err != nil {
				t.Fatalf("new state store: %v", err)
			}
			_, err = store.LoadPrevious(ctx)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !IsValidationError(err) {
				t.Fatalf("expected validation text code, got %v", err)
			}
		})
	}
}

func TestStateStore_LoadFailureIsNotFirstRun(t *testing.T) {
	store, err := NewStateStore(&failingBlobStore{loadErr: errors.New("bucket unavailable")}, "state.json", StateCodec{})
	if err != nil {
		t.Fatalf("new state store: %v", err)
	}
	_, err = store.LoadPrevious(context.Background())
	if !IsStateLoadError(err) {
		t.Fatalf("expected state load error, got %v", err)
	}
}

func TestStateStore_SaveFailureIsPersistError(t *testing.T) {
	store, err := NewStateStore(&failingBlobStore{saveErr: errors.New("write denied")}, "state.json", StateCodec{})
	if err != nil {
		t.Fatalf("new state store: %v", err)
	}
	err = store.SavePersisted(context.Background(), VersionMarkerMap{"a": "1"})
	if !IsPersistError(err) {
		t.Fatalf("expected persist error, got %v", err)
	}
}

func TestStateCodec_EncodeIsByteStable(t *testing.T) {
	codec := StateCodec{}
	first, err := codec.Encode(VersionMarkerMap{"b": "2", "a": "1", "c": "3"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	second, err := codec.Encode(VersionMarkerMap{"c": "3", "a": "1", "b": "2"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(first) != `{"a":"1","b":"2","c":"3"}` || !bytes.Equal(first, second) {
		t.Fatalf("expected sorted stable output, got %s and %s", first, second)
	}
}
