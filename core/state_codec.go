package core

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const stateSchemaURL = "mem://changefeed/state.schema.json"

var stateSchemaDocument = map[string]any{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type":    "object",
	"additionalProperties": map[string]any{
		"type": "string",
	},
}

var compiledStateSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(stateSchemaURL, stateSchemaDocument); err != nil {
		return nil, err
	}
	return c.Compile(stateSchemaURL)
})

var gzipMagic = []byte{0x1f, 0x8b}

// StateCodec serializes a VersionMarkerMap. Decode detects gzip by its magic
// bytes, so compressed and plain blobs can be read regardless of the Compress
// setting.
type StateCodec struct {
	Compress bool
}

func (c StateCodec) Encode(markers VersionMarkerMap) ([]byte, error) {
	if markers == nil {
		markers = VersionMarkerMap{}
	}
	raw, err := jsonAPI.Marshal(map[string]string(markers))
	if err != nil {
		return nil, fmt.Errorf("core: encode state: %w", err)
	}
	if !c.Compress {
		return raw, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("core: compress state: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("core: compress state: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode returns an error for anything other than a flat object of string
// values. The caller decides how to classify it.
func (c StateCodec) Decode(data []byte) (VersionMarkerMap, error) {
	raw := data
	if bytes.HasPrefix(data, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("core: open compressed state: %w", err)
		}
		defer zr.Close()
		raw, err = io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("core: decompress state: %w", err)
		}
	}

	var doc any
	if err := jsonAPI.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("core: parse state: %w", err)
	}
	schema, err := compiledStateSchema()
	if err != nil {
		return nil, fmt.Errorf("core: compile state schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, err
	}

	object, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("core: state must be a json object, got %T", doc)
	}
	markers := make(VersionMarkerMap, len(object))
	for id, value := range object {
		marker, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("core: marker for %q must be a string, got %T", id, value)
		}
		markers[id] = marker
	}
	return markers, nil
}
