package core

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type StateConfig struct {
	DisableCompression bool `koanf:"disable_compression" mapstructure:"disable_compression"`
}

type DispatchConfig struct {
	MaxConcurrency int  `koanf:"max_concurrency" mapstructure:"max_concurrency"`
	Deduplicate    bool `koanf:"deduplicate" mapstructure:"deduplicate"`
}

type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name"`
	StateKey    string         `koanf:"state_key" mapstructure:"state_key"`
	Topic       string         `koanf:"topic" mapstructure:"topic"`
	State       StateConfig    `koanf:"state" mapstructure:"state"`
	Dispatch    DispatchConfig `koanf:"dispatch" mapstructure:"dispatch"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "changefeed",
		StateKey:    "changefeed/state.json",
	}
}

// Validate checks the fields every run needs. Topic has no default.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.StateKey) == "" {
		return fmt.Errorf("core: state_key is required")
	}
	if strings.TrimSpace(c.Topic) == "" {
		return fmt.Errorf("core: topic is required")
	}
	if c.Dispatch.MaxConcurrency < 0 {
		return fmt.Errorf("core: dispatch.max_concurrency must not be negative")
	}
	return nil
}

// ConfigProvider produces the loaded layer, the one between the defaults and
// the Config passed to NewService.
type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

// OptionsResolver merges the three layers; later layers win per field.
type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type staticRawConfigLoader map[string]any

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	return maps.Clone(map[string]any(l)), nil
}

func NewStaticRawConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader(values)
}

// CfgxConfigProvider decodes raw values with cfgx on top of the defaults.
type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

// Load builds the loaded layer only. Validation runs once the runtime layer
// has been merged in, since required fields such as topic may arrive there.
func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil || p.Loader == nil {
		return defaults, nil
	}
	raw, err := p.Loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return cfgx.Build[Config](raw, cfgx.WithDefaults(defaults))
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	layers := []struct {
		name     string
		priority int
		values   map[string]any
	}{
		{"defaults", 0, defaults.layer(true)},
		{"config", 10, loaded.layer(false)},
		{"runtime", 20, runtime.layer(false)},
	}
	stacked := make([]opts.Layer[map[string]any], 0, len(layers))
	for _, layer := range layers {
		stacked = append(stacked, opts.NewLayer(
			opts.NewScope(layer.name, layer.priority),
			layer.values,
			opts.WithSnapshotID[map[string]any](layer.name),
		))
	}
	stack, err := opts.NewStack(stacked...)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	return cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
}

// layer renders the config as an options layer. Unless full is set, zero
// fields are left out so they do not mask a lower layer.
func (c Config) layer(full bool) map[string]any {
	out := map[string]any{}
	set := func(target map[string]any, key string, value any, present bool) {
		if full || present {
			target[key] = value
		}
	}
	set(out, "service_name", c.ServiceName, strings.TrimSpace(c.ServiceName) != "")
	set(out, "state_key", c.StateKey, strings.TrimSpace(c.StateKey) != "")
	set(out, "topic", c.Topic, strings.TrimSpace(c.Topic) != "")

	state := map[string]any{}
	set(state, "disable_compression", c.State.DisableCompression, c.State.DisableCompression)
	if len(state) > 0 {
		out["state"] = state
	}
	dispatch := map[string]any{}
	set(dispatch, "max_concurrency", c.Dispatch.MaxConcurrency, c.Dispatch.MaxConcurrency > 0)
	set(dispatch, "deduplicate", c.Dispatch.Deduplicate, c.Dispatch.Deduplicate)
	if len(dispatch) > 0 {
		out["dispatch"] = dispatch
	}
	return out
}
