package core

import "testing"

func TestConfigLayer_OmitsZeroFieldsUnlessFull(t *testing.T) {
	partial := Config{Topic: "pages", Dispatch: DispatchConfig{MaxConcurrency: 3}}.layer(false)
	if _, ok := partial["service_name"]; ok {
		t.Fatalf("expected empty service_name to be left out, got %v", partial)
	}
	if _, ok := partial["state"]; ok {
		t.Fatalf("expected empty state section to be left out, got %v", partial)
	}
	dispatch, ok := partial["dispatch"].(map[string]any)
	if !ok || dispatch["max_concurrency"] != 3 {
		t.Fatalf("expected dispatch.max_concurrency=3, got %v", partial["dispatch"])
	}
	if _, ok := dispatch["deduplicate"]; ok {
		t.Fatalf("expected false deduplicate to be left out")
	}

	full := Config{}.layer(true)
	for _, key := range []string{"service_name", "state_key", "topic", "state", "dispatch"} {
		if _, ok := full[key]; !ok {
			t.Fatalf("expected full layer to carry %q, got %v", key, full)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	valid := DefaultConfig()
	valid.Topic = "pages"
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cases := map[string]func(*Config){
		"service_name":    func(c *Config) { c.ServiceName = " " },
		"state_key":       func(c *Config) { c.StateKey = "" },
		"topic":           func(c *Config) { c.Topic = "" },
		"max_concurrency": func(c *Config) { c.Dispatch.MaxConcurrency = -1 },
	}
	for name, mutate := range cases {
		cfg := valid
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("expected %s to fail validation", name)
		}
	}
}

func TestGoOptionsResolver_RuntimeWinsOverLoaded(t *testing.T) {
	resolved, err := GoOptionsResolver{}.Resolve(
		DefaultConfig(),
		Config{Topic: "loaded", State: StateConfig{DisableCompression: true}},
		Config{Topic: "runtime"},
	)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Topic != "runtime" {
		t.Fatalf("expected runtime topic, got %q", resolved.Topic)
	}
	if !resolved.State.DisableCompression {
		t.Fatalf("expected loaded disable_compression to survive an empty runtime layer")
	}
	if resolved.StateKey != DefaultConfig().StateKey {
		t.Fatalf("expected default state key, got %q", resolved.StateKey)
	}
}
