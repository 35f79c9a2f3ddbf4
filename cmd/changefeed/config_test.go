package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestNewConfig_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("CHANGEFEED_TOPIC", "pages")
	t.Setenv("CHANGEFEED_SOURCE_URL", "http://source.local/query")
	t.Setenv("CHANGEFEED_WEBHOOK_URL", "http://bus.local/topics")
	t.Setenv("CHANGEFEED_MAX_CONCURRENCY", "4")
	t.Setenv("CHANGEFEED_DEDUPLICATE", "true")
	t.Setenv("CHANGEFEED_SOURCE_BODY", `{"filter":{"property":"status"}}`)

	config, err := NewConfig()
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	if config.StateKey != "changefeed/state.json" || config.GetDriver() != "sqlite3" {
		t.Fatalf("expected defaults, got state_key=%q driver=%q", config.StateKey, config.GetDriver())
	}
	svcConfig := config.serviceConfig()
	if svcConfig.Topic != "pages" || svcConfig.Dispatch.MaxConcurrency != 4 || !svcConfig.Dispatch.Deduplicate {
		t.Fatalf("unexpected service config %#v", svcConfig)
	}
	body, err := config.sourceBody()
	if err != nil {
		t.Fatalf("source body: %v", err)
	}
	if _, ok := body["filter"]; !ok {
		t.Fatalf("expected filter in source body, got %v", body)
	}
}

func TestNewConfig_RequiresEndpoints(t *testing.T) {
	t.Setenv("CHANGEFEED_TOPIC", "")
	t.Setenv("CHANGEFEED_SOURCE_URL", "")
	t.Setenv("CHANGEFEED_WEBHOOK_URL", "")
	_, err := NewConfig()
	if err == nil {
		t.Fatalf("expected missing endpoint error")
	}
	for _, name := range []string{"CHANGEFEED_TOPIC", "CHANGEFEED_SOURCE_URL", "CHANGEFEED_WEBHOOK_URL"} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("expected %s named, got %v", name, err)
		}
	}
}

func TestNewConfig_RequiresTopicWithEndpointsSet(t *testing.T) {
	t.Setenv("CHANGEFEED_TOPIC", "  ")
	t.Setenv("CHANGEFEED_SOURCE_URL", "http://source.local/query")
	t.Setenv("CHANGEFEED_WEBHOOK_URL", "http://bus.local/topics")
	_, err := NewConfig()
	if err == nil || !strings.Contains(err.Error(), "CHANGEFEED_TOPIC") {
		t.Fatalf("expected missing topic error, got %v", err)
	}
}

func TestNewConfig_PreviewDoesNotNeedWebhook(t *testing.T) {
	t.Setenv("CHANGEFEED_TOPIC", "pages")
	t.Setenv("CHANGEFEED_SOURCE_URL", "http://source.local/query")
	t.Setenv("CHANGEFEED_WEBHOOK_URL", "")
	t.Setenv("CHANGEFEED_PREVIEW", "true")
	t.Setenv("CHANGEFEED_DB_DRIVER", "sqlite")
	config, err := NewConfig()
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	if config.GetDriver() != "sqlite3" {
		t.Fatalf("expected sqlite alias to resolve, got %q", config.GetDriver())
	}
}

func TestNewConfig_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("CHANGEFEED_TOPIC", "pages")
	t.Setenv("CHANGEFEED_SOURCE_URL", "http://source.local/query")
	t.Setenv("CHANGEFEED_WEBHOOK_URL", "http://bus.local/topics")
	t.Setenv("CHANGEFEED_DB_DRIVER", "mysql")
	if _, err := NewConfig(); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestSlogLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info")
	named := slogProvider{root: logger}.GetLogger("changefeed")
	named.WithContext(context.Background()).Info("sync_run succeeded", "created", 2)
	named.Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, `"msg":"sync_run succeeded"`) || !strings.Contains(out, `"created":2`) {
		t.Fatalf("unexpected log output %s", out)
	}
	if !strings.Contains(out, `"logger":"changefeed"`) {
		t.Fatalf("expected logger name attribute, got %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("expected debug to be filtered at info level")
	}
}
