package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/goliatone/go-changefeed/core"
	jsoniter "github.com/json-iterator/go"
)

type Config struct {
	Topic              string `env:"CHANGEFEED_TOPIC"`
	StateKey           string `env:"CHANGEFEED_STATE_KEY,default=changefeed/state.json"`
	ServiceName        string `env:"CHANGEFEED_SERVICE_NAME,default=changefeed"`
	MaxConcurrency     int    `env:"CHANGEFEED_MAX_CONCURRENCY,default=16"`
	Deduplicate        bool   `env:"CHANGEFEED_DEDUPLICATE,default=false"`
	DisableCompression bool   `env:"CHANGEFEED_DISABLE_COMPRESSION,default=false"`

	SourceURL      string `env:"CHANGEFEED_SOURCE_URL"`
	SourceMethod   string `env:"CHANGEFEED_SOURCE_METHOD,default=POST"`
	SourceBody     string `env:"CHANGEFEED_SOURCE_BODY"`
	SourceToken    string `env:"CHANGEFEED_SOURCE_TOKEN"`
	SourcePageSize int    `env:"CHANGEFEED_SOURCE_PAGE_SIZE,default=100"`
	VersionField   string `env:"CHANGEFEED_VERSION_FIELD,default=last_edited_time"`

	WebhookURL   string `env:"CHANGEFEED_WEBHOOK_URL"`
	WebhookToken string `env:"CHANGEFEED_WEBHOOK_TOKEN"`
	// WebhookSecret enables HMAC-SHA256 signing of delivered bodies.
	WebhookSecret string `env:"CHANGEFEED_WEBHOOK_SECRET"`

	DatabaseDriver string `env:"CHANGEFEED_DB_DRIVER,default=sqlite3"`
	DatabaseURL    string `env:"CHANGEFEED_DATABASE_URL,default=file:changefeed.db?cache=shared&_foreign_keys=on"`
	DatabaseDebug  bool   `env:"CHANGEFEED_DB_DEBUG,default=false"`

	MetricsFile string `env:"CHANGEFEED_METRICS_FILE"`
	LogLevel    string `env:"CHANGEFEED_LOG_LEVEL,default=info"`
	Preview     bool   `env:"CHANGEFEED_PREVIEW,default=false"`
}

func NewConfig() (*Config, error) {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return nil, err
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	var missing []string
	if strings.TrimSpace(c.Topic) == "" {
		missing = append(missing, "CHANGEFEED_TOPIC")
	}
	if strings.TrimSpace(c.SourceURL) == "" {
		missing = append(missing, "CHANGEFEED_SOURCE_URL")
	}
	if strings.TrimSpace(c.WebhookURL) == "" && !c.Preview {
		missing = append(missing, "CHANGEFEED_WEBHOOK_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing %s", strings.Join(missing, ", "))
	}
	switch c.driver() {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.DatabaseDriver)
	}
	return nil
}

func (c *Config) driver() string {
	driver := strings.ToLower(strings.TrimSpace(c.DatabaseDriver))
	if driver == "sqlite" {
		return "sqlite3"
	}
	return driver
}

func (c *Config) sourceBody() (map[string]any, error) {
	if strings.TrimSpace(c.SourceBody) == "" {
		return nil, nil
	}
	var body map[string]any
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal([]byte(c.SourceBody), &body); err != nil {
		return nil, fmt.Errorf("config: CHANGEFEED_SOURCE_BODY is not a json object: %w", err)
	}
	return body, nil
}

// serviceConfig is the runtime layer handed to the service; values loaded
// elsewhere are merged beneath it.
func (c *Config) serviceConfig() core.Config {
	return core.Config{
		ServiceName: c.ServiceName,
		StateKey:    c.StateKey,
		Topic:       c.Topic,
		State:       core.StateConfig{DisableCompression: c.DisableCompression},
		Dispatch: core.DispatchConfig{
			MaxConcurrency: c.MaxConcurrency,
			Deduplicate:    c.Deduplicate,
		},
	}
}

func (c *Config) GetDebug() bool {
	return c.DatabaseDebug
}

func (c *Config) GetDriver() string {
	return c.driver()
}

func (c *Config) GetServer() string {
	return c.DatabaseURL
}

func (c *Config) GetPingTimeout() time.Duration {
	return 5 * time.Second
}

func (c *Config) GetOtelIdentifier() string {
	return c.ServiceName
}
