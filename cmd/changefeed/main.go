// Command changefeed runs one observe, diff and notify cycle against a paged
// REST collection and exits. It is meant to be scheduled.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-changefeed/adapters/gologger"
	changefeedprom "github.com/goliatone/go-changefeed/adapters/prometheus"
	"github.com/goliatone/go-changefeed/core"
	changefeedmigrations "github.com/goliatone/go-changefeed/migrations"
	"github.com/goliatone/go-changefeed/ratelimit"
	sqlstore "github.com/goliatone/go-changefeed/store/sql"
	"github.com/goliatone/go-changefeed/transport"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

func main() {
	os.Exit(run())
}

func run() int {
	config, err := NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "changefeed: failed to load config: %v\n", err)
		return 2
	}
	root := newLogger(os.Stderr, config.LogLevel)
	provider := slogProvider{root: root}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := openPersistence(ctx, config)
	if err != nil {
		root.Error("failed to open state database", "error", err)
		return 1
	}
	defer client.Close()

	recorder := changefeedprom.NewRecorder(config.ServiceName)
	registry := prom.NewRegistry()
	registry.MustRegister(recorder)

	svc, err := newService(config, client, recorder, provider)
	if err != nil {
		root.Error("failed to build changefeed service", "error", err)
		return 1
	}

	status := 0
	if config.Preview {
		preview, err := svc.Preview(ctx)
		if err != nil {
			root.Error("preview failed", "error", err)
			status = 1
		} else {
			root.Info("preview",
				"created", len(preview.Changes.Created),
				"updated", len(preview.Changes.Updated),
				"deleted", len(preview.Changes.Deleted),
			)
		}
	} else if _, err := svc.Run(ctx); err != nil {
		status = 1
	}

	if config.MetricsFile != "" {
		if err := prom.WriteToTextfile(config.MetricsFile, registry); err != nil {
			root.Warn("failed to write metrics file", "path", config.MetricsFile, "error", err)
		}
	}
	return status
}

func newService(
	config *Config,
	client *persistence.Client,
	recorder core.MetricsRecorder,
	provider slogProvider,
) (*core.Service, error) {
	stores, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return nil, err
	}
	adapter := transport.NewRESTAdapter(&http.Client{Timeout: 60 * time.Second})
	adapter.Limiter = ratelimit.NewAdaptivePolicy(stores.RateLimitStateStore())

	body, err := config.sourceBody()
	if err != nil {
		return nil, err
	}
	sourceHeaders := map[string]string{}
	if config.SourceToken != "" {
		sourceHeaders["Authorization"] = "Bearer " + config.SourceToken
	}
	source, err := transport.NewRESTCollectionSource(adapter, transport.RESTCollectionSourceConfig{
		URL:      config.SourceURL,
		Method:   config.SourceMethod,
		Body:     body,
		Headers:  sourceHeaders,
		PageSize: config.SourcePageSize,
		Fields:   transport.PageFields{Version: config.VersionField},
	})
	if err != nil {
		return nil, err
	}

	opts := append(gologger.ServiceOptions(provider, nil),
		core.WithMetricsRecorder(recorder),
		core.WithPersistenceClient(client),
		core.WithRepositoryFactory(stores),
		core.WithCollectionSource(source),
	)
	if config.WebhookURL != "" {
		webhookHeaders := map[string]string{}
		if config.WebhookToken != "" {
			webhookHeaders["Authorization"] = "Bearer " + config.WebhookToken
		}
		publisher, err := transport.NewWebhookPublisher(adapter, config.WebhookURL, webhookHeaders)
		if err != nil {
			return nil, err
		}
		if config.WebhookSecret != "" {
			signer := transport.NewHMACSigner(config.WebhookSecret)
			publisher.WithSigner(&signer)
		}
		opts = append(opts, core.WithPublisher(publisher))
	}
	return core.NewService(config.serviceConfig(), opts...)
}

func openPersistence(ctx context.Context, config *Config) (*persistence.Client, error) {
	var (
		dialect       schema.Dialect
		targetDialect string
	)
	switch config.GetDriver() {
	case "postgres":
		dialect = pgdialect.New()
		targetDialect = changefeedmigrations.DialectPostgres
	default:
		dialect = sqlitedialect.New()
		targetDialect = changefeedmigrations.DialectSQLite
	}

	sqlDB, err := sql.Open(config.GetDriver(), config.GetServer())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", config.GetDriver(), err)
	}
	if targetDialect == changefeedmigrations.DialectSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(config, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	_, err = changefeedmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != targetDialect {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, changefeedmigrations.WithValidationTargets(targetDialect))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
