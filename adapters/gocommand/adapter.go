// Package gocommand exposes the changefeed run command and state queries on a
// go-command registry and dispatcher.
package gocommand

import (
	"context"
	"errors"
	"fmt"
	"strings"

	changefeedcommand "github.com/goliatone/go-changefeed/command"
	"github.com/goliatone/go-changefeed/core"
	changefeedquery "github.com/goliatone/go-changefeed/query"
	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

var errNoRegistry = errors.New("gocommand: registry is not configured")

// ValidateMessageContract requires a non-empty Type() and runs Validate()
// when the message has one.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	typed, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: %T does not implement Type() string", msg)
	}
	if strings.TrimSpace(typed.Type()) == "" {
		return fmt.Errorf("gocommand: %T has an empty message type", msg)
	}
	return nil
}

// RegistryAdapter wraps the registry the changefeed handlers are recorded in.
// Resolvers added before Initialize see every registered handler.
type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) ready() error {
	if a == nil || a.registry == nil {
		return errNoRegistry
	}
	return nil
}

func (a *RegistryAdapter) RegisterCommand(handler any) error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.registry.RegisterCommand(handler)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

// AddQueueResolver mirrors registered handlers into a go-job queue registry
// so a worker can execute them from queued messages.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	return a.ready() == nil && a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.registry.Initialize()
}

// Dispatch validates msg and sends it to its command handler.
func Dispatch[T any](ctx context.Context, msg T) error {
	if err := ValidateMessageContract(msg); err != nil {
		return err
	}
	return commanddispatcher.Dispatch(ctx, msg)
}

// Query validates msg and returns the query handler's result.
func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	if err := ValidateMessageContract(msg); err != nil {
		var zero R
		return zero, err
	}
	return commanddispatcher.Query[T, R](ctx, msg)
}

// RegisterAndSubscribe subscribes cmd on the dispatcher and records it in the
// registry. The subscription is dropped again when registration fails.
func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	return register(adapter, cmd, func() commanddispatcher.Subscription {
		return commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	})
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	return register(adapter, qry, func() commanddispatcher.Subscription {
		return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	})
}

func register(adapter *RegistryAdapter, handler any, subscribe func() commanddispatcher.Subscription) (commanddispatcher.Subscription, error) {
	if err := adapter.ready(); err != nil {
		return nil, err
	}
	subscription := subscribe()
	if err := adapter.registry.RegisterCommand(handler); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// RegisterChangefeed wires the run command plus the load-state and preview
// queries. On failure every subscription made so far is released.
func RegisterChangefeed(
	adapter *RegistryAdapter,
	runSync *changefeedcommand.RunSyncCommand,
	loadState *changefeedquery.LoadStateQuery,
	preview *changefeedquery.PreviewChangesQuery,
	runnerOpts ...runner.Option,
) ([]commanddispatcher.Subscription, error) {
	steps := []func() (commanddispatcher.Subscription, error){
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[changefeedcommand.RunSyncMessage](adapter, runSync, runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery[changefeedquery.LoadStateMessage, core.VersionMarkerMap](adapter, loadState, runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery[changefeedquery.PreviewChangesMessage, core.PreviewResult](adapter, preview, runnerOpts...)
		},
	}

	subscriptions := make([]commanddispatcher.Subscription, 0, len(steps))
	for _, step := range steps {
		subscription, err := step()
		if err != nil {
			for _, made := range subscriptions {
				made.Unsubscribe()
			}
			return nil, err
		}
		subscriptions = append(subscriptions, subscription)
	}
	return subscriptions, nil
}
