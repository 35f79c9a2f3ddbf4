package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

type DispatcherConfig struct {
	// MaxConcurrency bounds in-flight publishes; zero means no bound.
	MaxConcurrency int
	// Deduplicate skips events whose idempotency key the ledger already
	// holds as sent.
	Deduplicate bool
}

type DispatchInput struct {
	RunID    string
	Changes  ChangeSet
	Records  RecordSnapshot
	Current  VersionMarkerMap
	Previous VersionMarkerMap
}

type NotificationDispatcher struct {
	publisher Publisher
	ledger    DispatchLedger
	topic     string
	config    DispatcherConfig
	logger    Logger
}

func NewNotificationDispatcher(
	publisher Publisher,
	topic string,
	config DispatcherConfig,
	ledger DispatchLedger,
	logger Logger,
) (*NotificationDispatcher, error) {
	if publisher == nil {
		return nil, fmt.Errorf("core: publisher is required")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("core: topic is required")
	}
	if config.MaxConcurrency < 0 {
		config.MaxConcurrency = 0
	}
	if config.Deduplicate && ledger == nil {
		return nil, fmt.Errorf("core: deduplicate requires a dispatch ledger")
	}
	return &NotificationDispatcher{
		publisher: publisher,
		ledger:    ledger,
		topic:     topic,
		config:    config,
		logger:    logger,
	}, nil
}

type pendingEmission struct {
	itemID         string
	eventType      EventType
	idempotencyKey string
	body           []byte
	buildErr       error
}

// Dispatch publishes one event per change, all concurrently, and waits for
// the whole batch. Every failed emission is reported; a single failure does
// not stop the others.
func (d *NotificationDispatcher) Dispatch(ctx context.Context, in DispatchInput) (DispatchStats, error) {
	if d == nil || d.publisher == nil {
		return DispatchStats{}, fmt.Errorf("core: notification dispatcher is not configured")
	}

	emissions := d.buildEmissions(in)
	stats := DispatchStats{Attempted: len(emissions)}
	if len(emissions) == 0 {
		return stats, nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	var group errgroup.Group
	if d.config.MaxConcurrency > 0 {
		group.SetLimit(d.config.MaxConcurrency)
	}
	for _, emission := range emissions {
		group.Go(func() error {
			skipped, err := d.emit(ctx, in.RunID, emission)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				stats.Failed++
				errs = append(errs, err)
			case skipped:
				stats.Skipped++
			default:
				stats.Delivered++
			}
			return nil
		})
	}
	_ = group.Wait()

	if len(errs) > 0 {
		return stats, NewDispatchError(errors.Join(errs...), stats)
	}
	return stats, nil
}

func (d *NotificationDispatcher) buildEmissions(in DispatchInput) []pendingEmission {
	out := make([]pendingEmission, 0, in.Changes.Len())
	for _, id := range in.Changes.Created {
		out = append(out, d.recordEmission(EventTypeCreated, id, in.Records, in.Current[id]))
	}
	for _, id := range in.Changes.Updated {
		out = append(out, d.recordEmission(EventTypeUpdated, id, in.Records, in.Current[id]))
	}
	for _, id := range in.Changes.Deleted {
		emission := pendingEmission{
			itemID:         id,
			eventType:      EventTypeDeleted,
			idempotencyKey: IdempotencyKey(d.topic, EventTypeDeleted, id, in.Previous[id]),
		}
		event, err := NewDeletedEvent(id)
		if err == nil {
			emission.body, err = event.Encode()
		}
		emission.buildErr = err
		out = append(out, emission)
	}
	return out
}

func (d *NotificationDispatcher) recordEmission(
	eventType EventType,
	id string,
	records RecordSnapshot,
	marker string,
) pendingEmission {
	emission := pendingEmission{
		itemID:         id,
		eventType:      eventType,
		idempotencyKey: IdempotencyKey(d.topic, eventType, id, marker),
	}
	payload, ok := records[id]
	if !ok {
		emission.buildErr = fmt.Errorf("core: no record in snapshot for %q", id)
		return emission
	}
	event, err := NewRecordEvent(eventType, payload)
	if err == nil {
		emission.body, err = event.Encode()
	}
	emission.buildErr = err
	return emission
}

func (d *NotificationDispatcher) emit(ctx context.Context, runID string, emission pendingEmission) (bool, error) {
	if emission.buildErr != nil {
		err := fmt.Errorf("%s %s: %w", emission.eventType, emission.itemID, emission.buildErr)
		d.record(ctx, runID, emission, err)
		return false, err
	}

	if d.config.Deduplicate {
		seen, err := d.ledger.Seen(ctx, emission.idempotencyKey)
		if err != nil {
			err = fmt.Errorf("%s %s: ledger lookup: %w", emission.eventType, emission.itemID, err)
			d.record(ctx, runID, emission, err)
			return false, err
		}
		if seen {
			return true, nil
		}
	}

	err := d.publisher.Publish(ctx, d.topic, OutboundMessage{
		Body:           emission.body,
		IdempotencyKey: emission.idempotencyKey,
		Attributes: map[string]string{
			"event_type": string(emission.eventType),
			"item_id":    emission.itemID,
			"run_id":     runID,
		},
	})
	if err != nil {
		err = fmt.Errorf("%s %s: %w", emission.eventType, emission.itemID, err)
	}
	d.record(ctx, runID, emission, err)
	return false, err
}

// record writes the emission outcome to the ledger. Ledger failures are
// logged and never change the outcome of the emission itself.
func (d *NotificationDispatcher) record(ctx context.Context, runID string, emission pendingEmission, cause error) {
	if d.ledger == nil {
		return
	}
	entry := DispatchRecord{
		RunID:          runID,
		IdempotencyKey: emission.idempotencyKey,
		EventType:      emission.eventType,
		ItemID:         emission.itemID,
		Topic:          d.topic,
		Status:         DispatchStatusSent,
	}
	if cause != nil {
		entry.Status = DispatchStatusFailed
		entry.Error = cause.Error()
	}
	if err := d.ledger.Record(ctx, entry); err != nil && d.logger != nil {
		d.logger.Warn("dispatch ledger record failed",
			"run_id", runID,
			"item_id", emission.itemID,
			"event_type", string(emission.eventType),
			"error", err.Error(),
		)
	}
}

// IdempotencyKey is stable for a given topic, event type, item and marker, so
// a re-run that re-detects the same change produces the same key.
func IdempotencyKey(topic string, eventType EventType, itemID string, marker string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		strings.TrimSpace(topic),
		string(eventType),
		itemID,
		marker,
	}, "|")))
	return hex.EncodeToString(sum[:])
}
