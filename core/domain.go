package core

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// VersionMarkerMap maps an item id to its opaque version marker.
type VersionMarkerMap map[string]string

func (m VersionMarkerMap) Keys() []string {
	return slices.Sorted(maps.Keys(m))
}

func (m VersionMarkerMap) Clone() VersionMarkerMap {
	out := make(VersionMarkerMap, len(m))
	for id, marker := range m {
		out[id] = marker
	}
	return out
}

func (m VersionMarkerMap) Equal(other VersionMarkerMap) bool {
	return maps.Equal(m, other)
}

// ChangeSet holds three disjoint id sets. Slices are sorted so output is
// stable; ordering carries no meaning.
type ChangeSet struct {
	Created []string
	Updated []string
	Deleted []string
}

func (c ChangeSet) Len() int {
	return len(c.Created) + len(c.Updated) + len(c.Deleted)
}

func (c ChangeSet) IsEmpty() bool {
	return c.Len() == 0
}

type Record struct {
	ID            string
	VersionMarker string
	Payload       json.RawMessage
}

type RecordSnapshot map[string]json.RawMessage

type Snapshot struct {
	Markers VersionMarkerMap
	Records RecordSnapshot
}

func NewSnapshot() Snapshot {
	return Snapshot{
		Markers: VersionMarkerMap{},
		Records: RecordSnapshot{},
	}
}

type EventType string

const (
	EventTypeCreated EventType = "page-created"
	EventTypeUpdated EventType = "page-updated"
	EventTypeDeleted EventType = "page-deleted"
)

func (t EventType) Valid() bool {
	switch t {
	case EventTypeCreated, EventTypeUpdated, EventTypeDeleted:
		return true
	default:
		return false
	}
}

type NotificationEvent struct {
	EventType EventType       `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
}

type deletedPayload struct {
	ID string `json:"id"`
}

func NewRecordEvent(eventType EventType, payload json.RawMessage) (NotificationEvent, error) {
	if eventType != EventTypeCreated && eventType != EventTypeUpdated {
		return NotificationEvent{}, fmt.Errorf("core: record events must be created or updated, got %q", eventType)
	}
	if len(payload) == 0 {
		return NotificationEvent{}, fmt.Errorf("core: record payload is required")
	}
	return NotificationEvent{EventType: eventType, Payload: payload}, nil
}

func NewDeletedEvent(id string) (NotificationEvent, error) {
	if id == "" {
		return NotificationEvent{}, fmt.Errorf("core: deleted event id is required")
	}
	payload, err := jsonAPI.Marshal(deletedPayload{ID: id})
	if err != nil {
		return NotificationEvent{}, err
	}
	return NotificationEvent{EventType: EventTypeDeleted, Payload: payload}, nil
}

func (e NotificationEvent) Encode() ([]byte, error) {
	if !e.EventType.Valid() {
		return nil, fmt.Errorf("core: invalid event type %q", e.EventType)
	}
	if !jsonAPI.Valid(e.Payload) {
		return nil, fmt.Errorf("core: event payload is not valid json")
	}
	return jsonAPI.Marshal(e)
}

type OutboundMessage struct {
	Body           []byte
	IdempotencyKey string
	Attributes     map[string]string
}

type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

type RunResult struct {
	RunID      string
	StateKey   string
	Topic      string
	Created    int
	Updated    int
	Deleted    int
	Dispatch   DispatchStats
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt time.Time
}

type DispatchStats struct {
	Attempted int
	Delivered int
	Skipped   int
	Failed    int
}

type DispatchStatus string

const (
	DispatchStatusSent   DispatchStatus = "sent"
	DispatchStatusFailed DispatchStatus = "failed"
)

type DispatchRecord struct {
	RunID          string
	IdempotencyKey string
	EventType      EventType
	ItemID         string
	Topic          string
	Status         DispatchStatus
	Error          string
}

type PreviewResult struct {
	Changes  ChangeSet
	Previous int
	Current  int
}
