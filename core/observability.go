package core

import (
	"context"
	"maps"
	"slices"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type logLevel int

const (
	levelInfo logLevel = iota
	levelWarn
	levelError
)

// observeOperation records the outcome of one service operation: a counter
// and a duration tagged by operation, status, topic and state key, plus one
// log line carrying the given fields.
func (s *Service) observeOperation(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	if s == nil {
		return
	}
	operation = normalizeOperation(operation)
	elapsed := time.Since(startedAt)

	status := "success"
	if err != nil {
		status = "failure"
	}
	tags := map[string]string{
		"operation": operation,
		"status":    status,
		"topic":     s.config.Topic,
		"state_key": s.config.StateKey,
	}
	s.recordCounter(ctx, OperationCounterName(operation), 1, tags)
	s.recordHistogram(ctx, OperationDurationName(operation), float64(elapsed.Milliseconds()), tags)

	entry := cloneFields(fields)
	entry["operation"] = operation
	entry["status"] = status
	entry["duration_ms"] = elapsed.Milliseconds()
	if err == nil {
		s.log(ctx, levelInfo, operation+" succeeded", entry)
		return
	}
	entry["error"] = err.Error()
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && strings.TrimSpace(rich.TextCode) != "" {
		entry["error_text_code"] = rich.TextCode
	}
	s.log(ctx, levelError, operation+" failed", entry)
}

func (s *Service) recordChangeCounts(ctx context.Context, changes ChangeSet) {
	counts := []struct {
		eventType EventType
		ids       []string
	}{
		{EventTypeCreated, changes.Created},
		{EventTypeUpdated, changes.Updated},
		{EventTypeDeleted, changes.Deleted},
	}
	for _, item := range counts {
		if len(item.ids) == 0 {
			continue
		}
		s.recordCounter(ctx, MetricChangesDetected, int64(len(item.ids)), map[string]string{
			"topic":      s.config.Topic,
			"event_type": string(item.eventType),
		})
	}
}

func (s *Service) logWarn(ctx context.Context, message string, fields map[string]any) {
	s.log(ctx, levelWarn, message, fields)
}

// log prefers structured fields when the logger supports them and always
// passes the same fields as sorted key/value pairs.
func (s *Service) log(ctx context.Context, level logLevel, message string, fields map[string]any) {
	if s == nil || s.logger == nil {
		return
	}
	logger := s.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	args := make([]any, 0, len(fields)*2)
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		args = append(args, key, fields[key])
	}
	switch level {
	case levelError:
		logger.Error(message, args...)
	case levelWarn:
		logger.Warn(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func (s *Service) recordCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if s == nil || s.metricsRecorder == nil {
		return
	}
	s.metricsRecorder.IncCounter(ctx, name, value, cloneTags(tags))
}

func (s *Service) recordHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if s == nil || s.metricsRecorder == nil {
		return
	}
	s.metricsRecorder.ObserveHistogram(ctx, name, value, cloneTags(tags))
}

func cloneFields(fields map[string]any) map[string]any {
	copied := make(map[string]any, len(fields))
	maps.Copy(copied, fields)
	return copied
}

func normalizeOperation(operation string) string {
	operation = strings.ToLower(strings.TrimSpace(operation))
	operation = strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(operation)
	if operation == "" {
		return "unknown"
	}
	return operation
}
