package core

import (
	"context"
	"encoding/json"
	"iter"
	"sync"
	"testing"
)

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) counter(name string, tags map[string]string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, item := range m.counters {
		if item.name != name {
			continue
		}
		matched := true
		for key, value := range tags {
			if item.tags[key] != value {
				matched = false
				break
			}
		}
		if matched {
			total += item.value
		}
	}
	return total
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFields(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFields(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFields(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := *l.records
	out := make([]capturedLog, len(items))
	copy(out, items)
	return out
}

func (l *captureLogger) find(level string, msg string) (capturedLog, bool) {
	for _, entry := range l.snapshot() {
		if entry.level == level && entry.msg == msg {
			return entry, true
		}
	}
	return capturedLog{}, false
}

type sliceSource struct {
	mu      sync.Mutex
	records []Record
	failAt  int
	err     error
	calls   int
}

func (s *sliceSource) Records(context.Context) iter.Seq2[Record, error] {
	s.mu.Lock()
	s.calls++
	records := append([]Record(nil), s.records...)
	failAt := s.failAt
	failure := s.err
	s.mu.Unlock()

	return func(yield func(Record, error) bool) {
		for index, record := range records {
			if failure != nil && index == failAt {
				yield(Record{}, failure)
				return
			}
			if !yield(record, nil) {
				return
			}
		}
		if failure != nil && failAt >= len(records) {
			yield(Record{}, failure)
		}
	}
}

func record(id string, marker string) Record {
	payload, _ := json.Marshal(map[string]string{"id": id, "last_edited_time": marker})
	return Record{ID: id, VersionMarker: marker, Payload: payload}
}

type publishedMessage struct {
	topic   string
	message OutboundMessage
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
	failIDs  map[string]error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, message OutboundMessage) error {
	if err, ok := p.failIDs[message.Attributes["item_id"]]; ok {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, publishedMessage{topic: topic, message: message})
	return nil
}

func (p *recordingPublisher) events(t testing.TB) map[string]NotificationEvent {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]NotificationEvent, len(p.messages))
	for _, item := range p.messages {
		var event NotificationEvent
		if err := json.Unmarshal(item.message.Body, &event); err != nil {
			t.Fatalf("decode published body: %v", err)
		}
		out[item.message.Attributes["item_id"]] = event
	}
	return out
}

type failingBlobStore struct {
	loadErr error
	saveErr error
	inner   *MemoryBlobStore
}

func (s *failingBlobStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	if s.loadErr != nil {
		return nil, false, s.loadErr
	}
	return s.inner.Load(ctx, key)
}

func (s *failingBlobStore) Save(ctx context.Context, key string, data []byte) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.inner.Save(ctx, key, data)
}

func mustSaveState(t testing.TB, store BlobStore, key string, markers VersionMarkerMap) {
	t.Helper()
	data, err := StateCodec{}.Encode(markers)
	if err != nil {
		t.Fatalf("encode state: %v", err)
	}
	if err := store.Save(context.Background(), key, data); err != nil {
		t.Fatalf("save state: %v", err)
	}
}
