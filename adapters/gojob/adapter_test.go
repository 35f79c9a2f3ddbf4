package gojob

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-changefeed/core"
	goerrors "github.com/goliatone/go-errors"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

func TestPublisherMapsNotificationRoundTrip(t *testing.T) {
	enqueuer := &stubQueueEnqueuer{}
	publisher, err := NewPublisher(enqueuer, "")
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	original := core.OutboundMessage{
		Body:           []byte(`{"eventType":"page-created","payload":{"id":"a"}}`),
		IdempotencyKey: "idem-1",
		Attributes:     map[string]string{"event_type": "page-created", "item_id": "a"},
	}
	if err := publisher.Publish(context.Background(), "pages", original); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if enqueuer.last == nil {
		t.Fatalf("expected enqueued message")
	}
	if enqueuer.last.JobID != JobIDNotify || enqueuer.last.ScriptPath != JobIDNotify {
		t.Fatalf("unexpected job routing %q %q", enqueuer.last.JobID, enqueuer.last.ScriptPath)
	}
	if enqueuer.last.DedupPolicy != job.DeduplicationPolicy(DedupPolicyDrop) {
		t.Fatalf("expected drop dedup policy, got %q", enqueuer.last.DedupPolicy)
	}

	topic, roundTrip, err := FromExecutionMessage(enqueuer.last)
	if err != nil {
		t.Fatalf("from execution message: %v", err)
	}
	if topic != "pages" {
		t.Fatalf("expected topic pages, got %q", topic)
	}
	if string(roundTrip.Body) != string(original.Body) {
		t.Fatalf("expected body to survive mapping, got %s", roundTrip.Body)
	}
	if roundTrip.IdempotencyKey != "idem-1" || roundTrip.Attributes["item_id"] != "a" {
		t.Fatalf("unexpected round trip %#v", roundTrip)
	}
}

func TestPublisherWithoutKeyLeavesDedupUnset(t *testing.T) {
	msg := ToExecutionMessage("notify.js", "pages", core.OutboundMessage{Body: []byte(`{}`)})
	if msg.DedupPolicy != "" {
		t.Fatalf("expected no dedup policy, got %q", msg.DedupPolicy)
	}
	if msg.ScriptPath != "notify.js" {
		t.Fatalf("expected custom script path, got %q", msg.ScriptPath)
	}
}

func TestPublisherRejectsMissingTopic(t *testing.T) {
	publisher, err := NewPublisher(&stubQueueEnqueuer{}, "")
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := publisher.Publish(context.Background(), " ", core.OutboundMessage{}); err == nil {
		t.Fatalf("expected topic error")
	}
	if _, err := NewPublisher(nil, ""); err == nil {
		t.Fatalf("expected enqueuer error")
	}
}

func TestWorkerAcksSuccessfulRun(t *testing.T) {
	delivery := &stubQueueDelivery{msg: RunSyncExecutionMessage("pages/state.json", "tick-1")}
	runner := &stubRunner{}
	hook := &capturingHook{}
	w := NewWorker(&stubQueueDequeuer{deliveries: []queue.Delivery{delivery}}, runner, RetryPolicy{}, hook)

	result, err := w.ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Status != core.RunStatusSucceeded {
		t.Fatalf("expected succeeded run, got %q", result.Status)
	}
	if !delivery.acked {
		t.Fatalf("expected ack on success")
	}
	if hook.phases() != "start,success" {
		t.Fatalf("unexpected hook phases %q", hook.phases())
	}
}

func TestWorkerNackRetryPolicyBoundaries(t *testing.T) {
	msg := RunSyncExecutionMessage("pages/state.json", "tick-2")
	first := &stubQueueDelivery{msg: msg}
	second := &stubQueueDelivery{msg: msg}
	runner := &stubRunner{err: errors.New("source down")}
	hook := &capturingHook{}
	w := NewWorker(
		&stubQueueDequeuer{deliveries: []queue.Delivery{first, second}},
		runner,
		RetryPolicy{MaxAttempts: 2, MaxDelay: 10 * time.Second, DeadLetterOnMax: true},
		hook,
	)

	if _, err := w.ProcessNext(context.Background()); err == nil {
		t.Fatalf("expected run error on first attempt")
	}
	if !first.nackOpts.Requeue || first.nackOpts.DeadLetter {
		t.Fatalf("expected requeue before max attempts, got %#v", first.nackOpts)
	}
	if first.nackOpts.Reason != "source down" {
		t.Fatalf("expected nack reason, got %q", first.nackOpts.Reason)
	}

	if _, err := w.ProcessNext(context.Background()); err == nil {
		t.Fatalf("expected run error on second attempt")
	}
	if second.nackOpts.Requeue || !second.nackOpts.DeadLetter {
		t.Fatalf("expected dead letter at max attempts, got %#v", second.nackOpts)
	}
	if hook.phases() != "start,retry,start,failure" {
		t.Fatalf("unexpected hook phases %q", hook.phases())
	}
}

func TestWorkerDeadLettersUnknownJobs(t *testing.T) {
	delivery := &stubQueueDelivery{msg: &job.ExecutionMessage{JobID: "other.job"}}
	w := NewWorker(&stubQueueDequeuer{deliveries: []queue.Delivery{delivery}}, &stubRunner{}, RetryPolicy{}, nil)
	if _, err := w.ProcessNext(context.Background()); err == nil {
		t.Fatalf("expected unsupported job error")
	}
	if !delivery.nackOpts.DeadLetter {
		t.Fatalf("expected unknown job to be dead lettered")
	}
}

func TestWorkerDeadLettersForeignStateKey(t *testing.T) {
	for _, stateKey := range []string{"orders/state.json", ""} {
		delivery := &stubQueueDelivery{msg: RunSyncExecutionMessage(stateKey, "tick-3")}
		runner := &stubRunner{}
		hook := &capturingHook{}
		w := NewWorker(&stubQueueDequeuer{deliveries: []queue.Delivery{delivery}}, runner, RetryPolicy{MaxAttempts: 3}, hook)

		_, err := w.ProcessNext(context.Background())
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) || rich.TextCode != core.ErrorCodeBadInput {
			t.Fatalf("state key %q: expected bad input error, got %v", stateKey, err)
		}
		if runner.runs != 0 {
			t.Fatalf("state key %q: expected runner not to run, got %d runs", stateKey, runner.runs)
		}
		if !delivery.nackOpts.DeadLetter || delivery.nackOpts.Requeue || delivery.acked {
			t.Fatalf("state key %q: expected dead letter, got %#v", stateKey, delivery.nackOpts)
		}
		if hook.phases() != "" {
			t.Fatalf("state key %q: expected no hook phases, got %q", stateKey, hook.phases())
		}
	}
}

func TestRetryPolicyBoundsDelay(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, MaxDelay: 10 * time.Second}
	out := policy.NormalizeAttempt(queue.NackOptions{Delay: 30 * time.Second, Requeue: true}, 1)
	if out.Delay != 10*time.Second || !out.Requeue {
		t.Fatalf("expected bounded requeue, got %#v", out)
	}
	out = policy.NormalizeAttempt(queue.NackOptions{Delay: -time.Second}, 3)
	if out.Delay != 0 {
		t.Fatalf("expected negative delay clamped, got %s", out.Delay)
	}
	if !out.Requeue {
		t.Fatalf("expected requeue fallback without dead letter")
	}
}

func TestMetricsHookRecordsPhases(t *testing.T) {
	recorder := &captureRecorder{}
	hook := NewMetricsHook(recorder)
	event := worker.Event{
		Message:  RunSyncExecutionMessage("k", ""),
		Duration: 250 * time.Millisecond,
	}
	hook.OnStart(context.Background(), event)
	hook.OnSuccess(context.Background(), event)

	if recorder.counters["start"] != 1 || recorder.counters["success"] != 1 {
		t.Fatalf("unexpected counters %#v", recorder.counters)
	}
	if recorder.histogram != 250 {
		t.Fatalf("expected duration 250ms, got %v", recorder.histogram)
	}
	if recorder.jobID != JobIDRunSync {
		t.Fatalf("expected job id tag, got %q", recorder.jobID)
	}
}

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	s.last = msg
	return nil
}

type stubQueueDequeuer struct {
	deliveries []queue.Delivery
}

func (s *stubQueueDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	if len(s.deliveries) == 0 {
		return nil, errors.New("queue empty")
	}
	next := s.deliveries[0]
	s.deliveries = s.deliveries[1:]
	return next, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nackOpts = opts
	return nil
}

type stubRunner struct {
	err  error
	runs int
}

func (r *stubRunner) Config() core.Config {
	return core.Config{StateKey: "pages/state.json", Topic: "pages"}
}

func (r *stubRunner) Run(context.Context) (core.RunResult, error) {
	r.runs++
	if r.err != nil {
		return core.RunResult{Status: core.RunStatusFailed}, r.err
	}
	return core.RunResult{Status: core.RunStatusSucceeded}, nil
}

type capturingHook struct {
	mu     sync.Mutex
	events []string
}

func (h *capturingHook) add(phase string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, phase)
}

func (h *capturingHook) phases() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := ""
	for index, phase := range h.events {
		if index > 0 {
			out += ","
		}
		out += phase
	}
	return out
}

func (h *capturingHook) OnStart(context.Context, worker.Event)   { h.add("start") }
func (h *capturingHook) OnSuccess(context.Context, worker.Event) { h.add("success") }
func (h *capturingHook) OnFailure(context.Context, worker.Event) { h.add("failure") }
func (h *capturingHook) OnRetry(context.Context, worker.Event)   { h.add("retry") }

type captureRecorder struct {
	counters  map[string]int64
	histogram float64
	jobID     string
}

func (r *captureRecorder) IncCounter(_ context.Context, _ string, value int64, tags map[string]string) {
	if r.counters == nil {
		r.counters = map[string]int64{}
	}
	r.counters[tags["phase"]] += value
	r.jobID = tags["job_id"]
}

func (r *captureRecorder) ObserveHistogram(_ context.Context, _ string, value float64, _ map[string]string) {
	r.histogram = value
}
