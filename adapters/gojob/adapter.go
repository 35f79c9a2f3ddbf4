package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-changefeed/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	JobIDNotify  = "changefeed.notify"
	JobIDRunSync = "changefeed.run_sync"

	DedupPolicyDrop = "drop"

	ParamTopic      = "topic"
	ParamBody       = "body"
	ParamAttributes = "attributes"
	ParamStateKey   = "state_key"
)

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// Publisher hands notifications to a go-job queue. Each message becomes one
// execution message carrying the topic, body and routing attributes.
type Publisher struct {
	enqueuer   queue.Enqueuer
	scriptPath string
}

func NewPublisher(enqueuer queue.Enqueuer, scriptPath string) (*Publisher, error) {
	if enqueuer == nil {
		return nil, fmt.Errorf("gojob: enqueuer is required")
	}
	scriptPath = strings.TrimSpace(scriptPath)
	if scriptPath == "" {
		scriptPath = JobIDNotify
	}
	return &Publisher{enqueuer: enqueuer, scriptPath: scriptPath}, nil
}

func (p *Publisher) Publish(ctx context.Context, topic string, message core.OutboundMessage) error {
	if p == nil || p.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return fmt.Errorf("gojob: topic is required")
	}
	return p.enqueuer.Enqueue(ctx, ToExecutionMessage(p.scriptPath, topic, message))
}

// ToExecutionMessage maps an outbound notification to go-job.
func ToExecutionMessage(scriptPath string, topic string, message core.OutboundMessage) *job.ExecutionMessage {
	attributes := make(map[string]any, len(message.Attributes))
	for key, value := range message.Attributes {
		attributes[key] = value
	}
	out := &job.ExecutionMessage{
		JobID:      JobIDNotify,
		ScriptPath: strings.TrimSpace(scriptPath),
		Parameters: map[string]any{
			ParamTopic:      topic,
			ParamBody:       string(message.Body),
			ParamAttributes: attributes,
		},
		IdempotencyKey: strings.TrimSpace(message.IdempotencyKey),
	}
	if out.IdempotencyKey != "" {
		out.DedupPolicy = job.DeduplicationPolicy(DedupPolicyDrop)
	}
	return out
}

// FromExecutionMessage maps a go-job notify message back into the topic and
// outbound message it was built from.
func FromExecutionMessage(msg *job.ExecutionMessage) (string, core.OutboundMessage, error) {
	if msg == nil {
		return "", core.OutboundMessage{}, fmt.Errorf("gojob: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDNotify {
		return "", core.OutboundMessage{}, fmt.Errorf("gojob: unexpected job id %q", msg.JobID)
	}
	topic, _ := msg.Parameters[ParamTopic].(string)
	if strings.TrimSpace(topic) == "" {
		return "", core.OutboundMessage{}, fmt.Errorf("gojob: notify message has no topic")
	}
	var body []byte
	switch value := msg.Parameters[ParamBody].(type) {
	case string:
		body = []byte(value)
	case []byte:
		body = append([]byte(nil), value...)
	}
	attributes := map[string]string{}
	switch value := msg.Parameters[ParamAttributes].(type) {
	case map[string]string:
		for key, item := range value {
			attributes[key] = item
		}
	case map[string]any:
		for key, item := range value {
			attributes[key] = fmt.Sprint(item)
		}
	}
	return topic, core.OutboundMessage{
		Body:           body,
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		Attributes:     attributes,
	}, nil
}

// RunSyncExecutionMessage schedules one changefeed run for the given state
// key. Runs sharing an idempotency key are collapsed by the queue.
func RunSyncExecutionMessage(stateKey string, idempotencyKey string) *job.ExecutionMessage {
	out := &job.ExecutionMessage{
		JobID:          JobIDRunSync,
		ScriptPath:     JobIDRunSync,
		Parameters:     map[string]any{ParamStateKey: strings.TrimSpace(stateKey)},
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
	}
	if out.IdempotencyKey != "" {
		out.DedupPolicy = job.DeduplicationPolicy(DedupPolicyDrop)
	}
	return out
}

// SyncRunner is the changefeed a worker drives. Config supplies the state key
// the worker accepts jobs for.
type SyncRunner interface {
	Run(ctx context.Context) (core.RunResult, error)
	Config() core.Config
}

// Worker drains run-sync deliveries. A failed run is nacked under the retry
// policy; attempts are counted per idempotency key.
type Worker struct {
	dequeuer queue.Dequeuer
	runner   SyncRunner
	policy   RetryPolicy
	hook     worker.Hook
	now      func() time.Time

	mu       sync.Mutex
	attempts map[string]int
}

func NewWorker(dequeuer queue.Dequeuer, runner SyncRunner, policy RetryPolicy, hook worker.Hook) *Worker {
	return &Worker{
		dequeuer: dequeuer,
		runner:   runner,
		policy:   policy,
		hook:     hook,
		now:      time.Now,
		attempts: map[string]int{},
	}
}

// ProcessNext dequeues and handles a single delivery.
func (w *Worker) ProcessNext(ctx context.Context) (core.RunResult, error) {
	if w == nil || w.dequeuer == nil || w.runner == nil {
		return core.RunResult{}, fmt.Errorf("gojob: worker is not configured")
	}
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return core.RunResult{}, err
	}
	msg := delivery.Message()
	if msg == nil || strings.TrimSpace(msg.JobID) != JobIDRunSync {
		jobID := ""
		if msg != nil {
			jobID = msg.JobID
		}
		return core.RunResult{}, deadLetter(ctx, delivery, fmt.Errorf("gojob: unsupported job %q", jobID))
	}
	// A job for another feed is never retried; no attempt would succeed.
	stateKey, _ := msg.Parameters[ParamStateKey].(string)
	if strings.TrimSpace(stateKey) == "" || strings.TrimSpace(stateKey) != w.runner.Config().StateKey {
		return core.RunResult{}, deadLetter(ctx, delivery, core.NewUnboundStateKeyError("gojob", stateKey))
	}

	attempt := w.nextAttempt(msg)
	startedAt := w.now()
	event := worker.Event{Message: msg, Delivery: delivery, Attempt: attempt, StartedAt: startedAt}
	w.onStart(ctx, event)

	result, runErr := w.runner.Run(ctx)
	event.Duration = w.now().Sub(startedAt)
	if runErr == nil {
		w.resetAttempts(msg)
		w.onSuccess(ctx, event)
		if err := delivery.Ack(ctx); err != nil {
			return result, err
		}
		return result, nil
	}

	event.Err = runErr
	opts := w.policy.NormalizeAttempt(queue.NackOptions{
		Delay:   w.backoff(attempt),
		Requeue: true,
		Reason:  runErr.Error(),
	}, attempt)
	if opts.Requeue {
		event.Delay = opts.Delay
		w.onRetry(ctx, event)
	} else {
		w.resetAttempts(msg)
		w.onFailure(ctx, event)
	}
	if err := delivery.Nack(ctx, opts); err != nil {
		return result, err
	}
	return result, runErr
}

func deadLetter(ctx context.Context, delivery queue.Delivery, cause error) error {
	if err := delivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: cause.Error()}); err != nil {
		return err
	}
	return cause
}

func (w *Worker) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := time.Second << min(attempt-1, 10)
	if w.policy.MaxDelay > 0 && delay > w.policy.MaxDelay {
		delay = w.policy.MaxDelay
	}
	return delay
}

func (w *Worker) attemptKey(msg *job.ExecutionMessage) string {
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		return key
	}
	stateKey, _ := msg.Parameters[ParamStateKey].(string)
	return JobIDRunSync + ":" + stateKey
}

func (w *Worker) nextAttempt(msg *job.ExecutionMessage) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := w.attemptKey(msg)
	w.attempts[key]++
	return w.attempts[key]
}

func (w *Worker) resetAttempts(msg *job.ExecutionMessage) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.attempts, w.attemptKey(msg))
}

func (w *Worker) onStart(ctx context.Context, event worker.Event) {
	if w.hook != nil {
		w.hook.OnStart(ctx, event)
	}
}

func (w *Worker) onSuccess(ctx context.Context, event worker.Event) {
	if w.hook != nil {
		w.hook.OnSuccess(ctx, event)
	}
}

func (w *Worker) onFailure(ctx context.Context, event worker.Event) {
	if w.hook != nil {
		w.hook.OnFailure(ctx, event)
	}
}

func (w *Worker) onRetry(ctx context.Context, event worker.Event) {
	if w.hook != nil {
		w.hook.OnRetry(ctx, event)
	}
}

// MetricsHook reports worker lifecycle events as changefeed metrics.
type MetricsHook struct {
	recorder core.MetricsRecorder
}

func NewMetricsHook(recorder core.MetricsRecorder) *MetricsHook {
	if recorder == nil {
		recorder = core.NopMetricsRecorder{}
	}
	return &MetricsHook{recorder: recorder}
}

func (h *MetricsHook) OnStart(ctx context.Context, event worker.Event) {
	h.count(ctx, "start", event)
}

func (h *MetricsHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.count(ctx, "success", event)
	h.observe(ctx, "success", event)
}

func (h *MetricsHook) OnFailure(ctx context.Context, event worker.Event) {
	h.count(ctx, "failure", event)
	h.observe(ctx, "failure", event)
}

func (h *MetricsHook) OnRetry(ctx context.Context, event worker.Event) {
	h.count(ctx, "retry", event)
}

func (h *MetricsHook) count(ctx context.Context, phase string, event worker.Event) {
	if h == nil || h.recorder == nil {
		return
	}
	h.recorder.IncCounter(ctx, core.MetricJobTotal, 1, eventTags(phase, event))
}

func (h *MetricsHook) observe(ctx context.Context, phase string, event worker.Event) {
	if h == nil || h.recorder == nil {
		return
	}
	h.recorder.ObserveHistogram(ctx, core.MetricJobDuration, float64(event.Duration.Milliseconds()), eventTags(phase, event))
}

func eventTags(phase string, event worker.Event) map[string]string {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	tags := map[string]string{"phase": phase}
	if message != nil {
		tags["job_id"] = strings.TrimSpace(message.JobID)
	}
	return tags
}

var (
	_ core.Publisher = (*Publisher)(nil)
	_ worker.Hook    = (*MetricsHook)(nil)
	_ SyncRunner     = (*core.Service)(nil)
)
