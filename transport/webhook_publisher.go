package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goliatone/go-changefeed/core"
	goerrors "github.com/goliatone/go-errors"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderTopic          = "X-Changefeed-Topic"
	HeaderEventType      = "X-Changefeed-Event-Type"
	HeaderRunID          = "X-Changefeed-Run-Id"
)

// WebhookPublisher delivers each message as one POST to <BaseURL>/<topic>.
// Any non-2xx response is a failed delivery; retries are left to the caller.
type WebhookPublisher struct {
	adapter *RESTAdapter
	baseURL string
	headers map[string]string
	signer  *HMACSigner
}

// WithSigner signs every delivered body. A nil signer disables signing.
func (p *WebhookPublisher) WithSigner(signer *HMACSigner) *WebhookPublisher {
	if p != nil {
		p.signer = signer
	}
	return p
}

func NewWebhookPublisher(adapter *RESTAdapter, baseURL string, headers map[string]string) (*WebhookPublisher, error) {
	if adapter == nil {
		adapter = NewRESTAdapter(nil)
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("transport: webhook base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("transport: invalid webhook base url: %w", err)
	}
	copied := make(map[string]string, len(headers))
	for key, value := range headers {
		copied[key] = value
	}
	return &WebhookPublisher{adapter: adapter, baseURL: baseURL, headers: copied}, nil
}

func (p *WebhookPublisher) Publish(ctx context.Context, topic string, message core.OutboundMessage) error {
	if p == nil || p.adapter == nil {
		return failure(goerrors.CategoryInternal, "transport: webhook publisher is not configured", nil, nil)
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return failure(goerrors.CategoryBadInput, "transport: topic is required", nil, nil)
	}

	headers := make(map[string]string, len(p.headers)+5)
	for key, value := range p.headers {
		headers[key] = value
	}
	headers["Content-Type"] = "application/json"
	headers[HeaderTopic] = topic
	if key := strings.TrimSpace(message.IdempotencyKey); key != "" {
		headers[HeaderIdempotencyKey] = key
	}
	if eventType := message.Attributes["event_type"]; eventType != "" {
		headers[HeaderEventType] = eventType
	}
	if runID := message.Attributes["run_id"]; runID != "" {
		headers[HeaderRunID] = runID
	}
	if p.signer != nil {
		name, value, err := p.signer.Sign(message.Body)
		if err != nil {
			return failure(goerrors.CategoryInternal, "transport: sign webhook body", err, nil)
		}
		headers[name] = value
	}

	target := p.baseURL + "/" + url.PathEscape(topic)
	res, err := p.adapter.Do(ctx, Request{
		Method:  http.MethodPost,
		URL:     target,
		Headers: headers,
		Body:    message.Body,
	})
	if err != nil {
		return err
	}
	if !res.OK() {
		return failure(goerrors.CategoryExternal, fmt.Sprintf("transport: webhook returned status %d", res.StatusCode), nil, map[string]any{
			"url":         target,
			"status_code": res.StatusCode,
			"item_id":     message.Attributes["item_id"],
		})
	}
	return nil
}

var _ core.Publisher = (*WebhookPublisher)(nil)
