package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-changefeed/ratelimit"
	goerrors "github.com/goliatone/go-errors"
)

const (
	KindREST = "rest"

	defaultRESTClientTimeout           = 30 * time.Second
	defaultRESTResponseBodyLimit int64 = 10 << 20
	defaultRESTMethod                  = http.MethodGet
	metadataAdapter                    = "adapter"
	metadataURL                        = "url"
	metadataStatusCode                 = "status_code"
	metadataResponseLimitBytes         = "response_limit_b"
	metadataRateLimitBucket            = "bucket"
)

type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Query   map[string]string
	Body    []byte
	Timeout time.Duration
	// MaxResponseBodyBytes overrides the adapter limit for this call.
	MaxResponseBodyBytes int64
}

type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Duration   time.Duration
}

func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RateLimiter gates calls per bucket. The adapter uses the request host as
// the bucket.
type RateLimiter interface {
	BeforeCall(ctx context.Context, bucket string) error
	AfterCall(ctx context.Context, bucket string, res ratelimit.ResponseMeta) error
}

// RESTAdapter is the single HTTP path for listing pages and webhook
// deliveries.
type RESTAdapter struct {
	Client               HTTPDoer
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
	Limiter              RateLimiter
}

func NewRESTAdapter(client HTTPDoer) *RESTAdapter {
	if client == nil {
		client = &http.Client{Timeout: defaultRESTClientTimeout}
	}
	return &RESTAdapter{
		Client:               client,
		DefaultHeaders:       map[string]string{},
		MaxResponseBodyBytes: defaultRESTResponseBodyLimit,
	}
}

func (*RESTAdapter) Kind() string {
	return KindREST
}

// Do sends req. Non-2xx statuses are returned as responses, not errors; only
// transport failures and limiter refusals are errors.
func (a *RESTAdapter) Do(ctx context.Context, req Request) (Response, error) {
	if a == nil || a.Client == nil {
		return Response{}, failure(goerrors.CategoryInternal, "transport: rest adapter requires an http client", nil,
			map[string]any{metadataAdapter: KindREST})
	}
	if ctx == nil {
		ctx = context.Background()
	}

	target, err := resolveURL(req.URL, req.Query)
	if err != nil {
		return Response{}, err
	}
	bucket := target.Host
	if a.Limiter != nil {
		if err := a.Limiter.BeforeCall(ctx, bucket); err != nil {
			return Response{}, err
		}
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	httpReq, err := a.newHTTPRequest(ctx, req, target)
	if err != nil {
		return Response{}, err
	}

	startedAt := time.Now()
	httpRes, err := a.Client.Do(httpReq)
	if err != nil {
		return Response{}, failure(goerrors.CategoryExternal, "transport: execute http request", err,
			map[string]any{metadataAdapter: KindREST, "method": httpReq.Method, metadataURL: target.String()})
	}
	defer httpRes.Body.Close()

	headers := flattenHeaders(httpRes.Header)
	if a.Limiter != nil {
		meta := ratelimit.ResponseMeta{StatusCode: httpRes.StatusCode, Headers: headers}
		if err := a.Limiter.AfterCall(httpReq.Context(), bucket, meta); err != nil {
			return Response{}, failure(goerrors.CategoryInternal, "transport: record rate limit state", err,
				map[string]any{metadataAdapter: KindREST, metadataRateLimitBucket: bucket})
		}
	}

	body, err := readLimited(httpRes, firstPositive(req.MaxResponseBodyBytes, a.MaxResponseBodyBytes, defaultRESTResponseBodyLimit))
	if err != nil {
		return Response{}, err
	}
	return Response{
		StatusCode: httpRes.StatusCode,
		Headers:    headers,
		Body:       body,
		Duration:   time.Since(startedAt),
	}, nil
}

func resolveURL(raw string, query map[string]string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, failure(goerrors.CategoryBadInput, "transport: request url is required", nil,
			map[string]any{metadataAdapter: KindREST})
	}
	target, err := url.Parse(raw)
	if err != nil {
		return nil, failure(goerrors.CategoryBadInput, "transport: invalid request url", err,
			map[string]any{metadataAdapter: KindREST, metadataURL: raw})
	}
	if len(query) > 0 {
		values := target.Query()
		for key, value := range query {
			if key = strings.TrimSpace(key); key != "" {
				values.Set(key, strings.TrimSpace(value))
			}
		}
		target.RawQuery = values.Encode()
	}
	return target, nil
}

func (a *RESTAdapter) newHTTPRequest(ctx context.Context, req Request, target *url.URL) (*http.Request, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = defaultRESTMethod
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(req.Body))
	if err != nil {
		return nil, failure(goerrors.CategoryBadInput, "transport: create http request", err,
			map[string]any{metadataAdapter: KindREST, "method": method, metadataURL: target.String()})
	}
	// Request headers win over adapter defaults.
	for _, headers := range []map[string]string{a.DefaultHeaders, req.Headers} {
		for key, value := range headers {
			if key = strings.TrimSpace(key); key != "" {
				httpReq.Header.Set(key, strings.TrimSpace(value))
			}
		}
	}
	return httpReq, nil
}

func readLimited(res *http.Response, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(res.Body, limit+1))
	if err != nil {
		return nil, failure(goerrors.CategoryExternal, "transport: read response body", err,
			map[string]any{metadataAdapter: KindREST, metadataStatusCode: res.StatusCode})
	}
	if int64(len(body)) > limit {
		return nil, failure(goerrors.CategoryExternal,
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", limit), nil,
			map[string]any{metadataAdapter: KindREST, metadataStatusCode: res.StatusCode, metadataResponseLimitBytes: limit})
	}
	return body, nil
}

func flattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[key] = strings.Join(values, ",")
	}
	return flat
}

func firstPositive(values ...int64) int64 {
	for _, value := range values {
		if value > 0 {
			return value
		}
	}
	return 0
}
