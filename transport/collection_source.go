package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-changefeed/core"
	"github.com/goliatone/go-changefeed/ratelimit"
	goerrors "github.com/goliatone/go-errors"
	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultPageSize         = 100
	defaultMaxPages         = 10000
	defaultMaxThrottleWaits = 5
	defaultVersionField     = "last_edited_time"
)

// PageFields names the members of a paginated listing response. Zero values
// fall back to the cursor-style defaults (results, has_more, next_cursor).
type PageFields struct {
	Results       string
	HasMore       string
	NextCursor    string
	CursorParam   string
	PageSizeParam string
	ID            string
	Version       string
}

func (f PageFields) withDefaults() PageFields {
	if strings.TrimSpace(f.Results) == "" {
		f.Results = "results"
	}
	if strings.TrimSpace(f.HasMore) == "" {
		f.HasMore = "has_more"
	}
	if strings.TrimSpace(f.NextCursor) == "" {
		f.NextCursor = "next_cursor"
	}
	if strings.TrimSpace(f.CursorParam) == "" {
		f.CursorParam = "start_cursor"
	}
	if strings.TrimSpace(f.PageSizeParam) == "" {
		f.PageSizeParam = "page_size"
	}
	if strings.TrimSpace(f.ID) == "" {
		f.ID = "id"
	}
	if strings.TrimSpace(f.Version) == "" {
		f.Version = defaultVersionField
	}
	return f
}

type RESTCollectionSourceConfig struct {
	URL    string
	Method string
	// Body is merged into every POST page request. Ignored for GET.
	Body     map[string]any
	Headers  map[string]string
	PageSize int
	// MaxPages stops a listing whose cursor never terminates.
	MaxPages int
	// MaxThrottleWaits bounds how often one page waits out a throttle window
	// reported by the adapter's limiter.
	MaxThrottleWaits int
	Fields           PageFields
}

// RESTCollectionSource lists a collection page by page over HTTP. Each call
// to Records starts from the first page.
type RESTCollectionSource struct {
	adapter *RESTAdapter
	config  RESTCollectionSourceConfig
	wait    func(ctx context.Context, d time.Duration) error
}

func NewRESTCollectionSource(adapter *RESTAdapter, config RESTCollectionSourceConfig) (*RESTCollectionSource, error) {
	if adapter == nil {
		adapter = NewRESTAdapter(nil)
	}
	config.URL = strings.TrimSpace(config.URL)
	if config.URL == "" {
		return nil, fmt.Errorf("transport: collection url is required")
	}
	config.Method = strings.ToUpper(strings.TrimSpace(config.Method))
	switch config.Method {
	case "":
		config.Method = http.MethodPost
	case http.MethodPost, http.MethodGet:
	default:
		return nil, fmt.Errorf("transport: unsupported collection method %q", config.Method)
	}
	if config.PageSize <= 0 {
		config.PageSize = defaultPageSize
	}
	if config.MaxPages <= 0 {
		config.MaxPages = defaultMaxPages
	}
	if config.MaxThrottleWaits <= 0 {
		config.MaxThrottleWaits = defaultMaxThrottleWaits
	}
	config.Fields = config.Fields.withDefaults()
	return &RESTCollectionSource{adapter: adapter, config: config, wait: sleepContext}, nil
}

func (s *RESTCollectionSource) Records(ctx context.Context) iter.Seq2[core.Record, error] {
	return func(yield func(core.Record, error) bool) {
		cursor := ""
		for pageIndex := 0; ; pageIndex++ {
			if pageIndex >= s.config.MaxPages {
				yield(core.Record{}, failure(goerrors.CategoryExternal, fmt.Sprintf("transport: listing exceeded %d pages", s.config.MaxPages), nil, map[string]any{"url": s.config.URL}))
				return
			}
			page, err := s.fetchPage(ctx, cursor)
			if err != nil {
				yield(core.Record{}, err)
				return
			}
			for _, record := range page.records {
				if !yield(record, nil) {
					return
				}
			}
			if !page.hasMore {
				return
			}
			if page.nextCursor == "" {
				yield(core.Record{}, failure(goerrors.CategoryExternal, "transport: page reports more results without a cursor", nil, map[string]any{"url": s.config.URL, "page": pageIndex}))
				return
			}
			cursor = page.nextCursor
		}
	}
}

type listingPage struct {
	records    []core.Record
	hasMore    bool
	nextCursor string
}

func (s *RESTCollectionSource) fetchPage(ctx context.Context, cursor string) (listingPage, error) {
	req := Request{
		Method:  s.config.Method,
		URL:     s.config.URL,
		Headers: map[string]string{"Accept": "application/json"},
	}
	for key, value := range s.config.Headers {
		req.Headers[key] = value
	}
	fields := s.config.Fields

	if s.config.Method == http.MethodGet {
		req.Query = map[string]string{fields.PageSizeParam: strconv.Itoa(s.config.PageSize)}
		if cursor != "" {
			req.Query[fields.CursorParam] = cursor
		}
	} else {
		body := make(map[string]any, len(s.config.Body)+2)
		for key, value := range s.config.Body {
			body[key] = value
		}
		body[fields.PageSizeParam] = s.config.PageSize
		if cursor != "" {
			body[fields.CursorParam] = cursor
		}
		encoded, err := jsonAPI.Marshal(body)
		if err != nil {
			return listingPage{}, failure(goerrors.CategoryBadInput, "transport: encode listing request", err, map[string]any{"url": s.config.URL})
		}
		req.Body = encoded
		req.Headers["Content-Type"] = "application/json"
	}

	res, err := s.do(ctx, req)
	if err != nil {
		return listingPage{}, err
	}
	if !res.OK() {
		return listingPage{}, failure(goerrors.CategoryExternal, fmt.Sprintf("transport: listing request returned status %d", res.StatusCode), nil, map[string]any{"url": s.config.URL, "status_code": res.StatusCode})
	}
	return decodeListingPage(res.Body, fields)
}

// do sends one page request. A throttled call waits out the window reported
// by the limiter and retries; a 429 is retried only when a limiter is set,
// since the limiter is what turns it into a wait.
func (s *RESTCollectionSource) do(ctx context.Context, req Request) (Response, error) {
	for waits := 0; ; waits++ {
		res, err := s.adapter.Do(ctx, req)
		var throttled ratelimit.ThrottledError
		if errors.As(err, &throttled) {
			if waits >= s.config.MaxThrottleWaits {
				return Response{}, throttled.ToServiceError()
			}
			if err := s.wait(ctx, throttled.RetryAfter); err != nil {
				return Response{}, err
			}
			continue
		}
		if err != nil {
			return Response{}, err
		}
		if res.StatusCode == http.StatusTooManyRequests && s.adapter.Limiter != nil && waits < s.config.MaxThrottleWaits {
			continue
		}
		return res, nil
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func decodeListingPage(body []byte, fields PageFields) (listingPage, error) {
	malformed := func(cause error, detail string) error {
		return failure(goerrors.CategoryExternal, "transport: malformed listing page: "+detail, cause, nil)
	}

	var envelope map[string]json.RawMessage
	if err := jsonAPI.Unmarshal(body, &envelope); err != nil {
		return listingPage{}, malformed(err, "body is not a json object")
	}
	rawResults, ok := envelope[fields.Results]
	if !ok {
		return listingPage{}, malformed(nil, fmt.Sprintf("missing %q", fields.Results))
	}
	var items []json.RawMessage
	if err := jsonAPI.Unmarshal(rawResults, &items); err != nil {
		return listingPage{}, malformed(err, fmt.Sprintf("%q is not an array", fields.Results))
	}

	page := listingPage{records: make([]core.Record, 0, len(items))}
	for index, item := range items {
		record, err := decodeListingItem(item, fields)
		if err != nil {
			return listingPage{}, malformed(err, fmt.Sprintf("item %d", index))
		}
		page.records = append(page.records, record)
	}

	if raw, ok := envelope[fields.HasMore]; ok && !isJSONNull(raw) {
		if err := jsonAPI.Unmarshal(raw, &page.hasMore); err != nil {
			return listingPage{}, malformed(err, fmt.Sprintf("%q is not a boolean", fields.HasMore))
		}
	}
	if raw, ok := envelope[fields.NextCursor]; ok && !isJSONNull(raw) {
		if err := jsonAPI.Unmarshal(raw, &page.nextCursor); err != nil {
			return listingPage{}, malformed(err, fmt.Sprintf("%q is not a string", fields.NextCursor))
		}
	}
	return page, nil
}

func decodeListingItem(item json.RawMessage, fields PageFields) (core.Record, error) {
	var object map[string]json.RawMessage
	if err := jsonAPI.Unmarshal(item, &object); err != nil {
		return core.Record{}, err
	}
	id, err := scalarString(object[fields.ID])
	if err != nil || strings.TrimSpace(id) == "" {
		return core.Record{}, fmt.Errorf("missing or invalid %q", fields.ID)
	}
	version, err := scalarString(object[fields.Version])
	if err != nil {
		return core.Record{}, fmt.Errorf("missing or invalid %q on %s", fields.Version, id)
	}
	return core.Record{
		ID:            id,
		VersionMarker: version,
		Payload:       append(json.RawMessage(nil), item...),
	}, nil
}

// scalarString reads a json string as-is and any other scalar as its literal
// text, so numeric revision counters work as markers too.
func scalarString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || isJSONNull(raw) {
		return "", fmt.Errorf("value is absent")
	}
	var text string
	if err := jsonAPI.Unmarshal(raw, &text); err == nil {
		return text, nil
	}
	var scalar any
	if err := jsonAPI.Unmarshal(raw, &scalar); err != nil {
		return "", err
	}
	switch scalar.(type) {
	case map[string]any, []any:
		return "", fmt.Errorf("value is not a scalar")
	}
	return strings.TrimSpace(string(raw)), nil
}

func isJSONNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

var _ core.CollectionSource = (*RESTCollectionSource)(nil)
