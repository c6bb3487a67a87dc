package engine

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Dispatcher issues the resolved HTTP request for a Request step and
// normalizes the response, grounded on the teacher's plugins/http package
// (same resty client shape: SetHeaders/SetQueryParams/SetBody/Execute) but
// generalized to the spec's explicit server+step header-merge and
// timeout-precedence rules instead of a single flat plugin config.
type Dispatcher struct {
	client   *resty.Client
	resolver *Resolver
}

func NewDispatcher(resolver *Resolver) *Dispatcher {
	return &Dispatcher{
		client:   resty.New(),
		resolver: resolver,
	}
}

// Do issues the request described by step against server, resolving the
// URL/headers/body/query params first. It always returns a *ResponseSnapshot
// on a completed exchange — a non-2xx response is not itself an error (spec
// §4.4); errors are returned only when the exchange itself failed. The
// returned *RequestSnapshot reflects what was actually sent, for recording
// on the step result.
func (d *Dispatcher) Do(ctx context.Context, server Server, method HTTPMethod, endpoint string, stepHeaders []HeaderEntry, body any, queryParams map[string]string, timeoutMs int, rctx *resolveContext) (*RequestSnapshot, *ResponseSnapshot, error) {
	fullURL := joinURL(server.BaseURL, endpoint)
	fullURL = asResolvedString(d.resolver.Resolve(fullURL, rctx))

	headers := d.mergeHeaders(server.Headers, stepHeaders, rctx)

	resolvedQuery := make(map[string]string, len(queryParams))
	for k, v := range queryParams {
		resolvedQuery[k] = asResolvedString(d.resolver.Resolve(v, rctx))
	}

	var resolvedBody any
	if body != nil {
		parsed := ParseJSONIfString(body)
		resolvedBody = d.resolver.Resolve(parsed, rctx)
	}

	reqSnapshot := &RequestSnapshot{
		URL:     fullURL,
		Method:  string(method),
		Headers: headers,
		Body:    resolvedBody,
	}

	timeout := time.Duration(timeoutMs) * time.Millisecond
	if timeoutMs <= 0 {
		timeout = time.Duration(server.Timeout) * time.Millisecond
	}

	reqCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req := d.client.R().
		SetContext(reqCtx).
		SetHeaders(headers).
		SetQueryParams(resolvedQuery)

	if resolvedBody != nil && sendsBody(method) {
		req.SetBody(resolvedBody)
	}

	start := time.Now()
	resp, err := req.Execute(string(method), fullURL)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		return reqSnapshot, nil, classifyHTTPError(err, duration)
	}

	return reqSnapshot, normalizeResponse(resp, duration), nil
}

func sendsBody(method HTTPMethod) bool {
	return method == MethodPost || method == MethodPut || method == MethodPatch
}

// joinURL implements spec §4.4/§6: baseUrl with trailing "/" stripped,
// endpoint with a leading "/" ensured, joined by exactly one "/".
func joinURL(baseURL, endpoint string) string {
	base := strings.TrimRight(baseURL, "/")
	ep := endpoint
	if !strings.HasPrefix(ep, "/") {
		ep = "/" + ep
	}
	return base + ep
}

// mergeHeaders implements spec §4.4/§6: server headers first, step headers
// overwrite by key; only enabled=true entries with a non-empty trimmed key
// are included; values are resolved.
func (d *Dispatcher) mergeHeaders(serverHeaders, stepHeaders []HeaderEntry, ctx *resolveContext) map[string]string {
	merged := make(map[string]string)
	apply := func(entries []HeaderEntry) {
		for _, h := range entries {
			key := strings.TrimSpace(h.Key)
			if !h.IsEnabled() || key == "" {
				continue
			}
			merged[key] = asResolvedString(d.resolver.Resolve(h.Value, ctx))
		}
	}
	apply(serverHeaders)
	apply(stepHeaders)
	return merged
}

func asResolvedString(v any) string {
	s, _ := v.(string)
	return s
}

func normalizeResponse(resp *resty.Response, durationMs int64) *ResponseSnapshot {
	headers := make(map[string]string, len(resp.Header()))
	for k, values := range resp.Header() {
		headers[k] = strings.Join(values, ", ")
	}

	var data any
	if len(resp.Body()) > 0 {
		data = parseResponseBody(resp)
	}

	return &ResponseSnapshot{
		Status:     resp.StatusCode(),
		StatusText: resp.Status(),
		Headers:    headers,
		Data:       data,
		DurationMs: durationMs,
	}
}

func parseResponseBody(resp *resty.Response) any {
	parsed := ParseJSONIfString(string(resp.Body()))
	if s, ok := parsed.(string); ok {
		return s
	}
	return parsed
}

// classifyHTTPError turns a resty transport failure into one of the
// Timeout/Network/Configuration EngineError kinds (spec §4.4/§7).
func classifyHTTPError(err error, durationMs int64) *EngineError {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return &EngineError{Kind: ErrHTTPTimeout, Message: err.Error(), StatusText: "Timeout", Cause: err}
		}
		return &EngineError{Kind: ErrHTTPNetwork, Message: err.Error(), StatusText: "Network", Cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &EngineError{Kind: ErrHTTPTimeout, Message: err.Error(), StatusText: "Timeout", Cause: err}
	}
	return &EngineError{Kind: ErrHTTPConfig, Message: err.Error(), StatusText: "Configuration", Cause: err}
}
