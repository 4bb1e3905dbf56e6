// Package webhook delivers webhook outbox rows over HTTP.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/velmie/messaging"
)

const (
	// DefaultUserAgent is sent by HTTPDispatcher unless overridden.
	DefaultUserAgent = "velmie-messaging-webhook/1.0"
	// DefaultTimeout bounds one dispatch when no timeout is configured.
	DefaultTimeout = 5 * time.Second

	maxConnectTimeout = 3 * time.Second
	maxDrainBytes     = 64 << 10
)

// Error strings reported in messaging.DispatchResult.
const (
	ErrMissingURL   = "missing_webhook_url"
	ErrEncodeFailed = "json_encode_failed"
)

var reservedKeys = []string{"url", "webhook_url", "endpoint", "headers", "method"}

// HTTPDispatcher turns a payload document into one HTTP request.
//
// The target comes from "url", "webhook_url" or "endpoint". "method" defaults to POST. The request body is
// "body" when it is an object, else "payload" when it is an object, else the document without its routing
// keys. "headers" may be a list of "Name: Value" strings or an object.
type HTTPDispatcher struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

var _ messaging.Dispatcher = (*HTTPDispatcher)(nil)

// DispatcherOption configures an HTTPDispatcher.
type DispatcherOption func(*HTTPDispatcher)

// WithTimeout sets the whole-request timeout. Values under one second are raised to one second.
func WithTimeout(timeout time.Duration) DispatcherOption {
	return func(d *HTTPDispatcher) {
		d.timeout = timeout
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(userAgent string) DispatcherOption {
	return func(d *HTTPDispatcher) {
		if ua := strings.TrimSpace(userAgent); ua != "" {
			d.userAgent = ua
		}
	}
}

// NewHTTPDispatcher builds a dispatcher with its own HTTP client.
func NewHTTPDispatcher(opts ...DispatcherOption) *HTTPDispatcher {
	d := &HTTPDispatcher{timeout: DefaultTimeout, userAgent: DefaultUserAgent}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	d.timeout = max(time.Second, d.timeout)

	dialer := &net.Dialer{Timeout: max(time.Second, min(maxConnectTimeout, d.timeout))}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = dialer.Timeout
	d.client = &http.Client{Transport: transport, Timeout: d.timeout}

	return d
}

// Timeout returns the effective request timeout.
func (d *HTTPDispatcher) Timeout() time.Duration {
	return d.timeout
}

// Dispatch implements messaging.Dispatcher. Any 2xx response is a success.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, eventType string, payload map[string]any, _ messaging.DispatchMeta) messaging.DispatchResult {
	url := ReadURL(payload)
	if url == "" {
		return messaging.DispatchFailed(ErrMissingURL, 0)
	}

	method := http.MethodPost
	if m, ok := payload["method"].(string); ok {
		if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
			method = m
		}
	}

	body := ResolveBody(payload)
	if _, ok := body["event_type"]; !ok {
		body["event_type"] = eventType
	}
	encoded, err := encodeBody(body)
	if err != nil {
		return messaging.DispatchFailed(ErrEncodeFailed, 0)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(encoded))
	if err != nil {
		return messaging.DispatchFailed(err.Error(), 0)
	}
	for _, line := range NormalizeHeaders(payload["headers"]) {
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" {
			continue
		}
		req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return messaging.DispatchFailed(err.Error(), 0)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return messaging.DispatchSucceeded(resp.StatusCode)
	}

	return messaging.DispatchFailed("http_"+itoa(resp.StatusCode), resp.StatusCode)
}

// ReadURL returns the trimmed target URL, or "" when none is set.
func ReadURL(payload map[string]any) string {
	for _, key := range []string{"url", "webhook_url", "endpoint"} {
		v, present := payload[key]
		if !present || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return ""
		}

		return strings.TrimSpace(s)
	}

	return ""
}

// ResolveBody picks the request body document. The result is always a fresh map.
func ResolveBody(payload map[string]any) map[string]any {
	if body, ok := payload["body"].(map[string]any); ok {
		return cloneMap(body)
	}
	if inner, ok := payload["payload"].(map[string]any); ok {
		return cloneMap(inner)
	}

	out := cloneMap(payload)
	for _, key := range reservedKeys {
		delete(out, key)
	}

	return out
}

// NormalizeHeaders renders a header list or object as "Name: Value" lines.
func NormalizeHeaders(raw any) []string {
	var out []string
	switch headers := raw.(type) {
	case []any:
		for _, h := range headers {
			if s, ok := h.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case []string:
		for _, s := range headers {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case map[string]any:
		for _, name := range sortedKeys(headers) {
			value, ok := headerValue(headers[name])
			if !ok || strings.TrimSpace(name) == "" {
				continue
			}
			out = append(out, strings.TrimSpace(name)+": "+value)
		}
	case map[string]string:
		converted := make(map[string]any, len(headers))
		for k, v := range headers {
			converted[k] = v
		}

		return NormalizeHeaders(converted)
	}

	return out
}

func headerValue(v any) (string, bool) {
	switch value := v.(type) {
	case nil, []any, map[string]any:
		return "", false
	case string:
		value = strings.TrimSpace(value)

		return value, value != ""
	case bool:
		if value {
			return "1", true
		}

		return "", false
	default:
		s := strings.TrimSpace(toString(value))

		return s, s != ""
	}
}

func encodeBody(body map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return nil, err
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
