package messaging

import (
	"encoding/json"
	"maps"
	"time"
)

// HeaderCreatedAt is stamped on every envelope that does not carry it already.
const HeaderCreatedAt = "x-created-at"

// Envelope is an immutable message: a topic (or task name), a payload document and headers.
type Envelope struct {
	topic   string
	payload map[string]any
	headers map[string]any
}

// NewEnvelope copies payload and headers and stamps HeaderCreatedAt with the current UTC time when absent.
func NewEnvelope(topic string, payload, headers map[string]any) Envelope {
	return newEnvelopeAt(topic, payload, headers, time.Now())
}

func newEnvelopeAt(topic string, payload, headers map[string]any, now time.Time) Envelope {
	env := Envelope{
		topic:   topic,
		payload: cloneDocument(payload),
		headers: cloneDocument(headers),
	}
	if _, ok := env.headers[HeaderCreatedAt]; !ok {
		env.headers[HeaderCreatedAt] = now.UTC().Format(time.RFC3339)
	}

	return env
}

// Topic returns the topic or task name.
func (e Envelope) Topic() string {
	return e.topic
}

// Payload returns a copy of the payload document.
func (e Envelope) Payload() map[string]any {
	return cloneDocument(e.payload)
}

// Headers returns a copy of the headers.
func (e Envelope) Headers() map[string]any {
	return cloneDocument(e.headers)
}

// Header returns a single header value.
func (e Envelope) Header(key string) (any, bool) {
	v, ok := e.headers[key]

	return v, ok
}

// HeaderString returns a header value when it is a string, or "".
func (e Envelope) HeaderString(key string) string {
	v, _ := e.headers[key].(string)

	return v
}

// PayloadJSON encodes the payload document.
func (e Envelope) PayloadJSON() ([]byte, error) {
	return json.Marshal(e.payload)
}

// HeadersJSON encodes the headers.
func (e Envelope) HeadersJSON() ([]byte, error) {
	return json.Marshal(e.headers)
}

type envelopeJSON struct {
	Topic   string         `json:"topic"`
	Payload map[string]any `json:"payload"`
	Headers map[string]any `json:"headers"`
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelopeJSON{Topic: e.topic, Payload: e.payload, Headers: e.headers})
}

// UnmarshalJSON implements json.Unmarshaler. Missing maps decode as empty documents.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw envelopeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.topic = raw.Topic
	e.payload = cloneDocument(raw.Payload)
	e.headers = cloneDocument(raw.Headers)

	return nil
}

// DecodeDocument decodes a JSON object. Anything that is not an object yields an empty document.
func DecodeDocument(raw []byte) map[string]any {
	doc := map[string]any{}
	if len(raw) == 0 {
		return doc
	}
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return map[string]any{}
	}

	return doc
}

func cloneDocument(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = cloneValue(v)
	}

	return dst
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneDocument(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}

		return out
	case map[string]string:
		return maps.Clone(t)
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
