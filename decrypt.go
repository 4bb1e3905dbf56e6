package messaging

import (
	"context"
	"encoding/json"
)

const (
	eventOutboxTable   = "event_outbox"
	webhookOutboxTable = "webhook_outbox"
)

// Decrypter optionally turns a stored payload back into plaintext before delivery.
// Implementations must pass through payloads they do not recognize.
type Decrypter interface {
	Decrypt(ctx context.Context, table string, payload json.RawMessage) (json.RawMessage, error)
}

// DecrypterFunc adapts a function to Decrypter.
type DecrypterFunc func(ctx context.Context, table string, payload json.RawMessage) (json.RawMessage, error)

// Decrypt implements Decrypter.
func (fn DecrypterFunc) Decrypt(ctx context.Context, table string, payload json.RawMessage) (json.RawMessage, error) {
	return fn(ctx, table, payload)
}

// Encrypter seals payloads before they are stored.
type Encrypter interface {
	Encrypt(ctx context.Context, table string, payload json.RawMessage) (json.RawMessage, error)
}

// maybeDecrypt is best-effort: an error or an empty result keeps the original document.
func maybeDecrypt(ctx context.Context, d Decrypter, table string, payload map[string]any) map[string]any {
	if d == nil {
		return payload
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return payload
	}
	out, err := d.Decrypt(ctx, table, raw)
	if err != nil {
		return payload
	}
	decoded := DecodeDocument(out)
	if len(decoded) == 0 {
		return payload
	}

	return decoded
}
