// Package seal encrypts outbox payloads at rest with XChaCha20-Poly1305.
//
// A sealed payload is the JSON document {"enc":"xchacha20poly1305","nonce":"<b64>","data":"<b64>"}.
// The table name is bound as additional data, so a payload sealed for one table does not open in another.
package seal

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/velmie/messaging"
)

// Algorithm is the "enc" marker of sealed payloads.
const Algorithm = "xchacha20poly1305"

var (
	// ErrInvalidKey is returned for keys that are not 32 bytes.
	ErrInvalidKey = errors.New("seal: key must be 32 bytes")
	// ErrMalformed is returned when a sealed document cannot be decoded or authenticated.
	ErrMalformed = errors.New("seal: malformed sealed payload")
)

type sealed struct {
	Enc   string `json:"enc"`
	Nonce string `json:"nonce"`
	Data  string `json:"data"`
}

// Box seals and opens payloads with one key.
type Box struct {
	key []byte
}

var (
	_ messaging.Encrypter = (*Box)(nil)
	_ messaging.Decrypter = (*Box)(nil)
)

// New returns a Box for a 32-byte key.
func New(key []byte) (*Box, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}

	return &Box{key: append([]byte(nil), key...)}, nil
}

// NewFromBase64 decodes a standard base64 key.
func NewFromBase64(encoded string) (*Box, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	return New(key)
}

// GenerateKey returns a random key encoded for NewFromBase64.
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt implements messaging.Encrypter.
func (b *Box) Encrypt(_ context.Context, table string, payload json.RawMessage) (json.RawMessage, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("seal: nonce: %w", err)
	}

	out := sealed{
		Enc:   Algorithm,
		Nonce: base64.StdEncoding.EncodeToString(nonce),
		Data:  base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, payload, []byte(table))),
	}

	return json.Marshal(out)
}

// Decrypt implements messaging.Decrypter. Payloads that are not sealed documents pass through unchanged.
func (b *Box) Decrypt(_ context.Context, table string, payload json.RawMessage) (json.RawMessage, error) {
	doc, ok := parseSealed(payload)
	if !ok {
		return payload, nil
	}

	nonce, err := base64.StdEncoding.DecodeString(doc.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", ErrMalformed, err)
	}
	data, err := base64.StdEncoding.DecodeString(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrMalformed, err)
	}

	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: nonce size %d", ErrMalformed, len(nonce))
	}
	plain, err := aead.Open(nil, nonce, data, []byte(table))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return plain, nil
}

// IsSealed reports whether payload is a sealed document.
func IsSealed(payload json.RawMessage) bool {
	_, ok := parseSealed(payload)

	return ok
}

func parseSealed(payload json.RawMessage) (sealed, bool) {
	var doc sealed
	if err := json.Unmarshal(payload, &doc); err != nil {
		return sealed{}, false
	}

	return doc, doc.Enc == Algorithm && doc.Nonce != "" && doc.Data != ""
}
