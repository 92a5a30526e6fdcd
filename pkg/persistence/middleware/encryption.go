package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// encryptedPrefix marks a field value sealed by this middleware.
const encryptedPrefix = "enc:v1:"

// ErrNotEncrypted is returned when a stored field was written without encryption.
var ErrNotEncrypted = errors.New("record field is not encrypted")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.StateStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that seals every record field with AES-GCM.
// Field names stay readable so diffs keep their per-field granularity; values do not.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.StateStore) ports.StateStore {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}
}

func (m *encryptionMiddleware) Commit(ctx context.Context, diffs ...domain.StateDiff) error {
	sealed := make([]domain.StateDiff, len(diffs))
	for i, d := range diffs {
		out := domain.StateDiff{ID: d.ID, Deleted: d.Deleted}
		if len(d.Set) > 0 {
			out.Set = make(map[string]any, len(d.Set))
		}
		for k, v := range d.Set {
			plainText, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("failed to marshal field %s: %w", k, err)
			}
			ciphertext, err := encrypt(plainText, m.config.ActiveKey)
			if err != nil {
				return fmt.Errorf("failed to encrypt field %s: %w", k, err)
			}
			out.Set[k] = encryptedPrefix + base64.StdEncoding.EncodeToString(ciphertext)
		}
		sealed[i] = out
	}
	return m.next.Commit(ctx, sealed...)
}

func (m *encryptionMiddleware) Load(ctx context.Context, id string) (domain.Record, error) {
	stored, err := m.next.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	rec := make(domain.Record, len(stored))
	for k, v := range stored {
		s, ok := v.(string)
		if !ok || !strings.HasPrefix(s, encryptedPrefix) {
			// Fail secure: with encryption configured every field must be sealed.
			return nil, fmt.Errorf("%w: %s.%s", ErrNotEncrypted, id, k)
		}
		ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, encryptedPrefix))
		if err != nil {
			return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
		}
		plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt field %s: %w", k, err)
		}
		var val any
		if err := json.Unmarshal(plainText, &val); err != nil {
			return nil, fmt.Errorf("failed to unmarshal decrypted field %s: %w", k, err)
		}
		rec[k] = val
	}
	return rec, nil
}

func (m *encryptionMiddleware) Delete(ctx context.Context, id string) error {
	return m.next.Delete(ctx, id)
}

func (m *encryptionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}
