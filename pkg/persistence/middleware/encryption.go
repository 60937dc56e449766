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

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/ports"
)

// EventSealed names the opaque envelope an encrypted event is stored as.
const EventSealed domain.EventName = "sealed"

const encryptedKey = "__encrypted__"

// ErrInvalidKey is returned for keys that are not 32 bytes.
var ErrInvalidKey = errors.New("encryption key must be 32 bytes (AES-256)")

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
	next   ports.RunStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that encrypts recordings using
// AES-GCM. Events are stored as sealed envelopes that keep only their sequence
// number; snapshots keep the fields a listing needs (id, flow, session, status
// and times) and hide the rest.
func NewEncryptionMiddleware(config EncryptionConfig) (Middleware, error) {
	if len(config.ActiveKey) != 32 {
		return nil, ErrInvalidKey
	}
	for _, k := range config.FallbackKeys {
		if len(k) != 32 {
			return nil, fmt.Errorf("fallback key: %w", ErrInvalidKey)
		}
	}
	return func(next ports.RunStore) ports.RunStore {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}, nil
}

type sealedBody struct {
	Data string `json:"data"`
}

func (m *encryptionMiddleware) seal(v any) (string, error) {
	plainText, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal: %w", err)
	}
	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (m *encryptionMiddleware) open(data string, v any) error {
	ciphertext, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}
	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return err
	}
	return json.Unmarshal(plainText, v)
}

func (m *encryptionMiddleware) AppendEvent(ctx context.Context, runID string, event domain.Event) error {
	data, err := m.seal(event)
	if err != nil {
		return fmt.Errorf("seal %s event: %w", event.Name(), err)
	}
	body, _ := json.Marshal(sealedBody{Data: data})
	envelope := domain.Event{
		Seq:       event.Seq,
		Timestamp: event.Timestamp,
		Payload:   &domain.Unknown{Name: EventSealed, Raw: body},
	}
	return m.next.AppendEvent(ctx, runID, envelope)
}

func (m *encryptionMiddleware) SaveSnapshot(ctx context.Context, snapshot *domain.Snapshot) error {
	data, err := m.seal(snapshot)
	if err != nil {
		return fmt.Errorf("seal snapshot: %w", err)
	}
	// The envelope hides every execution detail.
	envelope := &domain.Snapshot{
		RunID:       snapshot.RunID,
		Flow:        snapshot.Flow,
		SessionID:   snapshot.SessionID,
		Status:      snapshot.Status,
		Outputs:     map[string]any{encryptedKey: data},
		StartedAt:   snapshot.StartedAt,
		CompletedAt: snapshot.CompletedAt,
	}
	return m.next.SaveSnapshot(ctx, envelope)
}

func (m *encryptionMiddleware) openSnapshot(envelope *domain.Snapshot) (*domain.Snapshot, error) {
	data, ok := envelope.Outputs[encryptedKey].(string)
	if !ok {
		return nil, errors.New("snapshot is missing encrypted data envelope")
	}
	var snapshot domain.Snapshot
	if err := m.open(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decrypt snapshot: %w", err)
	}
	return &snapshot, nil
}

func (m *encryptionMiddleware) openEvent(envelope domain.Event) (domain.Event, error) {
	sealed, ok := envelope.Payload.(*domain.Unknown)
	if !ok || sealed.Name != EventSealed {
		return domain.Event{}, fmt.Errorf("event %d is not sealed", envelope.Seq)
	}
	var body sealedBody
	if err := json.Unmarshal(sealed.Raw, &body); err != nil {
		return domain.Event{}, fmt.Errorf("event %d: %w", envelope.Seq, err)
	}
	var event domain.Event
	if err := m.open(body.Data, &event); err != nil {
		return domain.Event{}, fmt.Errorf("failed to decrypt event %d: %w", envelope.Seq, err)
	}
	return event, nil
}

func (m *encryptionMiddleware) GetSnapshot(ctx context.Context, runID string) (*domain.Snapshot, error) {
	envelope, err := m.next.GetSnapshot(ctx, runID)
	if err != nil {
		return nil, err
	}
	return m.openSnapshot(envelope)
}

func (m *encryptionMiddleware) Load(ctx context.Context, runID string) (*domain.Recording, error) {
	rec, err := m.next.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := &domain.Recording{Events: make([]domain.Event, len(rec.Events))}
	for i, ev := range rec.Events {
		if out.Events[i], err = m.openEvent(ev); err != nil {
			return nil, err
		}
	}
	// A run still in flight has events but no snapshot yet.
	if _, sealed := rec.Outputs[encryptedKey]; !sealed {
		out.Snapshot = rec.Snapshot
		return out, nil
	}
	snapshot, err := m.openSnapshot(&rec.Snapshot)
	if err != nil {
		return nil, err
	}
	out.Snapshot = *snapshot
	return out, nil
}

func (m *encryptionMiddleware) List(ctx context.Context, query domain.RunQuery) ([]domain.RunSummary, error) {
	return m.next.List(ctx, query)
}

func (m *encryptionMiddleware) Delete(ctx context.Context, runID string) error {
	return m.next.Delete(ctx, runID)
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
	// Try active key first
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}

	// Try fallbacks in order
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
	ciphertextBytes := ciphertext[gcm.NonceSize():]

	return gcm.Open(nil, nonce, ciphertextBytes, nil)
}
