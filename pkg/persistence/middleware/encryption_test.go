package middleware_test

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/Open-Harness/open-harness-sub011/pkg/adapters/memory"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/persistence/middleware"
	"github.com/Open-Harness/open-harness-sub011/pkg/ports"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		t.Fatal(err)
	}
	return k
}

func newEncryption(t *testing.T, config middleware.EncryptionConfig) middleware.Middleware {
	t.Helper()
	mw, err := middleware.NewEncryptionMiddleware(config)
	if err != nil {
		t.Fatalf("NewEncryptionMiddleware: %v", err)
	}
	return mw
}

func TestEncryptionMiddleware_Contract(t *testing.T) {
	ports.RunStoreContract(t, newEncryption(t, middleware.EncryptionConfig{ActiveKey: generateKey(t)})(memory.NewStore()))
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	// Setup
	underlyingStore := memory.NewStore()
	secureStore := newEncryption(t, middleware.EncryptionConfig{ActiveKey: generateKey(t)})(underlyingStore)

	ctx := context.Background()
	runID := "secret-run"
	event := domain.Event{
		Seq:     1,
		Context: domain.EventContext{Task: "fetch"},
		Payload: &domain.TaskComplete{NodeID: "fetch", Output: "my-secret-sauce"},
	}

	// 1. Save
	if err := secureStore.AppendEvent(ctx, runID, event); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}
	if err := secureStore.SaveSnapshot(ctx, &domain.Snapshot{
		RunID:   runID,
		Flow:    "recipes",
		Status:  domain.StatusComplete,
		Outputs: map[string]any{"fetch": "my-secret-sauce"},
	}); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	// 2. Verify Underlying Store directly (Should be encrypted)
	raw, err := underlyingStore.Load(ctx, runID)
	if err != nil {
		t.Fatalf("Underlying load failed: %v", err)
	}
	if raw.Events[0].Name() != middleware.EventSealed || raw.Events[0].Seq != 1 {
		t.Fatalf("Expected a sealed event with seq 1, got %s/%d", raw.Events[0].Name(), raw.Events[0].Seq)
	}
	if raw.Events[0].Context.Task != "" {
		t.Error("Envelope leaks the event context")
	}
	if _, ok := raw.Outputs["fetch"]; ok {
		t.Fatal("Expected outputs to be hidden")
	}
	if raw.Flow != "recipes" || raw.Status != domain.StatusComplete {
		t.Error("Listing fields should stay readable")
	}

	// 3. Load via Middleware (Should be decrypted)
	rec, err := secureStore.Load(ctx, runID)
	if err != nil {
		t.Fatalf("Load via middleware failed: %v", err)
	}
	got, ok := rec.Events[0].Payload.(*domain.TaskComplete)
	if !ok || got.Output != "my-secret-sauce" {
		t.Errorf("Expected 'my-secret-sauce', got %v", rec.Events[0].Payload)
	}
	if rec.Events[0].Context.Task != "fetch" {
		t.Errorf("Event context lost: %+v", rec.Events[0].Context)
	}
	if rec.Outputs["fetch"] != "my-secret-sauce" {
		t.Errorf("Expected 'my-secret-sauce', got %v", rec.Outputs["fetch"])
	}
}

func TestEncryptionMiddleware_RunInFlight(t *testing.T) {
	secureStore := newEncryption(t, middleware.EncryptionConfig{ActiveKey: generateKey(t)})(memory.NewStore())
	ctx := context.Background()

	if err := secureStore.AppendEvent(ctx, "live", domain.Event{Seq: 1, Payload: &domain.RunStart{Flow: "f"}}); err != nil {
		t.Fatal(err)
	}
	rec, err := secureStore.Load(ctx, "live")
	if err != nil {
		t.Fatalf("Load without snapshot failed: %v", err)
	}
	if len(rec.Events) != 1 || rec.Events[0].Name() != domain.EventRunStart {
		t.Errorf("Unexpected events: %+v", rec.Events)
	}
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	// Setup
	underlyingStore := memory.NewStore()
	oldKey := generateKey(t)
	newKey := generateKey(t)

	// Create middleware with OLD key to save initial state
	secureStoreOld := newEncryption(t, middleware.EncryptionConfig{ActiveKey: oldKey})(underlyingStore)

	ctx := context.Background()
	snapshot := &domain.Snapshot{RunID: "rotation-run", Flow: "f", Status: domain.StatusComplete, Outputs: map[string]any{"data": "encrypted-with-old-key"}}

	// 1. Save with OLD key
	if err := secureStoreOld.SaveSnapshot(ctx, snapshot); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// 2. Load with NEW key (Active) + OLD key (Fallback)
	secureStoreNew := newEncryption(t, middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})(underlyingStore)

	loaded, err := secureStoreNew.GetSnapshot(ctx, "rotation-run")
	if err != nil {
		t.Fatalf("Load with rotated key failed: %v", err)
	}
	if loaded.Outputs["data"] != "encrypted-with-old-key" {
		t.Errorf("Decryption with fallback key failed")
	}

	// 3. Save again (Should now use the NEW key)
	loaded.Outputs["data"] = "encrypted-with-new-key"
	if err := secureStoreNew.SaveSnapshot(ctx, loaded); err != nil {
		t.Fatalf("Save with new key failed: %v", err)
	}

	// 4. Verify we CANNOT load with just OLD key anymore
	_, err = secureStoreOld.GetSnapshot(ctx, "rotation-run")
	if err == nil || !strings.Contains(err.Error(), "decryption failed") {
		t.Errorf("Expected failure when loading new-key encryption with old-key middleware, got %v", err)
	}
}

func TestEncryptionMiddleware_InvalidKey(t *testing.T) {
	_, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")})
	if !errors.Is(err, middleware.ErrInvalidKey) {
		t.Errorf("Expected ErrInvalidKey, got %v", err)
	}
}

func TestChain_RedactsBeforeEncrypting(t *testing.T) {
	underlyingStore := memory.NewStore()
	store := middleware.Chain(underlyingStore,
		newPII(t, "token"),
		newEncryption(t, middleware.EncryptionConfig{ActiveKey: generateKey(t)}),
	)
	ctx := context.Background()

	if err := store.SaveSnapshot(ctx, &domain.Snapshot{RunID: "c", Flow: "f", Input: map[string]any{"token": "abc"}}); err != nil {
		t.Fatal(err)
	}
	snap, err := store.GetSnapshot(ctx, "c")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Input.(map[string]any)["token"] != middleware.Mask {
		t.Errorf("Expected masked token, got %v", snap.Input)
	}
}
