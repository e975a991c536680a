package credentials

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStoreSavePreservesUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "creds.json")

	initial := map[string]interface{}{
		"accessToken":  "old-access",
		"refreshToken": "old-refresh",
		"profileArn":   "arn:aws:iam::123:role/x",
		"region":       "us-east-1",
		"customField":  "keep-me",
	}
	data, _ := json.Marshal(initial)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write initial file: %v", err)
	}

	store := NewFileStore(path)
	rec, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.AccessToken != "old-access" {
		t.Fatalf("expected old-access, got %q", rec.AccessToken)
	}

	rec.AccessToken = "new-access"
	rec.RefreshToken = "new-refresh"
	expires := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec.ExpiresAt = &expires

	if err := store.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("re-read file: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("parse rewritten file: %v", err)
	}

	if out["accessToken"] != "new-access" {
		t.Errorf("accessToken not updated: %v", out["accessToken"])
	}
	if out["customField"] != "keep-me" {
		t.Errorf("unrelated key not preserved: %v", out["customField"])
	}
	if out["expiresAt"] != "2026-01-01T00:00:00.000Z" {
		t.Errorf("unexpected expiresAt encoding: %v", out["expiresAt"])
	}
}

func TestStoreWithNoPathIsNoOp(t *testing.T) {
	store := NewFileStore("")
	rec, err := store.Load()
	if err != nil {
		t.Fatalf("Load on empty path should not error: %v", err)
	}
	if rec.AccessToken != "" {
		t.Fatalf("expected zero-value record, got %+v", rec)
	}
	if err := store.Save(Record{AccessToken: "x"}); err != nil {
		t.Fatalf("Save on empty path should not error: %v", err)
	}
}
