package usecase

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sad1droid/kiro-openai-gateway/internal/credentials"
	"github.com/sad1droid/kiro-openai-gateway/internal/driver"
	"github.com/sad1droid/kiro-openai-gateway/internal/modelinfo"
)

func TestModelsListRefillsOnMiss(t *testing.T) {
	var calls int
	mux := http.NewServeMux()
	mux.HandleFunc("/ListAvailableModels", func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"models":[{"modelId":"CLAUDE_SONNET_4_5_20250929_V1_0","maxInputTokens":200000}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	rec := credentials.Record{AccessToken: "tok", Region: "us-east-1", ExpiresAt: timePtr(time.Now().Add(time.Hour))}
	creds := credentials.NewManager(rec, nil, 10*time.Minute, 5*time.Second, zap.NewNop())
	creds.SetTransport(redirectTransport{target: srv.URL})

	d := driver.New(&http.Client{Transport: redirectTransport{target: srv.URL}}, creds, 3, time.Millisecond, zap.NewNop())
	cache := modelinfo.NewCache(time.Hour, 200000)
	uc := NewModelsUseCase(d, creds, cache, zap.NewNop())

	models := uc.List(context.Background())
	if calls != 1 {
		t.Fatalf("expected exactly one refill call, got %d", calls)
	}
	if len(models) != 1 || models[0].ID != "CLAUDE_SONNET_4_5_20250929_V1_0" {
		t.Fatalf("unexpected models list: %+v", models)
	}
	if models[0].OwnedBy != "kiro" {
		t.Errorf("owned_by = %q, want kiro", models[0].OwnedBy)
	}

	// Second call within TTL should not refill again.
	uc.List(context.Background())
	if calls != 1 {
		t.Fatalf("expected cache hit, got %d refill calls", calls)
	}
}

func TestModelsListFallsBackOnRefillFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ListAvailableModels", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	rec := credentials.Record{AccessToken: "tok", Region: "us-east-1", ExpiresAt: timePtr(time.Now().Add(time.Hour))}
	creds := credentials.NewManager(rec, nil, 10*time.Minute, 5*time.Second, zap.NewNop())
	creds.SetTransport(redirectTransport{target: srv.URL})

	d := driver.New(&http.Client{Transport: redirectTransport{target: srv.URL}}, creds, 0, time.Millisecond, zap.NewNop())
	cache := modelinfo.NewCache(time.Hour, 200000)
	uc := NewModelsUseCase(d, creds, cache, zap.NewNop())

	models := uc.List(context.Background())
	if len(models) == 0 {
		t.Fatal("expected static fallback list when refill fails")
	}
}
