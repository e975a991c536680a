package credentials

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestManager(t *testing.T, handler http.HandlerFunc, rec Record) (*Manager, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	m := NewManager(rec, nil, 10*time.Minute, 5*time.Second, zap.NewNop())
	// Point the manager at the test server instead of the real
	// region-derived host by replacing the client's transport so it
	// redirects refresh calls; the record's region is left as given.
	m.client = srv.Client()
	m.client.Transport = redirectTransport{target: srv.URL}
	return m, srv
}

// redirectTransport rewrites every outbound request's scheme/host to
// target, so tests can exercise the real URL-construction code paths
// against an httptest.Server.
type redirectTransport struct{ target string }

func (r redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	u, err := http.NewRequest(req.Method, r.target+req.URL.Path, req.Body)
	if err != nil {
		return nil, err
	}
	clone.URL = u.URL
	clone.Host = u.Host
	return http.DefaultTransport.RoundTrip(clone)
}

func TestAccessTokenRefreshExclusion(t *testing.T) {
	var calls int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond) // widen the race window
		json.NewEncoder(w).Encode(refreshResponse{
			AccessToken:  "fresh-token",
			RefreshToken: "fresh-refresh",
			ExpiresAt:    time.Now().Add(time.Hour).UTC().Format(TimeLayout),
		})
	}

	expired := time.Now().Add(-time.Minute)
	m, _ := newTestManager(t, handler, Record{
		AccessToken:  "",
		RefreshToken: "old-refresh",
		ExpiresAt:    &expired,
		Region:       "us-east-1",
	})

	const n = 20
	results := make([]string, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			tok, err := m.AccessToken(context.Background())
			if err != nil {
				t.Errorf("AccessToken: %v", err)
				return
			}
			results[i] = tok
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 refresh call, got %d", got)
	}
	for i, r := range results {
		if r != "fresh-token" {
			t.Errorf("result[%d] = %q, want fresh-token", i, r)
		}
	}
}

func TestForceRefreshOn403Path(t *testing.T) {
	var calls int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(refreshResponse{
			AccessToken: "forced-token",
			ExpiresAt:   time.Now().Add(time.Hour).UTC().Format(TimeLayout),
		})
	}

	m, _ := newTestManager(t, handler, Record{
		AccessToken:  "stale-but-valid",
		RefreshToken: "r",
		ExpiresAt:    timePtr(time.Now().Add(time.Hour)),
		Region:       "us-east-1",
	})

	tok, err := m.ForceRefresh(context.Background())
	if err != nil {
		t.Fatalf("ForceRefresh: %v", err)
	}
	if tok != "forced-token" {
		t.Fatalf("got %q, want forced-token", tok)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRefreshAuthRejectionIsTerminal(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}

	m, _ := newTestManager(t, handler, Record{
		RefreshToken: "bad",
		ExpiresAt:    timePtr(time.Now().Add(-time.Hour)),
		Region:       "us-east-1",
	})

	_, err := m.AccessToken(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
}

func timePtr(t time.Time) *time.Time { return &t }
