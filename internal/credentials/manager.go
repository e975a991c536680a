// Package credentials implements the credential store and token
// lifecycle manager (spec §4.3, component C3): at-most-one concurrent
// refresh, proactive renewal before expiry, reactive renewal on auth
// rejection, and persistence of refreshed credentials.
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sad1droid/kiro-openai-gateway/internal/identity"
	"github.com/sad1droid/kiro-openai-gateway/pkg/kerrors"
)

// Manager owns the credential record's lifecycle. It is shared across
// all request tasks (spec §5): accessors take the read lock, and
// updates swap the whole Record at once under the write lock;
// refreshes are coalesced through a singleflight group so only
// one refresh HTTP call is ever in flight.
type Manager struct {
	mu          sync.RWMutex
	rec         Record
	store       *Store
	threshold   time.Duration
	client      *http.Client
	logger      *zap.Logger
	fingerprint string
	sf          singleflight.Group
}

// NewManager constructs a Manager around an already-loaded Record.
// store may be nil (no file to persist to). refreshTimeout bounds each
// refresh HTTP call (spec §5: "token-refresh timeout is short, e.g. 15s").
func NewManager(initial Record, store *Store, threshold, refreshTimeout time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		rec:         initial,
		store:       store,
		threshold:   threshold,
		client:      &http.Client{Timeout: refreshTimeout},
		logger:      logger,
		fingerprint: identity.MachineFingerprint(),
	}
}

// AccessToken returns a currently-valid access token, refreshing first
// if the token is missing or within threshold of expiry.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	if tok, ok := m.currentIfFresh(); ok {
		return tok, nil
	}
	return m.refresh(ctx, false)
}

// ForceRefresh unconditionally refreshes the token, used reactively on
// an upstream 403 (spec §4.3).
func (m *Manager) ForceRefresh(ctx context.Context) (string, error) {
	return m.refresh(ctx, true)
}

// ProfileArn returns the current profile ARN.
func (m *Manager) ProfileArn() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rec.ProfileArn
}

// Region returns the configured region.
func (m *Manager) Region() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rec.Region
}

// Fingerprint returns this process's machine fingerprint.
func (m *Manager) Fingerprint() string { return m.fingerprint }

// SetTransport overrides the HTTP transport used for refresh calls,
// e.g. to route through a proxy or, in tests, to redirect at an
// httptest.Server.
func (m *Manager) SetTransport(rt http.RoundTripper) {
	m.client.Transport = rt
}

// AuthHost returns the region-scoped refresh host.
func (m *Manager) AuthHost() string { return authHost(m.Region()) }

// APIHost returns the region-scoped chat (generate) host.
func (m *Manager) APIHost() string { return ChatHost(m.Region()) }

// QHost returns the region-scoped model-listing host.
func (m *Manager) QHost() string { return QHost(m.Region()) }

func authHost(region string) string { return fmt.Sprintf("prod.%s.auth.desktop.kiro.dev", region) }

// ChatHost returns the generateAssistantResponse host for region.
func ChatHost(region string) string { return fmt.Sprintf("codewhisperer.%s.amazonaws.com", region) }

// QHost returns the ListAvailableModels host for region.
func QHost(region string) string { return fmt.Sprintf("q.%s.amazonaws.com", region) }

func (m *Manager) currentIfFresh() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.rec.NeedsRefresh(m.threshold) {
		return "", false
	}
	return m.rec.AccessToken, true
}

// refresh runs the refresh algorithm from spec §4.3 behind a
// singleflight group so concurrent callers join a single in-flight
// refresh and all observe the same new token.
func (m *Manager) refresh(ctx context.Context, force bool) (string, error) {
	v, err, _ := m.sf.Do("refresh", func() (interface{}, error) {
		// Re-check: another caller may have refreshed while we waited
		// to acquire the singleflight slot.
		if !force {
			if tok, ok := m.currentIfFresh(); ok {
				return tok, nil
			}
		}
		return m.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    string `json:"expiresAt"`
}

// doRefresh performs the POST to the refresh endpoint, retrying once
// on any failure other than an auth rejection (401 / invalid_grant,
// which is returned at once); a rejected 4xx request is retried like a
// transport error or 5xx. On success it atomically replaces the
// in-memory record and persists it if backed by a file.
func (m *Manager) doRefresh(ctx context.Context) (string, error) {
	m.mu.RLock()
	refreshToken := m.rec.RefreshToken
	region := m.rec.Region
	m.mu.RUnlock()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := m.postRefresh(ctx, region, refreshToken)
		if err == nil {
			m.applyRefresh(resp)
			return resp.AccessToken, nil
		}

		if ge, ok := kerrors.As(err); ok && ge.Kind == kerrors.KindAuthInvalid {
			return "", err // terminal, no retry
		}

		lastErr = err
		m.logger.Warn("token refresh attempt failed, retrying once",
			zap.Int("attempt", attempt), zap.Error(err))
	}
	return "", lastErr
}

func (m *Manager) postRefresh(ctx context.Context, region, refreshToken string) (*refreshResponse, error) {
	body, _ := json.Marshal(map[string]string{"refreshToken": refreshToken})

	url := "https://" + authHost(region) + "/refreshToken"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, kerrors.NetworkError("build refresh request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent(m.fingerprint))
	req.Header.Set("amz-sdk-invocation-id", identity.InvocationID())

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, kerrors.NetworkError("refresh request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, kerrors.NetworkError("read refresh response", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || strings.Contains(strings.ToLower(string(respBody)), "invalid_grant") {
		return nil, kerrors.AuthError("refresh token rejected", fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, kerrors.Wrap(kerrors.KindUpstreamTransient, "transient refresh failure",
			fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}
	if resp.StatusCode >= 400 {
		return nil, kerrors.NetworkError("refresh request rejected",
			fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}

	var parsed refreshResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, kerrors.NetworkError("parse refresh response", err)
	}
	return &parsed, nil
}

func (m *Manager) applyRefresh(resp *refreshResponse) {
	m.mu.Lock()
	next := m.rec
	next.AccessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		next.RefreshToken = resp.RefreshToken
	}
	if resp.ExpiresAt != "" {
		if t, err := time.Parse(TimeLayout, resp.ExpiresAt); err == nil {
			next.ExpiresAt = &t
		}
	}
	m.rec = next
	m.mu.Unlock()

	if m.store != nil && m.store.HasFile() {
		if err := m.store.Save(next); err != nil {
			// Non-fatal: in-memory state is already updated.
			m.logger.Warn("failed to persist refreshed credentials", zap.Error(err))
		}
	}
}

func userAgent(fingerprint string) string {
	return UserAgent(fingerprint)
}

// UserAgent builds the standard User-Agent header value carrying the
// machine fingerprint, used for every upstream call (refresh, listing,
// generate).
func UserAgent(fingerprint string) string {
	return fmt.Sprintf("kiro-openai-gateway/1.0 (fingerprint=%s)", fingerprint)
}
