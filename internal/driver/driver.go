// Package driver implements the retrying request driver (spec §4.8,
// component C8): the policy layer over C3 (credentials) that applies
// backoff and reactive re-auth before handing a live upstream response
// to the caller.
package driver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sad1droid/kiro-openai-gateway/internal/credentials"
	"github.com/sad1droid/kiro-openai-gateway/internal/identity"
	"github.com/sad1droid/kiro-openai-gateway/pkg/kerrors"
)

// Driver owns the retry/backoff policy and the HTTP client used to
// reach the upstream generate/listing endpoints.
type Driver struct {
	client     *http.Client
	creds      *credentials.Manager
	maxRetries int
	baseDelay  time.Duration
	logger     *zap.Logger

	// sleep is swappable in tests so backoff doesn't actually block.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Driver. client should carry the generous per-request
// timeout spec §5 calls for (upstream streams slowly).
func New(client *http.Client, creds *credentials.Manager, maxRetries int, baseDelay time.Duration, logger *zap.Logger) *Driver {
	return &Driver{
		client:     client,
		creds:      creds,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		logger:     logger,
		sleep:      ctxSleep,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do performs method/url with body, applying the retry policy of spec
// §4.8, and returns the first response whose status is below 400. The
// caller owns the returned response body and must close it. body is
// replayed verbatim on every attempt (upstream request bodies are
// short JSON payloads, per spec §4.8).
func (d *Driver) Do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	usedForceRefresh := false

	for attempt := 0; ; {
		req, err := d.buildRequest(ctx, method, url, body)
		if err != nil {
			return nil, err
		}

		resp, err := d.client.Do(req)
		if err != nil {
			if attempt >= d.maxRetries {
				return nil, kerrors.UpstreamUnavailable(err)
			}
			if sleepErr := d.backoff(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			attempt++
			continue
		}

		switch {
		case resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			if usedForceRefresh {
				return nil, kerrors.New(kerrors.KindUpstreamAuth, "upstream rejected credentials after force refresh")
			}
			usedForceRefresh = true
			if _, err := d.creds.ForceRefresh(ctx); err != nil {
				return nil, err
			}
			attempt++ // 403 handling counts as an attempt (spec §4.8, testable property 9)
			if attempt > d.maxRetries {
				return nil, kerrors.UpstreamUnavailable(fmt.Errorf("upstream still rejecting after force refresh"))
			}
			continue

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			resp.Body.Close()
			if attempt >= d.maxRetries {
				return nil, kerrors.UpstreamUnavailable(fmt.Errorf("last status %d", resp.StatusCode))
			}
			if sleepErr := d.backoff(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			attempt++
			continue

		case resp.StatusCode >= 400:
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, kerrors.UpstreamError(resp.StatusCode, string(respBody))

		default:
			return resp, nil
		}
	}
}

// backoff sleeps BASE_DELAY * 2^attempt (spec §4.8, testable property 9).
func (d *Driver) backoff(ctx context.Context, attempt int) error {
	delay := d.baseDelay * time.Duration(1<<uint(attempt))
	d.logger.Info("retrying upstream request", zap.Int("attempt", attempt), zap.Duration("delay", delay))
	return d.sleep(ctx, delay)
}

func (d *Driver) buildRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, kerrors.NetworkError("build upstream request", err)
	}

	token, err := d.creds.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", credentials.UserAgent(d.creds.Fingerprint()))
	req.Header.Set("amz-sdk-invocation-id", identity.InvocationID())
	return req, nil
}
