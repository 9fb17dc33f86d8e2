// Package source fetches raw data from external endpoints and normalizes it
// into domain records. Each feed has one client; all clients share the same
// fallback behavior: primary endpoint, then fallback endpoints in declared
// order, then (when enabled) a synthetic generator.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/couchcryptid/energy-data-ingest/internal/domain"
)

// Client produces a batch of normalized records for a time window.
type Client interface {
	Source() domain.Source
	Fetch(ctx context.Context, window domain.Window) ([]domain.Record, error)
}

// errAuthRejected aborts a fallback chain immediately: if the primary rejects
// our credentials, the mirrors will too.
var errAuthRejected = errors.New("authentication rejected")

// httpGet fetches a URL and classifies failures. Network errors and 5xx,
// 408, 429 responses are transient; 401/403 are permanent auth failures;
// remaining non-2xx statuses are plain errors that advance a fallback chain
// without being retried at the orchestrator level.
func httpGet(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.Permanentf("create request for %s: %w", url, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.Transientf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, domain.Transientf("read %s: %w", url, err)
		}
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, domain.Permanentf("%w by %s (status %d)", errAuthRejected, url, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		return nil, domain.Transientf("get %s: status %d", url, resp.StatusCode)
	default:
		return nil, fmt.Errorf("get %s: status %d", url, resp.StatusCode)
	}
}

// newHTTPClient returns the client used for source fetches. Bulk downloads
// (OPSD, UCI archive) can be slow, so the timeout is generous.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Minute}
}

// sleepWithContext sleeps for d unless the context is cancelled first.
// Returns false when cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
