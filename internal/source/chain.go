package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/energy-data-ingest/internal/domain"
)

// fetchFunc downloads and parses one endpoint into normalized records.
type fetchFunc func(ctx context.Context, url string) ([]domain.Record, error)

// fetchChain tries urls in order and falls back to the synthetic generator
// when every endpoint fails. synth is nil when synthetic fallback is
// disabled.
//
// Records from the first URL are tagged live, later URLs fallback; the
// generator tags its own records. Auth rejections abort the chain
// immediately, any other failure advances it. When the chain is exhausted
// without a generator the returned error carries the retryability of the
// failures seen: transient if any endpoint failed transiently, otherwise
// permanent.
func fetchChain(
	ctx context.Context,
	logger *slog.Logger,
	src domain.Source,
	urls []string,
	fetchOne fetchFunc,
	synth func() []domain.Record,
) ([]domain.Record, error) {
	var lastErr error
	sawTransient := false

	for i, url := range urls {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		records, err := fetchOne(ctx, url)
		if err == nil {
			prov := domain.ProvenanceLive
			if i > 0 {
				prov = domain.ProvenanceFallback
				logger.Info("primary endpoint failed, using fallback",
					"source", src, "fallback", url, "error", lastErr)
			}
			for _, r := range records {
				r.SetProvenance(prov)
			}
			return records, nil
		}

		if errors.Is(err, errAuthRejected) {
			return nil, err
		}
		if domain.IsTransient(err) {
			sawTransient = true
		}
		lastErr = err
		logger.Warn("endpoint failed", "source", src, "url", url, "error", err)
	}

	if synth != nil {
		records := synth()
		logger.Warn("all endpoints failed, generated synthetic data",
			"source", src, "records", len(records), "error", lastErr)
		return records, nil
	}

	err := fmt.Errorf("%w for %s: last error: %v", domain.ErrSourceUnavailable, src, lastErr)
	if sawTransient {
		return nil, domain.Transient(err)
	}
	return nil, domain.Permanent(err)
}
