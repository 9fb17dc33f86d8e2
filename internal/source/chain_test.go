package source

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/energy-data-ingest/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func householdBatch(id string) []domain.Record {
	r := &domain.HouseholdReading{
		HouseholdID:       id,
		GlobalActivePower: domain.Float(1.2),
	}
	r.Ts = domain.Now()
	return []domain.Record{r}
}

func TestFetchChainPrimarySucceeds(t *testing.T) {
	records, err := fetchChain(context.Background(), testLogger(), domain.SourceHousehold,
		[]string{"primary", "fallback"},
		func(_ context.Context, url string) ([]domain.Record, error) {
			require.Equal(t, "primary", url)
			return householdBatch("h1"), nil
		}, nil)

	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.ProvenanceLive, records[0].Provenance())
}

func TestFetchChainAdvancesToFallback(t *testing.T) {
	var tried []string
	records, err := fetchChain(context.Background(), testLogger(), domain.SourceHousehold,
		[]string{"primary", "fallback"},
		func(_ context.Context, url string) ([]domain.Record, error) {
			tried = append(tried, url)
			if url == "primary" {
				return nil, domain.Transientf("get %s: status 503", url)
			}
			return householdBatch("h1"), nil
		}, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"primary", "fallback"}, tried)
	require.Len(t, records, 1)
	assert.Equal(t, domain.ProvenanceFallback, records[0].Provenance())
}

func TestFetchChainAuthRejectionAborts(t *testing.T) {
	var tried int
	_, err := fetchChain(context.Background(), testLogger(), domain.SourceGrid,
		[]string{"primary", "fallback"},
		func(_ context.Context, url string) ([]domain.Record, error) {
			tried++
			return nil, domain.Permanentf("%w by %s (status 401)", errAuthRejected, url)
		}, func() []domain.Record {
			t.Fatal("generator must not run after auth rejection")
			return nil
		})

	require.Error(t, err)
	assert.Equal(t, 1, tried, "fallbacks must not be tried after an auth rejection")
	assert.True(t, domain.IsPermanent(err))
}

func TestFetchChainFallsBackToSynthetic(t *testing.T) {
	gen := NewGenerator(domain.TierStandard, 1)
	w := domain.LastDay()

	records, err := fetchChain(context.Background(), testLogger(), domain.SourceGrid,
		[]string{"primary"},
		func(_ context.Context, _ string) ([]domain.Record, error) {
			return nil, domain.Transientf("boom")
		}, func() []domain.Record {
			return gen.GridSnapshots(w, []string{"FR"})
		})

	require.NoError(t, err)
	require.NotEmpty(t, records)
	for _, r := range records {
		assert.Equal(t, domain.ProvenanceSynthetic, r.Provenance())
	}
}

func TestFetchChainExhaustedTransient(t *testing.T) {
	_, err := fetchChain(context.Background(), testLogger(), domain.SourceWeather,
		[]string{"a", "b"},
		func(_ context.Context, _ string) ([]domain.Record, error) {
			return nil, domain.Transientf("status 503")
		}, nil)

	require.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.True(t, domain.IsTransient(err))
}

func TestFetchChainExhaustedPermanent(t *testing.T) {
	_, err := fetchChain(context.Background(), testLogger(), domain.SourceWeather,
		[]string{"a"},
		func(_ context.Context, _ string) ([]domain.Record, error) {
			return nil, domain.Permanentf("status 400")
		}, nil)

	require.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.True(t, domain.IsPermanent(err))
	assert.False(t, domain.IsTransient(err))
}

func TestFetchChainContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fetchChain(ctx, testLogger(), domain.SourceGrid, []string{"a"},
		func(_ context.Context, _ string) ([]domain.Record, error) {
			t.Fatal("fetch must not run on a cancelled context")
			return nil, nil
		}, nil)

	require.ErrorIs(t, err, context.Canceled)
}
