package source

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/energy-data-ingest/internal/config"
	"github.com/couchcryptid/energy-data-ingest/internal/domain"
)

const opsdSample = `utc_timestamp,FR_load_actual_entsoe_transparency,FR_solar_generation_actual,FR_nuclear_generation_actual,DE_load_actual_entsoe_transparency,DE_wind_onshore_generation_actual
2020-10-05T00:00:00Z,48000,0,38000,55000,12000
2020-10-05T01:00:00Z,47000,0,37500,54000,
2020-10-05T02:00:00Z,46500,,37000,53000,11000
`

func gridConfig(url string) *config.Config {
	return &config.Config{
		GridURLs:      []string{url},
		GridCountries: []string{"FR", "DE"},
	}
}

func gridWindow() domain.Window {
	return domain.NewWindow(
		time.Date(2020, 10, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 10, 5, 23, 0, 0, 0, time.UTC),
	)
}

func TestGridClientParsesWideCSV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(opsdSample))
	}))
	defer srv.Close()

	client := NewGridClient(gridConfig(srv.URL), testLogger(), nil)
	records, err := client.Fetch(t.Context(), gridWindow())
	require.NoError(t, err)
	require.Len(t, records, 6, "two countries across three hours")

	byKey := make(map[string]*domain.GridSnapshot)
	for _, r := range records {
		snap, ok := r.(*domain.GridSnapshot)
		require.True(t, ok)
		byKey[snap.Timestamp().Format(time.RFC3339)+"|"+snap.CountryCode] = snap
	}

	fr := byKey["2020-10-05T00:00:00Z|FR"]
	require.NotNil(t, fr)
	require.NotNil(t, fr.LoadActual)
	assert.InDelta(t, 48000, *fr.LoadActual, 1e-9)
	require.NotNil(t, fr.TotalGeneration, "total derived from solar and nuclear")
	assert.InDelta(t, 38000, *fr.TotalGeneration, 1e-9)
	require.NotNil(t, fr.NetImportExport)
	assert.InDelta(t, 38000-48000, *fr.NetImportExport, 1e-9)
	assert.Equal(t, domain.ProvenanceLive, fr.Provenance())

	de := byKey["2020-10-05T01:00:00Z|DE"]
	require.NotNil(t, de)
	assert.Nil(t, de.WindOnshore, "empty cell is a missing measurement")
	assert.Nil(t, de.TotalGeneration, "no components, no derived total")
}

func TestGridClientHandlesGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(opsdSample))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	client := NewGridClient(gridConfig(srv.URL), testLogger(), nil)
	records, err := client.Fetch(t.Context(), gridWindow())
	require.NoError(t, err)
	assert.Len(t, records, 6)
}

func TestGridClientUnknownCountriesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(opsdSample))
	}))
	defer srv.Close()

	cfg := gridConfig(srv.URL)
	cfg.GridCountries = []string{"IT"}

	client := NewGridClient(cfg, testLogger(), nil)
	_, err := client.Fetch(t.Context(), gridWindow())
	require.ErrorIs(t, err, domain.ErrSourceUnavailable)
}

func TestGridClientSyntheticFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	gen := NewGenerator(domain.TierBasic, 42)
	client := NewGridClient(gridConfig(srv.URL), testLogger(), gen)
	records, err := client.Fetch(t.Context(), gridWindow())
	require.NoError(t, err)
	require.NotEmpty(t, records)

	countries := make(map[string]bool)
	for _, r := range records {
		assert.Equal(t, domain.ProvenanceSynthetic, r.Provenance())
		countries[r.EntityKey()] = true
	}
	assert.True(t, countries["FR"])
	assert.True(t, countries["DE"])
}
