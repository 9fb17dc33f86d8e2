package source

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/couchcryptid/energy-data-ingest/internal/config"
	"github.com/couchcryptid/energy-data-ingest/internal/domain"
)

// GridClient fetches European grid operations data from Open Power System
// Data (OPSD). The feed is one wide CSV: a utc_timestamp column plus
// per-country measurement columns named like DE_load_actual_entsoe_transparency.
// The client slices out the configured countries and derives totals the feed
// does not carry.
type GridClient struct {
	urls      []string
	countries []string
	http      *http.Client
	logger    *slog.Logger
	synth     *Generator
}

func NewGridClient(cfg *config.Config, logger *slog.Logger, gen *Generator) *GridClient {
	return &GridClient{
		urls:      cfg.GridURLs,
		countries: cfg.GridCountries,
		http:      newHTTPClient(),
		logger:    logger,
		synth:     gen,
	}
}

func (c *GridClient) Source() domain.Source { return domain.SourceGrid }

func (c *GridClient) Fetch(ctx context.Context, w domain.Window) ([]domain.Record, error) {
	var synth func() []domain.Record
	if c.synth != nil {
		synth = func() []domain.Record { return c.synth.GridSnapshots(w, c.countries) }
	}
	return fetchChain(ctx, c.logger, domain.SourceGrid, c.urls,
		func(ctx context.Context, url string) ([]domain.Record, error) {
			body, err := httpGet(ctx, c.http, url)
			if err != nil {
				return nil, err
			}
			return c.parse(body, w)
		}, synth)
}

// gridColumns maps OPSD per-country column suffixes to snapshot fields.
var gridColumns = []struct {
	suffix string
	assign func(*domain.GridSnapshot, *float64)
}{
	{"load_actual_entsoe_transparency", func(s *domain.GridSnapshot, v *float64) { s.LoadActual = v }},
	{"load_forecast_entsoe_transparency", func(s *domain.GridSnapshot, v *float64) { s.LoadForecast = v }},
	{"solar_generation_actual", func(s *domain.GridSnapshot, v *float64) { s.Solar = v }},
	{"wind_onshore_generation_actual", func(s *domain.GridSnapshot, v *float64) { s.WindOnshore = v }},
	{"wind_offshore_generation_actual", func(s *domain.GridSnapshot, v *float64) { s.WindOffshore = v }},
	{"hydro_generation_actual", func(s *domain.GridSnapshot, v *float64) { s.Hydro = v }},
	{"nuclear_generation_actual", func(s *domain.GridSnapshot, v *float64) { s.Nuclear = v }},
	{"fossil_gas_generation_actual", func(s *domain.GridSnapshot, v *float64) { s.Fossil = v }},
	{"price_day_ahead", func(s *domain.GridSnapshot, v *float64) { s.PriceDayAhead = v }},
}

func (c *GridClient) parse(body []byte, w domain.Window) ([]domain.Record, error) {
	reader, err := maybeGunzip(body)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(reader)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read grid header: %w", err)
	}

	tsCol := -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case "utc_timestamp", "timestamp":
			tsCol = i
		}
	}
	if tsCol < 0 {
		return nil, fmt.Errorf("no timestamp column in grid data")
	}

	// Resolve the column index for each (country, suffix) pair up front.
	type binding struct {
		col    int
		assign func(*domain.GridSnapshot, *float64)
	}
	bindings := make(map[string][]binding, len(c.countries))
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, country := range c.countries {
		prefix := strings.ToLower(country) + "_"
		for _, gc := range gridColumns {
			if i, ok := index[prefix+gc.suffix]; ok {
				bindings[country] = append(bindings[country], binding{col: i, assign: gc.assign})
			}
		}
	}
	matched := 0
	for _, b := range bindings {
		matched += len(b)
	}
	if matched == 0 {
		return nil, fmt.Errorf("grid data has no columns for countries %v", c.countries)
	}

	var records []domain.Record
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if tsCol >= len(row) {
			continue
		}
		ts, err := parseGridTime(row[tsCol])
		if err != nil || !w.Contains(ts) {
			continue
		}

		for _, country := range c.countries {
			bs := bindings[country]
			if len(bs) == 0 {
				continue
			}
			snap := &domain.GridSnapshot{
				CountryCode: country,
				SourceName:  "Open Power System Data",
			}
			snap.Ts = ts
			snap.Prov = domain.ProvenanceLive
			any := false
			for _, b := range bs {
				if b.col >= len(row) {
					continue
				}
				if v := parseMeasurement(row[b.col]); v != nil {
					b.assign(snap, v)
					any = true
				}
			}
			if !any {
				continue
			}
			fillDerivedGenerationFields(snap)
			records = append(records, snap)
		}
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("no grid snapshots within %s", w)
	}
	return records, nil
}

// fillDerivedGenerationFields computes total generation from the component
// columns and, when load is known, the net import/export balance.
func fillDerivedGenerationFields(s *domain.GridSnapshot) {
	sum := 0.0
	present := false
	for _, g := range []*float64{s.Solar, s.WindOnshore, s.WindOffshore, s.Hydro, s.Nuclear, s.Fossil, s.OtherRenewable} {
		if g != nil {
			sum += *g
			present = true
		}
	}
	if !present {
		return
	}
	s.TotalGeneration = domain.Float(sum)
	if s.LoadActual != nil {
		s.NetImportExport = domain.Float(sum - *s.LoadActual)
	}
}

func maybeGunzip(body []byte) (io.Reader, error) {
	if len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		return zr, nil
	}
	return bytes.NewReader(body), nil
}

// parseGridTime handles the OPSD timestamp flavors, normalizing to UTC.
func parseGridTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
