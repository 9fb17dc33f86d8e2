package source

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/energy-data-ingest/internal/config"
	"github.com/couchcryptid/energy-data-ingest/internal/domain"
)

// uciTimeLayout is the Date+Time format of the UCI household dataset.
const uciTimeLayout = "2/1/2006 15:04:05"

// HouseholdClient fetches the UCI individual household electric power
// consumption dataset. The feed is a semicolon-separated text file, usually
// zipped, with one row per minute and '?' marking missing measurements.
type HouseholdClient struct {
	urls        []string
	householdID string
	http        *http.Client
	logger      *slog.Logger
	synth       *Generator
}

// NewHouseholdClient builds the client from configuration. gen may be nil
// to disable the synthetic fallback.
func NewHouseholdClient(cfg *config.Config, logger *slog.Logger, gen *Generator) *HouseholdClient {
	urls := append([]string{cfg.HouseholdURL}, cfg.HouseholdFallbackURLs...)
	return &HouseholdClient{
		urls:        urls,
		householdID: cfg.HouseholdID,
		http:        newHTTPClient(),
		logger:      logger,
		synth:       gen,
	}
}

func (c *HouseholdClient) Source() domain.Source { return domain.SourceHousehold }

// Fetch downloads the dataset and returns the readings inside the window.
func (c *HouseholdClient) Fetch(ctx context.Context, w domain.Window) ([]domain.Record, error) {
	var synth func() []domain.Record
	if c.synth != nil {
		synth = func() []domain.Record { return c.synth.HouseholdReadings(w, c.householdID) }
	}
	return fetchChain(ctx, c.logger, domain.SourceHousehold, c.urls,
		func(ctx context.Context, url string) ([]domain.Record, error) {
			body, err := httpGet(ctx, c.http, url)
			if err != nil {
				return nil, err
			}
			return c.parse(body, w)
		}, synth)
}

// parse handles both the zipped UCI archive and a plain text payload.
func (c *HouseholdClient) parse(body []byte, w domain.Window) ([]domain.Record, error) {
	data := body
	if bytes.HasPrefix(body, []byte("PK")) {
		extracted, err := extractHouseholdFile(body)
		if err != nil {
			return nil, err
		}
		data = extracted
	}
	return c.parseCSV(data, w)
}

func extractHouseholdFile(body []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("open zip archive: %w", err)
	}
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, ".txt") && strings.Contains(strings.ToLower(f.Name), "household") {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", f.Name, err)
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, fmt.Errorf("no household data file in archive")
}

func (c *HouseholdClient) parseCSV(data []byte, w domain.Window) ([]domain.Record, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = ';'
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"date", "time", "global_active_power"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q in household data", required)
		}
	}

	var (
		records []domain.Record
		skipped int
	)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}

		ts, err := time.ParseInLocation(uciTimeLayout,
			field(row, col, "date")+" "+field(row, col, "time"), time.UTC)
		if err != nil {
			skipped++
			continue
		}
		if !w.Contains(ts) {
			continue
		}

		rec := &domain.HouseholdReading{
			HouseholdID:         c.householdID,
			GlobalActivePower:   parseMeasurement(field(row, col, "global_active_power")),
			GlobalReactivePower: parseMeasurement(field(row, col, "global_reactive_power")),
			Voltage:             parseMeasurement(field(row, col, "voltage")),
			GlobalIntensity:     parseMeasurement(field(row, col, "global_intensity")),
			SubMetering1:        parseMeasurement(field(row, col, "sub_metering_1")),
			SubMetering2:        parseMeasurement(field(row, col, "sub_metering_2")),
			SubMetering3:        parseMeasurement(field(row, col, "sub_metering_3")),
			SourceFile:          "uci_dataset",
		}
		rec.Ts = ts
		rec.OtherConsumption = otherConsumption(rec)
		records = append(records, rec)
	}

	if skipped > 0 {
		c.logger.Warn("skipped malformed household rows", "skipped", skipped)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no household readings within %s", w)
	}
	return records, nil
}

// otherConsumption derives the unmetered share of consumption in Wh/min:
// total active energy minus the three sub-meters.
func otherConsumption(r *domain.HouseholdReading) *float64 {
	if r.GlobalActivePower == nil || r.SubMetering1 == nil || r.SubMetering2 == nil || r.SubMetering3 == nil {
		return nil
	}
	return domain.Float(*r.GlobalActivePower*1000/60 - *r.SubMetering1 - *r.SubMetering2 - *r.SubMetering3)
}

func field(row []string, col map[string]int, name string) string {
	i, ok := col[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// parseMeasurement converts one UCI cell, treating '?' and empty as missing.
func parseMeasurement(s string) *float64 {
	if s == "" || s == "?" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
