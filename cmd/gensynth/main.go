// Command gensynth generates synthetic data fixtures for all three sources
// using the actual fallback generator, so test fixtures match real fallback
// behavior. Output is deterministic: a fixed seed and a fixed clock.
//
// Usage:
//
//	go run ./cmd/gensynth -out data/fixtures -tier standard
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/energy-data-ingest/internal/config"
	"github.com/couchcryptid/energy-data-ingest/internal/domain"
	"github.com/couchcryptid/energy-data-ingest/internal/source"
)

const seed = 20240426

var fixedNow = time.Date(2024, time.April, 26, 12, 0, 0, 0, time.UTC)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	outDir := flag.String("out", "", "output directory for JSON fixtures")
	tierFlag := flag.String("tier", string(domain.TierStandard), "synthetic tier: basic, standard, high")
	hours := flag.Int("hours", 24, "window length in hours")
	flag.Parse()

	if *outDir == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	tier := domain.SyntheticTier(*tierFlag)
	if !tier.Valid() {
		return fmt.Errorf("invalid -tier %q: want basic, standard, or high", *tierFlag)
	}

	// Fix the clock so generated timestamps are reproducible.
	domain.SetClock(clockwork.NewFakeClockAt(fixedNow))
	defer domain.SetClock(nil)

	window := domain.NewWindow(fixedNow.Add(-time.Duration(*hours)*time.Hour), fixedNow)
	gen := source.NewGenerator(tier, seed)

	locations := []config.WeatherLocation{
		{ID: "paris_fr_001", Lat: 48.8566, Lon: 2.3522},
		{ID: "berlin_de_001", Lat: 52.5200, Lon: 13.4050},
		{ID: "madrid_es_001", Lat: 40.4168, Lon: -3.7038},
	}
	countries := []string{"FR", "DE", "ES"}

	fixtures := []struct {
		file    string
		records []domain.Record
	}{
		{"synthetic_household.json", gen.HouseholdReadings(window, "uci_france_001")},
		{"synthetic_weather.json", gen.WeatherObservations(window, locations)},
		{"synthetic_grid.json", gen.GridSnapshots(window, countries)},
	}

	for _, f := range fixtures {
		path := filepath.Join(*outDir, f.file)
		if err := writeJSON(path, f.records); err != nil {
			return fmt.Errorf("writing %s: %w", f.file, err)
		}
		log.Printf("wrote %s: %d records", path, len(f.records))
	}
	return nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}
