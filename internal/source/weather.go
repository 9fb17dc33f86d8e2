package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/energy-data-ingest/internal/config"
	"github.com/couchcryptid/energy-data-ingest/internal/domain"
)

// hourlyVariables is the set requested from Open-Meteo, in API naming.
var hourlyVariables = []string{
	"temperature_2m", "relative_humidity_2m", "dew_point_2m",
	"apparent_temperature", "rain", "shortwave_radiation",
	"wind_speed_10m", "wind_direction_10m", "wind_gusts_10m",
	"cloud_cover", "surface_pressure", "visibility",
}

// WeatherClient fetches hourly observations from the Open-Meteo APIs. Data
// older than five days comes from the ERA5 archive endpoint, anything more
// recent from the forecast endpoint. Locations are fetched independently so
// one failing location never sinks the batch.
type WeatherClient struct {
	forecastURL string
	archiveURL  string
	locations   []config.WeatherLocation
	apiDelay    time.Duration
	http        *http.Client
	logger      *slog.Logger
	synth       *Generator
}

func NewWeatherClient(cfg *config.Config, logger *slog.Logger, gen *Generator) *WeatherClient {
	return &WeatherClient{
		forecastURL: cfg.WeatherForecastURL,
		archiveURL:  cfg.WeatherArchiveURL,
		locations:   cfg.WeatherLocations,
		apiDelay:    cfg.WeatherAPIDelay,
		http:        newHTTPClient(),
		logger:      logger,
		synth:       gen,
	}
}

func (c *WeatherClient) Source() domain.Source { return domain.SourceWeather }

// Fetch collects observations for every configured location. Per-location
// failures are logged and skipped; the call fails only when no location
// produced data, falling back to synthetic observations if enabled.
func (c *WeatherClient) Fetch(ctx context.Context, w domain.Window) ([]domain.Record, error) {
	var (
		records []domain.Record
		lastErr error
	)
	for i, loc := range c.locations {
		if i > 0 {
			// Courtesy pause between API calls.
			if !sleepWithContext(ctx, c.apiDelay) {
				return nil, ctx.Err()
			}
		}

		locRecords, err := c.fetchLocation(ctx, loc, w)
		if err != nil {
			if domain.IsPermanent(err) || ctx.Err() != nil {
				return nil, err
			}
			c.logger.Warn("weather fetch failed for location",
				"location", loc.ID, "error", err)
			lastErr = err
			continue
		}
		records = append(records, locRecords...)
	}

	if len(records) > 0 {
		return records, nil
	}
	if c.synth != nil {
		out := c.synth.WeatherObservations(w, c.locations)
		c.logger.Warn("all weather locations failed, generated synthetic data",
			"records", len(out), "error", lastErr)
		return out, nil
	}
	err := fmt.Errorf("%w for weather: last error: %v", domain.ErrSourceUnavailable, lastErr)
	if lastErr == nil || domain.IsTransient(lastErr) {
		return nil, domain.Transient(err)
	}
	return nil, domain.Permanent(err)
}

// openMeteoResponse mirrors the hourly block of the Open-Meteo JSON schema:
// a time axis plus one parallel array per requested variable.
type openMeteoResponse struct {
	Hourly map[string]json.RawMessage `json:"hourly"`
}

func (c *WeatherClient) fetchLocation(ctx context.Context, loc config.WeatherLocation, w domain.Window) ([]domain.Record, error) {
	baseURL, provider := c.endpointFor(w)

	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", loc.Lat))
	q.Set("longitude", fmt.Sprintf("%.4f", loc.Lon))
	q.Set("start_date", w.Start.Format("2006-01-02"))
	q.Set("end_date", w.End.Format("2006-01-02"))
	q.Set("hourly", strings.Join(hourlyVariables, ","))
	q.Set("timezone", "UTC")
	q.Set("format", "json")
	if strings.Contains(baseURL, "archive-api") {
		q.Set("models", "era5")
	}

	body, err := httpGet(ctx, c.http, baseURL+"?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var resp openMeteoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode weather response for %s: %w", loc.ID, err)
	}
	rawTimes, ok := resp.Hourly["time"]
	if !ok {
		return nil, fmt.Errorf("weather response for %s has no hourly time axis", loc.ID)
	}
	var times []string
	if err := json.Unmarshal(rawTimes, &times); err != nil {
		return nil, fmt.Errorf("decode time axis for %s: %w", loc.ID, err)
	}

	series := make(map[string][]*float64, len(hourlyVariables))
	for _, name := range hourlyVariables {
		raw, ok := resp.Hourly[name]
		if !ok {
			continue
		}
		var vals []*float64
		if err := json.Unmarshal(raw, &vals); err != nil {
			return nil, fmt.Errorf("decode %s for %s: %w", name, loc.ID, err)
		}
		series[name] = vals
	}

	at := func(name string, i int) *float64 {
		vals := series[name]
		if i >= len(vals) {
			return nil
		}
		return vals[i]
	}

	records := make([]domain.Record, 0, len(times))
	for i, ts := range times {
		t, err := parseOpenMeteoTime(ts)
		if err != nil {
			c.logger.Warn("skipping unparseable weather timestamp",
				"location", loc.ID, "timestamp", ts)
			continue
		}
		rec := &domain.WeatherObservation{
			LocationID:          loc.ID,
			Latitude:            loc.Lat,
			Longitude:           loc.Lon,
			Temperature:         at("temperature_2m", i),
			Humidity:            at("relative_humidity_2m", i),
			DewPoint:            at("dew_point_2m", i),
			ApparentTemperature: at("apparent_temperature", i),
			Rain:                at("rain", i),
			ShortwaveRadiation:  at("shortwave_radiation", i),
			WindSpeed:           at("wind_speed_10m", i),
			WindDirection:       at("wind_direction_10m", i),
			WindGusts:           at("wind_gusts_10m", i),
			CloudCover:          at("cloud_cover", i),
			SurfacePressure:     at("surface_pressure", i),
			Visibility:          at("visibility", i),
			Provider:            provider,
		}
		rec.Ts = t
		rec.Prov = domain.ProvenanceLive
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("weather response for %s carried no records", loc.ID)
	}
	return records, nil
}

// endpointFor picks the archive API when the whole window is at least five
// days in the past; the forecast endpoint only serves recent history.
func (c *WeatherClient) endpointFor(w domain.Window) (endpoint, provider string) {
	if w.End.Before(domain.Now().Add(-5 * 24 * time.Hour)) {
		return c.archiveURL, "Open-Meteo ERA5"
	}
	return c.forecastURL, "Open-Meteo Forecast"
}

// parseOpenMeteoTime accepts the API's minute-resolution ISO timestamps,
// with or without an explicit zone.
func parseOpenMeteoTime(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02T15:04", time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
