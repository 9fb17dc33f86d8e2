package domain

import (
	"fmt"
	"math"
	"time"
)

// Source identifies one of the ingested feeds.
type Source string

const (
	SourceHousehold Source = "household"
	SourceWeather   Source = "weather"
	SourceGrid      Source = "grid"
)

// Provenance records how a batch was obtained.
type Provenance string

const (
	// ProvenanceLive marks data fetched from the primary endpoint.
	ProvenanceLive Provenance = "live"
	// ProvenanceFallback marks data fetched from a fallback endpoint.
	ProvenanceFallback Provenance = "fallback"
	// ProvenanceSynthetic marks generated substitute data.
	ProvenanceSynthetic Provenance = "synthetic"
)

// SyntheticTier controls the realism of generated fallback data.
type SyntheticTier string

const (
	TierBasic    SyntheticTier = "basic"
	TierStandard SyntheticTier = "standard"
	TierHigh     SyntheticTier = "high"
)

// QualityFactor returns the score cap applied to records generated at this
// tier. Combined with per-check scores it places synthetic records into
// disjoint score bands below live data.
func (t SyntheticTier) QualityFactor() float64 {
	switch t {
	case TierBasic:
		return 0.5
	case TierHigh:
		return 0.9
	default:
		return 0.7
	}
}

// Valid reports whether t is a known tier.
func (t SyntheticTier) Valid() bool {
	switch t {
	case TierBasic, TierStandard, TierHigh:
		return true
	}
	return false
}

// Window is a closed UTC time interval.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow normalizes both bounds to UTC.
func NewWindow(start, end time.Time) Window {
	return Window{Start: start.UTC(), End: end.UTC()}
}

// LastDay returns a window covering the 24 hours up to now.
func LastDay() Window {
	now := Now()
	return Window{Start: now.Add(-24 * time.Hour), End: now}
}

// Contains reports whether t lies within the window (inclusive).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

func (w Window) String() string {
	return fmt.Sprintf("%s..%s", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// Record is the normalized form shared by all three feeds. Implementations
// are the concrete structs below; the set is closed.
type Record interface {
	// Timestamp is the observation time in UTC.
	Timestamp() time.Time
	// EntityKey is the non-time half of the natural key
	// (household_id, location_id, or country_code).
	EntityKey() string
	// SourceKind identifies the feed the record belongs to.
	SourceKind() Source

	QualityScore() float64
	SetQualityScore(score float64)
	Provenance() Provenance
	SetProvenance(p Provenance)

	// Completeness is the fraction of required measurement fields present.
	Completeness() float64
	// BoundsViolations lists fields whose values fall outside physically
	// plausible ranges.
	BoundsViolations() []string
	// ConsistencyIssues lists failed cross-field checks. These warn and
	// lower the quality score but never reject a record.
	ConsistencyIssues() []string
}

// meta carries the fields common to all record kinds.
type meta struct {
	Ts      time.Time     `json:"timestamp"`
	Quality float64       `json:"data_quality_score"`
	Prov    Provenance    `json:"provenance,omitempty"`
	Tier    SyntheticTier `json:"synthetic_tier,omitempty"`
}

func (m *meta) Timestamp() time.Time         { return m.Ts }
func (m *meta) QualityScore() float64        { return m.Quality }
func (m *meta) SetQualityScore(s float64)    { m.Quality = s }
func (m *meta) Provenance() Provenance       { return m.Prov }
func (m *meta) SetProvenance(p Provenance)   { m.Prov = p }
func (m *meta) SyntheticTier() SyntheticTier { return m.Tier }

// HouseholdReading is one minute of smart-meter data for one household.
// Power is kW, sub-metering Wh/min, voltage V, intensity A.
type HouseholdReading struct {
	meta
	HouseholdID         string   `json:"household_id"`
	GlobalActivePower   *float64 `json:"global_active_power"`
	GlobalReactivePower *float64 `json:"global_reactive_power"`
	Voltage             *float64 `json:"voltage"`
	GlobalIntensity     *float64 `json:"global_intensity"`
	SubMetering1        *float64 `json:"sub_metering_1"`
	SubMetering2        *float64 `json:"sub_metering_2"`
	SubMetering3        *float64 `json:"sub_metering_3"`
	OtherConsumption    *float64 `json:"calculated_other_consumption"`
	SourceFile          string   `json:"source_file,omitempty"`
}

func (r *HouseholdReading) EntityKey() string  { return r.HouseholdID }
func (r *HouseholdReading) SourceKind() Source { return SourceHousehold }

func (r *HouseholdReading) Completeness() float64 {
	return presentFraction(r.GlobalActivePower, r.Voltage, r.GlobalIntensity)
}

func (r *HouseholdReading) BoundsViolations() []string {
	var v []string
	v = appendOutOfRange(v, "global_active_power", r.GlobalActivePower, 0, 20)
	v = appendOutOfRange(v, "voltage", r.Voltage, 200, 260)
	v = appendOutOfRange(v, "global_intensity", r.GlobalIntensity, 0, 120)
	return v
}

func (r *HouseholdReading) ConsistencyIssues() []string {
	if r.GlobalActivePower == nil {
		return nil
	}
	total := 0.0
	for _, sub := range []*float64{r.SubMetering1, r.SubMetering2, r.SubMetering3} {
		if sub != nil {
			total += *sub
		}
	}
	// Active power converts to Wh/min for comparison with the sub-meters.
	// Allow 1 Wh of measurement slack.
	budget := *r.GlobalActivePower*1000/60 + 1
	if total > budget {
		return []string{fmt.Sprintf("sub_metering sum %.1f Wh exceeds active power budget %.1f Wh", total, budget)}
	}
	return nil
}

// WeatherObservation is one hour of weather data for one location.
type WeatherObservation struct {
	meta
	LocationID          string   `json:"location_id"`
	Latitude            float64  `json:"latitude"`
	Longitude           float64  `json:"longitude"`
	Temperature         *float64 `json:"temperature_2m_c"`
	Humidity            *float64 `json:"relative_humidity_2m_pct"`
	DewPoint            *float64 `json:"dew_point_2m_c"`
	ApparentTemperature *float64 `json:"apparent_temperature_c"`
	Rain                *float64 `json:"rain_mm"`
	ShortwaveRadiation  *float64 `json:"shortwave_radiation_w_m2"`
	WindSpeed           *float64 `json:"wind_speed_10m_kmh"`
	WindDirection       *float64 `json:"wind_direction_10m_deg"`
	WindGusts           *float64 `json:"wind_gusts_10m_kmh"`
	CloudCover          *float64 `json:"cloud_cover_pct"`
	SurfacePressure     *float64 `json:"surface_pressure_hpa"`
	Visibility          *float64 `json:"visibility_m"`
	Provider            string   `json:"data_provider,omitempty"`
}

func (r *WeatherObservation) EntityKey() string  { return r.LocationID }
func (r *WeatherObservation) SourceKind() Source { return SourceWeather }

func (r *WeatherObservation) Completeness() float64 {
	return presentFraction(r.Temperature, r.Humidity, r.WindSpeed, r.SurfacePressure)
}

func (r *WeatherObservation) BoundsViolations() []string {
	var v []string
	v = appendOutOfRange(v, "temperature_2m_c", r.Temperature, -50, 60)
	v = appendOutOfRange(v, "relative_humidity_2m_pct", r.Humidity, 0, 100)
	v = appendOutOfRange(v, "wind_speed_10m_kmh", r.WindSpeed, 0, 200)
	v = appendOutOfRange(v, "wind_direction_10m_deg", r.WindDirection, 0, 360)
	v = appendOutOfRange(v, "surface_pressure_hpa", r.SurfacePressure, 800, 1100)
	v = appendOutOfRange(v, "rain_mm", r.Rain, 0, 200)
	v = appendOutOfRange(v, "shortwave_radiation_w_m2", r.ShortwaveRadiation, 0, 1500)
	v = appendOutOfRange(v, "cloud_cover_pct", r.CloudCover, 0, 100)
	v = appendOutOfRange(v, "visibility_m", r.Visibility, 0, 50000)
	return v
}

func (r *WeatherObservation) ConsistencyIssues() []string {
	if r.DewPoint != nil && r.Temperature != nil && *r.DewPoint > *r.Temperature+0.5 {
		return []string{fmt.Sprintf("dew point %.1f°C above temperature %.1f°C", *r.DewPoint, *r.Temperature)}
	}
	return nil
}

// GridSnapshot is one hour of grid operations data for one country.
// All power values are MW, price EUR/MWh.
type GridSnapshot struct {
	meta
	CountryCode     string   `json:"country_code"`
	LoadActual      *float64 `json:"load_actual_mw"`
	LoadForecast    *float64 `json:"load_forecast_mw"`
	Solar           *float64 `json:"solar_generation_actual_mw"`
	WindOnshore     *float64 `json:"wind_onshore_generation_actual_mw"`
	WindOffshore    *float64 `json:"wind_offshore_generation_actual_mw"`
	Hydro           *float64 `json:"hydro_generation_actual_mw"`
	Nuclear         *float64 `json:"nuclear_generation_actual_mw"`
	Fossil          *float64 `json:"fossil_generation_actual_mw"`
	OtherRenewable  *float64 `json:"other_renewable_generation_mw"`
	TotalGeneration *float64 `json:"total_generation_mw"`
	NetImportExport *float64 `json:"net_import_export_mw"`
	PriceDayAhead   *float64 `json:"price_day_ahead_eur_mwh"`
	SourceName      string   `json:"source,omitempty"`
}

func (r *GridSnapshot) EntityKey() string  { return r.CountryCode }
func (r *GridSnapshot) SourceKind() Source { return SourceGrid }

func (r *GridSnapshot) Completeness() float64 {
	return presentFraction(r.LoadActual, r.TotalGeneration)
}

func (r *GridSnapshot) BoundsViolations() []string {
	var v []string
	for _, f := range []struct {
		name string
		val  *float64
	}{
		{"load_actual_mw", r.LoadActual},
		{"load_forecast_mw", r.LoadForecast},
		{"solar_generation_actual_mw", r.Solar},
		{"wind_onshore_generation_actual_mw", r.WindOnshore},
		{"wind_offshore_generation_actual_mw", r.WindOffshore},
		{"hydro_generation_actual_mw", r.Hydro},
		{"nuclear_generation_actual_mw", r.Nuclear},
		{"fossil_generation_actual_mw", r.Fossil},
		{"other_renewable_generation_mw", r.OtherRenewable},
		{"total_generation_mw", r.TotalGeneration},
	} {
		v = appendOutOfRange(v, f.name, f.val, 0, 500000)
	}
	v = appendOutOfRange(v, "price_day_ahead_eur_mwh", r.PriceDayAhead, -500, 3000)
	return v
}

func (r *GridSnapshot) ConsistencyIssues() []string {
	if r.TotalGeneration == nil || *r.TotalGeneration <= 0 {
		return nil
	}
	sum := 0.0
	for _, g := range []*float64{r.Solar, r.WindOnshore, r.WindOffshore, r.Hydro, r.Nuclear, r.Fossil, r.OtherRenewable} {
		if g != nil {
			sum += *g
		}
	}
	// Total should match the component sum to within 10%, mirroring the
	// downstream grid_generation_consistency quality check.
	if math.Abs(*r.TotalGeneration-sum) > *r.TotalGeneration*0.1 {
		return []string{fmt.Sprintf("total generation %.0f MW deviates from component sum %.0f MW by more than 10%%", *r.TotalGeneration, sum)}
	}
	return nil
}

// DedupeByKey removes natural-key duplicates from a batch, keeping the last
// occurrence. Order of the surviving records is preserved.
func DedupeByKey(records []Record) []Record {
	last := make(map[string]int, len(records))
	for i, r := range records {
		last[batchKey(r)] = i
	}
	out := make([]Record, 0, len(last))
	for i, r := range records {
		if last[batchKey(r)] == i {
			out = append(out, r)
		}
	}
	return out
}

func batchKey(r Record) string {
	return r.Timestamp().Format(time.RFC3339) + "|" + r.EntityKey()
}

// Float returns a pointer to v. Shorthand for building records.
func Float(v float64) *float64 { return &v }

func presentFraction(fields ...*float64) float64 {
	if len(fields) == 0 {
		return 1
	}
	present := 0
	for _, f := range fields {
		if f != nil && !math.IsNaN(*f) {
			present++
		}
	}
	return float64(present) / float64(len(fields))
}

func appendOutOfRange(violations []string, name string, val *float64, min, max float64) []string {
	if val == nil {
		return violations
	}
	if *val < min || *val > max {
		return append(violations, fmt.Sprintf("%s=%.2f outside [%.0f, %.0f]", name, *val, min, max))
	}
	return violations
}
