// Package domain models the three time-series energy feeds ingested by the
// service: household power consumption, weather observations, and grid
// operations.
//
// # Data Sources
//
// Household consumption follows the UCI "Individual household electric power
// consumption" layout: a semicolon-separated CSV (usually inside a ZIP) with
// one row per minute. Missing measurements are encoded as "?". Timestamps are
// local "dd/mm/yyyy hh:mm:ss" and are normalized to UTC during parsing.
// Active power is reported in kW; sub-metering channels in Wh per minute, so
// the unmetered remainder is
//
//	other = global_active_power * 1000 / 60 - sub1 - sub2 - sub3
//
// Weather observations follow the Open-Meteo response shape: an "hourly"
// object with a "time" array and one parallel array per variable. Variables
// map onto observation fields (temperature_2m -> temperature in °C,
// wind_speed_10m -> wind speed in km/h, and so on). Windows older than five
// days are served by the archive (ERA5) endpoint; recent windows by the
// forecast endpoint.
//
// Grid operations follow the Open Power System Data wide CSV layout: a
// "utc_timestamp" column plus per-country columns such as
// "DE_load_actual_entsoe_transparency". One row therefore fans out into one
// snapshot per configured country. Power values are MW, prices EUR/MWh.
//
// # Natural Keys
//
// Each record kind has a natural key used for upsert conflict resolution:
//
//	household: (timestamp, household_id)
//	weather:   (timestamp, location_id)
//	grid:      (timestamp, country_code)
//
// A batch must not contain two records with the same natural key; normalizers
// deduplicate keeping the last occurrence, which matches the last-write-wins
// conflict policy of the store.
//
// # Quality Scores
//
// Every record carries a quality score in [0, 1], a weighted combination of
// freshness, completeness, accuracy, and consistency check results. Records
// produced by synthetic fallback generators are additionally capped by their
// tier factor (basic 0.5, standard 0.7, high 0.9) so that downstream queries
// can always distinguish generated data from observed data by score band.
package domain
