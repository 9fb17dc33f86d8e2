package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/couchcryptid/energy-data-ingest/internal/domain"
)

// WriteResult splits an upsert into fresh inserts and conflict updates.
type WriteResult struct {
	Inserted int
	Updated  int
}

// Total is the number of rows the write touched.
func (r WriteResult) Total() int { return r.Inserted + r.Updated }

// PartialWriteError reports a chunked write that stopped mid-batch. Chunks
// before the failed one are committed and stay committed.
type PartialWriteError struct {
	Committed int // records written before the failure
	Failed    int // records in and after the failed chunk
	Chunk     int // 1-based index of the failed chunk
	Chunks    int // total chunk count for the batch
	Err       error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("write failed at chunk %d of %d: %d records committed, %d not written: %v",
		e.Chunk, e.Chunks, e.Committed, e.Failed, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

// tableSpec describes how one record kind maps onto its table.
type tableSpec struct {
	table       string
	columns     []string
	conflictKey []string
	values      func(domain.Record) []interface{}
}

var tableSpecs = map[domain.Source]tableSpec{
	domain.SourceHousehold: {
		table: "household.consumption",
		columns: []string{
			"timestamp", "household_id", "global_active_power", "global_reactive_power",
			"voltage", "global_intensity", "sub_metering_1", "sub_metering_2",
			"sub_metering_3", "calculated_other_consumption", "data_quality_score", "source_file",
		},
		conflictKey: []string{"timestamp", "household_id"},
		values: func(rec domain.Record) []interface{} {
			r := rec.(*domain.HouseholdReading)
			return []interface{}{
				r.Timestamp(), r.HouseholdID, r.GlobalActivePower, r.GlobalReactivePower,
				r.Voltage, r.GlobalIntensity, r.SubMetering1, r.SubMetering2,
				r.SubMetering3, r.OtherConsumption, r.QualityScore(), r.SourceFile,
			}
		},
	},
	domain.SourceWeather: {
		table: "weather.observations",
		columns: []string{
			"timestamp", "location_id", "latitude", "longitude", "temperature_2m_c",
			"relative_humidity_2m_pct", "dew_point_2m_c", "apparent_temperature_c",
			"rain_mm", "shortwave_radiation_w_m2", "wind_speed_10m_kmh",
			"wind_direction_10m_deg", "wind_gusts_10m_kmh", "cloud_cover_pct",
			"surface_pressure_hpa", "visibility_m", "data_quality_score", "data_provider",
		},
		conflictKey: []string{"timestamp", "location_id"},
		values: func(rec domain.Record) []interface{} {
			r := rec.(*domain.WeatherObservation)
			return []interface{}{
				r.Timestamp(), r.LocationID, r.Latitude, r.Longitude, r.Temperature,
				r.Humidity, r.DewPoint, r.ApparentTemperature,
				r.Rain, r.ShortwaveRadiation, r.WindSpeed,
				r.WindDirection, r.WindGusts, r.CloudCover,
				r.SurfacePressure, r.Visibility, r.QualityScore(), r.Provider,
			}
		},
	},
	domain.SourceGrid: {
		table: "grid.operations",
		columns: []string{
			"timestamp", "country_code", "region_code", "load_actual_mw", "load_forecast_mw",
			"solar_generation_actual_mw", "wind_onshore_generation_actual_mw",
			"wind_offshore_generation_actual_mw", "hydro_generation_actual_mw",
			"nuclear_generation_actual_mw", "fossil_generation_actual_mw",
			"other_renewable_generation_mw", "total_generation_mw", "net_import_export_mw",
			"price_day_ahead_eur_mwh", "data_quality_score", "source",
		},
		conflictKey: []string{"timestamp", "country_code", "region_code"},
		values: func(rec domain.Record) []interface{} {
			r := rec.(*domain.GridSnapshot)
			return []interface{}{
				r.Timestamp(), r.CountryCode, r.CountryCode, r.LoadActual, r.LoadForecast,
				r.Solar, r.WindOnshore,
				r.WindOffshore, r.Hydro,
				r.Nuclear, r.Fossil,
				r.OtherRenewable, r.TotalGeneration, r.NetImportExport,
				r.PriceDayAhead, r.QualityScore(), r.SourceName,
			}
		},
	},
}

// Upserter writes record batches in bounded chunks. Each chunk is one
// multi-row INSERT ... ON CONFLICT DO UPDATE statement, so within a chunk
// the write is atomic and replaying a batch never duplicates rows.
type Upserter struct {
	db        Querier
	chunkSize int
	logger    *slog.Logger
}

func NewUpserter(db Querier, chunkSize int, logger *slog.Logger) *Upserter {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	return &Upserter{db: db, chunkSize: chunkSize, logger: logger}
}

// Write upserts the batch. On a chunk failure the error is a
// *PartialWriteError carrying the committed count; earlier chunks remain
// committed. The batch must be homogeneous in source kind and free of
// natural-key duplicates (see domain.DedupeByKey).
func (u *Upserter) Write(ctx context.Context, records []domain.Record) (WriteResult, error) {
	var res WriteResult
	if len(records) == 0 {
		return res, nil
	}

	kind := records[0].SourceKind()
	spec, ok := tableSpecs[kind]
	if !ok {
		return res, fmt.Errorf("no table mapping for source %q", kind)
	}
	for _, r := range records {
		if r.SourceKind() != kind {
			return res, fmt.Errorf("mixed batch: %q record in a %q batch", r.SourceKind(), kind)
		}
	}

	chunks := (len(records) + u.chunkSize - 1) / u.chunkSize
	for i := 0; i < len(records); i += u.chunkSize {
		end := i + u.chunkSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[i:end]
		chunkIdx := i/u.chunkSize + 1

		inserted, updated, err := u.writeChunk(ctx, spec, chunk)
		if err != nil && retryableWriteError(err) {
			u.logger.Warn("retrying failed chunk",
				"source", kind, "chunk", chunkIdx, "size", len(chunk), "error", err)
			inserted, updated, err = u.writeChunk(ctx, spec, chunk)
		}
		if err != nil {
			return res, &PartialWriteError{
				Committed: res.Total(),
				Failed:    len(records) - i,
				Chunk:     chunkIdx,
				Chunks:    chunks,
				Err:       err,
			}
		}
		res.Inserted += inserted
		res.Updated += updated
	}

	u.logger.Debug("batch written",
		"source", kind, "inserted", res.Inserted, "updated", res.Updated, "chunks", chunks)
	return res, nil
}

// writeChunk executes one multi-row upsert. RETURNING (xmax = 0) tells
// fresh inserts apart from conflict updates without a second query.
func (u *Upserter) writeChunk(ctx context.Context, spec tableSpec, chunk []domain.Record) (inserted, updated int, err error) {
	sql, args := buildUpsert(spec, chunk)

	rows, err := u.db.Query(ctx, sql, args...)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		var wasInsert bool
		if err := rows.Scan(&wasInsert); err != nil {
			return 0, 0, err
		}
		if wasInsert {
			inserted++
		} else {
			updated++
		}
	}
	return inserted, updated, rows.Err()
}

func buildUpsert(spec tableSpec, chunk []domain.Record) (string, []interface{}) {
	var (
		sb   strings.Builder
		args = make([]interface{}, 0, len(chunk)*len(spec.columns))
	)

	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ",
		spec.table, strings.Join(spec.columns, ", "))

	for i, rec := range chunk {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		vals := spec.values(rec)
		for j := range vals {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", len(args)+j+1)
		}
		sb.WriteByte(')')
		args = append(args, vals...)
	}

	fmt.Fprintf(&sb, " ON CONFLICT (%s) DO UPDATE SET ", strings.Join(spec.conflictKey, ", "))
	key := make(map[string]bool, len(spec.conflictKey))
	for _, k := range spec.conflictKey {
		key[k] = true
	}
	first := true
	for _, col := range spec.columns {
		if key[col] {
			continue
		}
		if !first {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s = EXCLUDED.%s", col, col)
		first = false
	}
	// Conflicting rows are rewrites, so their ingestion time moves forward too.
	sb.WriteString(", ingestion_timestamp = NOW()")
	sb.WriteString(" RETURNING (xmax = 0)")

	return sb.String(), args
}
