package store

import (
	"context"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"

	"github.com/couchcryptid/energy-data-ingest/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakeDB records statements and replays scripted results.
type fakeDB struct {
	execSQL  []string
	execArgs [][]interface{}
	execTag  pgconn.CommandTag
	execErr  error

	querySQL  []string
	queryArgs [][]interface{}
	queryFn   func(call int) (pgx.Rows, error)

	rowVals []interface{}
	rowErr  error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	f.execArgs = append(f.execArgs, args)
	if f.execErr != nil {
		return nil, f.execErr
	}
	if f.execTag == nil {
		return pgconn.CommandTag("UPDATE 1"), nil
	}
	return f.execTag, nil
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	f.querySQL = append(f.querySQL, sql)
	f.queryArgs = append(f.queryArgs, args)
	return f.queryFn(len(f.querySQL) - 1)
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...interface{}) pgx.Row {
	f.querySQL = append(f.querySQL, sql)
	f.queryArgs = append(f.queryArgs, args)
	return &fakeRow{vals: f.rowVals, err: f.rowErr}
}

type fakeRow struct {
	vals []interface{}
	err  error
}

func (r *fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	return scanInto(dest, r.vals)
}

// fakeRows replays scripted rows. Only the methods the store calls are
// implemented; the embedded interface covers the rest.
type fakeRows struct {
	pgx.Rows
	rows [][]interface{}
	idx  int
	err  error
}

func (r *fakeRows) Close()     {}
func (r *fakeRows) Err() error { return r.err }

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...interface{}) error {
	return scanInto(dest, r.rows[r.idx-1])
}

func scanInto(dest, vals []interface{}) error {
	for i, d := range dest {
		dv := reflect.ValueOf(d).Elem()
		if i >= len(vals) || vals[i] == nil {
			dv.Set(reflect.Zero(dv.Type()))
			continue
		}
		dv.Set(reflect.ValueOf(vals[i]))
	}
	return nil
}

// insertedRows scripts an upsert response: one boolean per record.
func insertedRows(flags ...bool) *fakeRows {
	rows := make([][]interface{}, len(flags))
	for i, f := range flags {
		rows[i] = []interface{}{f}
	}
	return &fakeRows{rows: rows}
}

func gridRecord(t *testing.T, ts time.Time, country string) domain.Record {
	t.Helper()
	snap := &domain.GridSnapshot{
		CountryCode:     country,
		LoadActual:      domain.Float(48000),
		TotalGeneration: domain.Float(47000),
	}
	snap.Ts = ts
	return snap
}
