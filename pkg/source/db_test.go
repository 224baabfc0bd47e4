package source

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/dataprep/pkg/dataset"
)

// staticDriver serves one fixed result set for any query.
type staticDriver struct{}

func (staticDriver) Open(string) (driver.Conn, error) { return staticConn{}, nil }

type staticConn struct{}

func (staticConn) Prepare(string) (driver.Stmt, error) { return staticStmt{}, nil }
func (staticConn) Close() error                        { return nil }
func (staticConn) Begin() (driver.Tx, error)           { return nil, driver.ErrSkip }

type staticStmt struct{}

func (staticStmt) Close() error                               { return nil }
func (staticStmt) NumInput() int                              { return -1 }
func (staticStmt) Exec([]driver.Value) (driver.Result, error) { return nil, driver.ErrSkip }
func (staticStmt) Query([]driver.Value) (driver.Rows, error) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &staticRows{data: [][]driver.Value{
		{[]byte("LA"), int64(3976322), 1.5, true, ts},
		{[]byte("NY"), int64(8336817), nil, false, ts},
		{[]byte("SF"), int64(883305), 2.25, nil, nil},
	}}, nil
}

type staticRows struct {
	data [][]driver.Value
	pos  int
}

func (r *staticRows) Columns() []string {
	return []string{"location", "population", "rate", "active", "updated_at"}
}
func (r *staticRows) Close() error { return nil }
func (r *staticRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.pos])
	r.pos++
	return nil
}

func init() {
	sql.Register("dataprep-static", staticDriver{})
}

func TestLoadQuery(t *testing.T) {
	db, err := sql.Open("dataprep-static", "")
	require.NoError(t, err)
	defer db.Close()

	ds, err := LoadQuery(context.Background(), db, "SELECT * FROM crime", "crime", 0)
	require.NoError(t, err)

	assert.Equal(t, 3, ds.NumRows())
	assert.Equal(t, []dataset.ColumnSchema{
		{Name: "location", Type: dataset.TypeString},
		{Name: "population", Type: dataset.TypeLong},
		{Name: "rate", Type: dataset.TypeDouble},
		{Name: "active", Type: dataset.TypeBoolean},
		{Name: "updated_at", Type: dataset.TypeTimestamp},
	}, ds.Schema())
	assert.Equal(t, []any{"NY", int64(8336817), nil, false, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}, ds.Row(1))
}

func TestLoadQueryStopsAtLimit(t *testing.T) {
	db, err := sql.Open("dataprep-static", "")
	require.NoError(t, err)
	defer db.Close()

	ds, err := LoadQuery(context.Background(), db, "SELECT * FROM crime", "crime", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, ds.NumRows())
}

func TestNormalizeValue(t *testing.T) {
	assert.Equal(t, int64(7), normalizeValue(int32(7)))
	assert.Equal(t, float64(float32(1.5)), normalizeValue(float32(1.5)))
	assert.Equal(t, "abc", normalizeValue([]byte("abc")))
	assert.Nil(t, normalizeValue(nil))
}
