package source

import (
	"context"
	"database/sql"

	_ "github.com/go-sql-driver/mysql" // registers the "mysql" driver
	"github.com/jackc/pgx/v5"

	"github.com/ajitpratap0/dataprep/pkg/dataset"
	"github.com/ajitpratap0/dataprep/pkg/errors"
)

// DB runs a query against PostgreSQL or MySQL and loads its result set.
type DB struct {
	DBType     string
	ConnectURI string
	Query      string
}

func (s *DB) String() string {
	return s.DBType + " query"
}

// Load runs the query and scans up to limit rows.
func (s *DB) Load(ctx context.Context, id string, limit int64) (*dataset.Dataset, error) {
	switch s.DBType {
	case "postgresql":
		return s.loadPostgres(ctx, id, limit)
	case "mysql":
		db, err := sql.Open("mysql", s.ConnectURI)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeSource, "failed to connect to MySQL")
		}
		defer db.Close()
		return LoadQuery(ctx, db, s.Query, id, limit)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported dbType %q", s.DBType)
	}
}

func (s *DB) loadPostgres(ctx context.Context, id string, limit int64) (*dataset.Dataset, error) {
	conn, err := pgx.Connect(ctx, s.ConnectURI)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSource, "failed to connect to PostgreSQL")
	}
	defer conn.Close(context.Background())

	rows, err := conn.Query(ctx, s.Query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSource, "failed to run source query")
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}

	var records [][]any
	for !checkLimit(len(records), limit) && rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeSource, "failed to get row values")
		}
		records = append(records, normalizeRecord(values))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSource, "failed to read source rows")
	}
	return buildDataset(id, names, records)
}

// LoadQuery runs query on db and loads up to limit rows.
func LoadQuery(ctx context.Context, db *sql.DB, query, id string, limit int64) (*dataset.Dataset, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSource, "failed to run source query")
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSource, "failed to read result columns")
	}

	var records [][]any
	for !checkLimit(len(records), limit) && rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeSource, "failed to scan source row")
		}
		records = append(records, normalizeRecord(values))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSource, "failed to read source rows")
	}
	return buildDataset(id, names, records)
}

func normalizeRecord(values []any) []any {
	for i, v := range values {
		values[i] = normalizeValue(v)
	}
	return values
}

func buildDataset(id string, names []string, records [][]any) (*dataset.Dataset, error) {
	ds, err := dataset.FromRecords(id, names, records)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSource, "failed to build dataset from query result")
	}
	return ds, nil
}
