// Package source loads the rows a dataset starts from.
//
// Every Source honours a row cap: reading stops once the cap is reached, so a
// capped job never holds more than limitRows source rows in memory.
package source

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ajitpratap0/dataprep/pkg/config"
	"github.com/ajitpratap0/dataprep/pkg/dataset"
	"github.com/ajitpratap0/dataprep/pkg/errors"
)

// Source produces the initial state of a dataset.
type Source interface {
	// Load reads at most limit rows (0 = all) into a dataset named id.
	Load(ctx context.Context, id string, limit int64) (*dataset.Dataset, error)
	// String describes the source for logs and errors.
	String() string
}

// SchemaSource is a Source whose columns are known before loading.
type SchemaSource interface {
	Source
	Schema() []dataset.ColumnSchema
}

// ForDataset returns the Source reading a FILE or DB dataset.
func ForDataset(info config.DatasetInfo) (Source, error) {
	switch info.ImportType {
	case config.ImportTypeFile:
		return &CSV{Path: info.FilePath, Delimiter: info.DelimiterRune()}, nil
	case config.ImportTypeDB:
		return &DB{DBType: info.DBType, ConnectURI: info.ConnectURI, Query: info.SourceQuery}, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "importType %s has no direct source", info.ImportType)
	}
}

// ColumnName returns the generated name of the i-th column of a headerless source.
func ColumnName(i int) string {
	return "_c" + strconv.Itoa(i)
}

// normalizeValue maps driver values onto dataset cell values.
func normalizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case nil, string, int64, float64, bool:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC()
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v) //nolint:gosec // G115: values above MaxInt64 wrap like the driver would
	case float32:
		return float64(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func checkLimit(rows int, limit int64) bool {
	return limit > 0 && int64(rows) >= limit
}
