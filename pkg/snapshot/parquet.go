package snapshot

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/ajitpratap0/dataprep/pkg/dataset"
)

const parquetBatchRows = 64 * 1024

func parquetCodec(codec string) (compress.Compression, error) {
	switch codec {
	case "NONE", "":
		return compress.Codecs.Uncompressed, nil
	case "SNAPPY":
		return compress.Codecs.Snappy, nil
	case "GZIP":
		return compress.Codecs.Gzip, nil
	case "ZSTD":
		return compress.Codecs.Zstd, nil
	case "LZ4":
		return compress.Codecs.Lz4Raw, nil
	default:
		return compress.Codecs.Uncompressed, fmt.Errorf("compression %s is not supported for PARQUET", codec)
	}
}

func arrowType(t dataset.Type) arrow.DataType {
	switch t {
	case dataset.TypeLong:
		return arrow.PrimitiveTypes.Int64
	case dataset.TypeDouble:
		return arrow.PrimitiveTypes.Float64
	case dataset.TypeBoolean:
		return arrow.FixedWidthTypes.Boolean
	case dataset.TypeTimestamp:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
	default:
		return arrow.BinaryTypes.String
	}
}

// writerOnly hides Close so the parquet writer leaves the sink open.
type writerOnly struct {
	io.Writer
}

func writeParquet(w io.Writer, ds *dataset.Dataset, codec string) error {
	comp, err := parquetCodec(codec)
	if err != nil {
		return err
	}

	fields := make([]arrow.Field, ds.NumColumns())
	for i, col := range ds.Columns() {
		fields[i] = arrow.Field{Name: col.Name, Type: arrowType(col.Type), Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	pool := memory.NewGoAllocator()
	props := parquet.NewWriterProperties(parquet.WithCompression(comp))
	fw, err := pqarrow.NewFileWriter(schema, writerOnly{w}, props, pqarrow.NewArrowWriterProperties(pqarrow.WithAllocator(pool)))
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}

	b := array.NewRecordBuilder(pool, schema)
	defer b.Release()

	for lo := 0; lo < ds.NumRows() || lo == 0; lo += parquetBatchRows {
		hi := min(lo+parquetBatchRows, ds.NumRows())
		for c, col := range ds.Columns() {
			appendArrow(b.Field(c), col.Values[lo:hi])
		}
		rec := b.NewRecord()
		err := fw.Write(rec)
		rec.Release()
		if err != nil {
			_ = fw.Close()
			return fmt.Errorf("failed to write parquet rows: %w", err)
		}
		if hi == ds.NumRows() {
			break
		}
	}
	return fw.Close()
}

func appendArrow(b array.Builder, values []any) {
	for _, v := range values {
		if v == nil {
			b.AppendNull()
			continue
		}
		switch fb := b.(type) {
		case *array.Int64Builder:
			fb.Append(v.(int64))
		case *array.Float64Builder:
			fb.Append(v.(float64))
		case *array.BooleanBuilder:
			fb.Append(v.(bool))
		case *array.TimestampBuilder:
			fb.Append(arrow.Timestamp(v.(time.Time).UnixMicro()))
		case *array.StringBuilder:
			fb.Append(dataset.FormatValue(v))
		}
	}
}

// readParquet loads a parquet part written by writeParquet.
func readParquet(path string, schema []dataset.ColumnSchema, limit int64) ([][]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pf, err := file.NewParquetReader(f)
	if err != nil {
		return nil, err
	}
	defer pf.Close()

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.NewGoAllocator())
	if err != nil {
		return nil, err
	}
	tbl, err := fr.ReadTable(context.Background())
	if err != nil {
		return nil, err
	}
	defer tbl.Release()

	rows := tbl.NumRows()
	if limit > 0 && rows > limit {
		rows = limit
	}
	records := make([][]any, rows)
	for r := range records {
		records[r] = make([]any, len(schema))
	}
	for c := 0; c < int(tbl.NumCols()) && c < len(schema); c++ {
		r := 0
		for _, chunk := range tbl.Column(c).Data().Chunks() {
			for i := 0; i < chunk.Len() && int64(r) < rows; i, r = i+1, r+1 {
				records[r][c] = arrowValue(chunk, i)
			}
		}
	}
	return records, nil
}

func arrowValue(arr arrow.Array, i int) any {
	if arr.IsNull(i) {
		return nil
	}
	switch a := arr.(type) {
	case *array.Int64:
		return a.Value(i)
	case *array.Float64:
		return a.Value(i)
	case *array.Boolean:
		return a.Value(i)
	case *array.Timestamp:
		return time.UnixMicro(int64(a.Value(i))).UTC()
	case *array.String:
		return a.Value(i)
	default:
		return arr.ValueStr(i)
	}
}
