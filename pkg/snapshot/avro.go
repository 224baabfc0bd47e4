package snapshot

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/linkedin/goavro/v2"

	"github.com/ajitpratap0/dataprep/pkg/dataset"
)

var invalidAvroName = regexp.MustCompile(`[^A-Za-z0-9_]`)

func avroCodec(codec string) (string, error) {
	switch codec {
	case "NONE", "":
		return goavro.CompressionNullLabel, nil
	case "SNAPPY":
		return goavro.CompressionSnappyLabel, nil
	case "DEFLATE":
		return goavro.CompressionDeflateLabel, nil
	default:
		return "", fmt.Errorf("compression %s is not supported for AVRO", codec)
	}
}

func avroType(t dataset.Type) (any, string) {
	switch t {
	case dataset.TypeLong:
		return "long", "long"
	case dataset.TypeDouble:
		return "double", "double"
	case dataset.TypeBoolean:
		return "boolean", "boolean"
	case dataset.TypeTimestamp:
		return map[string]any{"type": "long", "logicalType": "timestamp-micros"}, "long.timestamp-micros"
	default:
		return "string", "string"
	}
}

// avroFieldNames maps column names onto valid, unique Avro field names.
func avroFieldNames(names []string) []string {
	out := make([]string, len(names))
	seen := make(map[string]bool, len(names))
	for i, name := range names {
		field := invalidAvroName.ReplaceAllString(name, "_")
		if field == "" || (field[0] >= '0' && field[0] <= '9') {
			field = "_" + field
		}
		base := field
		for n := 1; seen[field]; n++ {
			field = base + "_" + strconv.Itoa(n)
		}
		seen[field] = true
		out[i] = field
	}
	return out
}

func avroSchema(ds *dataset.Dataset) (string, []string, []string, error) {
	names := avroFieldNames(ds.ColumnNames())
	branches := make([]string, ds.NumColumns())
	fields := make([]map[string]any, ds.NumColumns())
	for i, col := range ds.Columns() {
		t, branch := avroType(col.Type)
		branches[i] = branch
		fields[i] = map[string]any{
			"name":    names[i],
			"type":    []any{"null", t},
			"default": nil,
		}
		if names[i] != col.Name {
			fields[i]["doc"] = col.Name
		}
	}
	schema, err := json.Marshal(map[string]any{
		"type":      "record",
		"name":      "Row",
		"namespace": "dataprep",
		"fields":    fields,
	})
	if err != nil {
		return "", nil, nil, err
	}
	return string(schema), names, branches, nil
}

func writeAvro(w io.Writer, ds *dataset.Dataset, codec string) error {
	label, err := avroCodec(codec)
	if err != nil {
		return err
	}
	schema, names, branches, err := avroSchema(ds)
	if err != nil {
		return err
	}
	c, err := goavro.NewCodec(schema)
	if err != nil {
		return fmt.Errorf("failed to create avro codec: %w", err)
	}
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{W: w, Codec: c, CompressionName: label})
	if err != nil {
		return fmt.Errorf("failed to create avro writer: %w", err)
	}

	const batch = 1024
	buf := make([]any, 0, batch)
	for r := 0; r < ds.NumRows(); r++ {
		native := make(map[string]any, len(names))
		for i, name := range names {
			v := ds.ColumnAt(i).Values[r]
			if v == nil {
				native[name] = nil
				continue
			}
			if branches[i] == "string" {
				v = dataset.FormatValue(v)
			}
			native[name] = goavro.Union(branches[i], v)
		}
		buf = append(buf, native)
		if len(buf) == batch {
			if err := ocf.Append(buf); err != nil {
				return fmt.Errorf("failed to write avro rows: %w", err)
			}
			buf = buf[:0]
		}
	}
	if len(buf) > 0 {
		if err := ocf.Append(buf); err != nil {
			return fmt.Errorf("failed to write avro rows: %w", err)
		}
	}
	return nil
}

// readAvro loads an Avro part written by writeAvro.
func readAvro(path string, schema []dataset.ColumnSchema, limit int64) ([][]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ocf, err := goavro.NewOCFReader(f)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(schema))
	for i, c := range schema {
		names[i] = c.Name
	}
	fields := avroFieldNames(names)

	var records [][]any
	for ocf.Scan() {
		if limit > 0 && int64(len(records)) >= limit {
			break
		}
		datum, err := ocf.Read()
		if err != nil {
			return nil, err
		}
		m, ok := datum.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unexpected avro datum %T", datum)
		}
		record := make([]any, len(fields))
		for i, field := range fields {
			record[i] = avroValue(m[field])
		}
		records = append(records, record)
	}
	return records, ocf.Err()
}

// avroValue unwraps a union value decoded by goavro.
func avroValue(v any) any {
	u, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for _, inner := range u {
		if t, ok := inner.(time.Time); ok {
			return t.UTC()
		}
		return inner
	}
	return nil
}
