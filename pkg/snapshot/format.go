package snapshot

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"

	"github.com/ajitpratap0/dataprep/pkg/compression"
	"github.com/ajitpratap0/dataprep/pkg/dataset"
)

// Format is a snapshot file format.
type Format string

const (
	FormatCSV     Format = "CSV"
	FormatJSON    Format = "JSON"
	FormatParquet Format = "PARQUET"
	FormatAvro    Format = "AVRO"
	// FormatORC is recognized but cannot be written.
	FormatORC Format = "ORC"
)

// ParseFormat resolves a snapshotInfo format name.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToUpper(strings.TrimSpace(name))); f {
	case "":
		return FormatCSV, nil
	case "JSONL":
		return FormatJSON, nil
	case FormatCSV, FormatJSON, FormatParquet, FormatAvro:
		return f, nil
	case FormatORC:
		return "", fmt.Errorf("format %s is not supported", f)
	default:
		return "", fmt.Errorf("unknown format %q", name)
	}
}

// extension returns the file extension of the uncompressed part.
func (f Format) extension() string {
	switch f {
	case FormatJSON:
		return ".json"
	case FormatParquet:
		return ".parquet"
	case FormatAvro:
		return ".avro"
	default:
		return ".csv"
	}
}

// encoding is a format plus the codec it applies.
type encoding struct {
	format Format
	codec  string
	// stream wraps text formats in a whole-file compressor
	stream compression.Algorithm
}

// newEncoding validates that format can be written with the named codec.
func newEncoding(format Format, codec string) (*encoding, error) {
	codec = strings.ToUpper(strings.TrimSpace(codec))
	if codec == "" {
		codec = "NONE"
	}
	enc := &encoding{format: format, codec: codec}

	switch format {
	case FormatCSV, FormatJSON:
		name := codec
		if name == "NONE" {
			name = ""
		}
		alg, err := compression.Parse(strings.ToLower(name))
		if err != nil {
			return nil, fmt.Errorf("compression %s is not supported for %s", codec, format)
		}
		enc.stream = alg
	case FormatParquet:
		if _, err := parquetCodec(codec); err != nil {
			return nil, err
		}
	case FormatAvro:
		if _, err := avroCodec(codec); err != nil {
			return nil, err
		}
	}
	return enc, nil
}

// partName returns the name of the data file.
func (e *encoding) partName() string {
	return "part-00000" + e.format.extension() + e.stream.Extension()
}

// encode writes ds to w.
func (e *encoding) encode(w io.Writer, ds *dataset.Dataset) error {
	switch e.format {
	case FormatParquet:
		return writeParquet(w, ds, e.codec)
	case FormatAvro:
		return writeAvro(w, ds, e.codec)
	}

	cw, err := compression.NewWriter(w, e.stream, compression.Default)
	if err != nil {
		return err
	}
	if e.format == FormatJSON {
		err = writeJSONLines(cw, ds)
	} else {
		err = writeCSV(cw, ds)
	}
	if err != nil {
		_ = cw.Close()
		return err
	}
	return cw.Close()
}

// writeCSV writes a header row followed by one line per row. Null cells
// are empty.
func writeCSV(w io.Writer, ds *dataset.Dataset) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ds.ColumnNames()); err != nil {
		return err
	}
	record := make([]string, ds.NumColumns())
	for r := 0; r < ds.NumRows(); r++ {
		for c := range record {
			record[c] = dataset.FormatValue(ds.ColumnAt(c).Values[r])
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeJSONLines writes one JSON object per row with keys in column order.
func writeJSONLines(w io.Writer, ds *dataset.Dataset) error {
	bw := bufio.NewWriter(w)
	keys := make([][]byte, ds.NumColumns())
	for c, name := range ds.ColumnNames() {
		key, err := json.Marshal(name)
		if err != nil {
			return err
		}
		keys[c] = key
	}

	for r := 0; r < ds.NumRows(); r++ {
		bw.WriteByte('{')
		for c, key := range keys {
			if c > 0 {
				bw.WriteByte(',')
			}
			bw.Write(key)
			bw.WriteByte(':')
			value, err := json.Marshal(ds.ColumnAt(c).Values[r])
			if err != nil {
				return fmt.Errorf("row %d column %s: %w", r, ds.ColumnAt(c).Name, err)
			}
			bw.Write(value)
		}
		bw.WriteString("}\n")
	}
	return bw.Flush()
}
