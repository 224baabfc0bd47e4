package snapshot

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/ajitpratap0/dataprep/pkg/compression"
	"github.com/ajitpratap0/dataprep/pkg/dataset"
	"github.com/ajitpratap0/dataprep/pkg/errors"
	"github.com/ajitpratap0/dataprep/pkg/source"
)

// Catalog finds complete snapshots under a local base directory.
type Catalog struct {
	BaseDir string
}

// Resolve returns the snapshot whose id or name is id. Directories without
// a manifest are ignored.
func (c *Catalog) Resolve(ctx context.Context, id string) (source.Source, error) {
	entries, err := os.ReadDir(c.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots in %s: %w", c.BaseDir, err)
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dir := filepath.Join(c.BaseDir, entry.Name())
		m, err := ReadManifest(dir)
		if err != nil {
			continue
		}
		if m.SnapshotID == id || m.Name == id {
			return &Source{Dir: dir, Manifest: m}, nil
		}
	}
	return nil, fmt.Errorf("no snapshot %s in %s", id, c.BaseDir)
}

// Source reads a local snapshot back into a dataset.
type Source struct {
	Dir      string
	Manifest *Manifest
}

func (s *Source) String() string {
	return "snapshot " + s.Manifest.SnapshotID
}

// Schema returns the columns recorded in the manifest.
func (s *Source) Schema() []dataset.ColumnSchema {
	return s.Manifest.Columns
}

// Load reads up to limit rows of the snapshot.
func (s *Source) Load(ctx context.Context, id string, limit int64) (*dataset.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(s.Dir, s.Manifest.Part)
	schema := s.Manifest.Columns

	var (
		records [][]any
		err     error
	)
	switch s.Manifest.Format {
	case FormatParquet:
		records, err = readParquet(path, schema, limit)
	case FormatAvro:
		records, err = readAvro(path, schema, limit)
	case FormatJSON:
		records, err = s.readText(path, limit, readJSONLines)
	default:
		records, err = s.readText(path, limit, readCSV)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSource, "failed to read "+path)
	}

	columns := make([]*dataset.Column, len(schema))
	for c, col := range schema {
		values := make([]any, len(records))
		for r, record := range records {
			values[r] = record[c]
		}
		columns[c] = dataset.NewColumn(col.Name, col.Type, values)
	}
	ds, err := dataset.New(id, columns...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSource, "failed to build dataset from "+path)
	}
	return ds, nil
}

type textReader func(r io.Reader, schema []dataset.ColumnSchema, limit int64) ([][]any, error)

func (s *Source) readText(path string, limit int64, read textReader) ([][]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := compression.NewReader(f, compression.FromPath(path))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return read(r, s.Manifest.Columns, limit)
}

func readCSV(r io.Reader, schema []dataset.ColumnSchema, limit int64) ([][]any, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(schema)
	if _, err := cr.Read(); err != nil {
		return nil, fmt.Errorf("missing header: %w", err)
	}

	var records [][]any
	for limit <= 0 || int64(len(records)) < limit {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		record := make([]any, len(schema))
		for c, field := range fields {
			if record[c], err = parseCell(field, schema[c].Type); err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", len(records), schema[c].Name, err)
			}
		}
		records = append(records, record)
	}
	return records, nil
}

func readJSONLines(r io.Reader, schema []dataset.ColumnSchema, limit int64) ([][]any, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)

	var records [][]any
	for scanner.Scan() && (limit <= 0 || int64(len(records)) < limit) {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var row map[string]any
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		if err := dec.Decode(&row); err != nil {
			return nil, fmt.Errorf("row %d: %w", len(records), err)
		}
		record := make([]any, len(schema))
		for c, col := range schema {
			v, err := jsonCell(row[col.Name], col.Type)
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", len(records), col.Name, err)
			}
			record[c] = v
		}
		records = append(records, record)
	}
	return records, scanner.Err()
}

// parseCell converts CSV text back to a typed cell. Empty text is null.
func parseCell(s string, t dataset.Type) (any, error) {
	if s == "" {
		return nil, nil
	}
	switch t {
	case dataset.TypeLong:
		return strconv.ParseInt(s, 10, 64)
	case dataset.TypeDouble:
		return strconv.ParseFloat(s, 64)
	case dataset.TypeBoolean:
		return strconv.ParseBool(s)
	case dataset.TypeTimestamp:
		ts, err := time.Parse(dataset.TimestampLayout, s)
		return ts.UTC(), err
	case dataset.TypeNull:
		return nil, nil
	default:
		return s, nil
	}
}

func jsonCell(v any, t dataset.Type) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case json.Number:
		if t == dataset.TypeLong {
			return x.Int64()
		}
		return x.Float64()
	case string:
		if t == dataset.TypeString {
			return x, nil
		}
		return parseCell(x, t)
	default:
		return x, nil
	}
}
