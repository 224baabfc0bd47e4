package source

import (
	"context"
	"encoding/csv"
	"io"
	"os"

	"github.com/ajitpratap0/dataprep/pkg/compression"
	"github.com/ajitpratap0/dataprep/pkg/dataset"
	"github.com/ajitpratap0/dataprep/pkg/errors"
)

// CSV reads a delimited file without a header. Columns are named _c0.._cN,
// empty fields are null and short rows are padded with null. Files ending in
// a codec suffix (.gz, .lz4, .zst, .snappy) are decompressed on the fly.
type CSV struct {
	Path      string
	Delimiter rune
}

func (s *CSV) String() string {
	return "file " + s.Path
}

// Load reads up to limit records.
func (s *CSV) Load(ctx context.Context, id string, limit int64) (*dataset.Dataset, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSource, "failed to open "+s.Path)
	}
	defer f.Close()

	r, err := compression.NewReader(f, compression.FromPath(s.Path))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSource, "failed to open "+s.Path)
	}
	defer r.Close()

	records, width, err := s.read(ctx, r, limit)
	if err != nil {
		return nil, err
	}

	names := make([]string, width)
	for i := range names {
		names[i] = ColumnName(i)
	}
	ds, err := dataset.FromRecords(id, names, records)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSource, "failed to build dataset from "+s.Path)
	}
	return ds, nil
}

func (s *CSV) read(ctx context.Context, r io.Reader, limit int64) ([][]any, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // Allow variable number of fields
	reader.LazyQuotes = true
	if s.Delimiter != 0 {
		reader.Comma = s.Delimiter
	}

	var records [][]any
	width := 0
	for !checkLimit(len(records), limit) {
		if len(records)%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}
		}
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrorTypeSource, "failed to parse "+s.Path)
		}
		record := make([]any, len(fields))
		for i, field := range fields {
			if field != "" {
				record[i] = field
			}
		}
		if len(record) > width {
			width = len(record)
		}
		records = append(records, record)
	}
	return records, width, nil
}
