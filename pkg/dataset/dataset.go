// Package dataset provides the in-memory columnar representation that rule
// execution operates on.
//
// A Dataset is an ordered list of named, typed columns of equal length. Every
// operation returns a new Dataset and never mutates a column that is already
// part of a dataset, so unchanged columns are shared between states
// (copy-on-write at the column level). Column names are unique at all times.
//
// Columns carry lineage: the name they had when the source was loaded and the
// ordered list of rules that touched them.
package dataset

import (
	"errors"
	"fmt"
)

var (
	// ErrColumnNotFound is returned when an operation names a missing column
	ErrColumnNotFound = errors.New("column not found")
	// ErrLengthMismatch is returned when a column does not match the dataset row count
	ErrLengthMismatch = errors.New("column length mismatch")
	// ErrDuplicateColumn is returned when a dataset would contain the same name twice
	ErrDuplicateColumn = errors.New("duplicate column name")
	// ErrSchemaMismatch is returned when datasets with different columns are concatenated
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// LineageEntry records one rule application on a column.
type LineageEntry struct {
	RuleIndex int    `json:"ruleIndex"`
	Verb      string `json:"verb"`
	Detail    string `json:"detail,omitempty"`
}

// Column is a named, typed sequence of cells.
type Column struct {
	Name    string
	Type    Type
	Values  []any
	Origin  string
	Lineage []LineageEntry
}

// NewColumn creates a column whose origin is its current name.
func NewColumn(name string, t Type, values []any) *Column {
	return &Column{Name: name, Type: t, Values: values, Origin: name}
}

// Len returns the number of cells.
func (c *Column) Len() int {
	return len(c.Values)
}

// Derive returns a copy of c with new cells and type, recording entry in the lineage.
func (c *Column) Derive(t Type, values []any, entry LineageEntry) *Column {
	return &Column{
		Name:    c.Name,
		Type:    t,
		Values:  values,
		Origin:  c.Origin,
		Lineage: appendLineage(c.Lineage, entry),
	}
}

// Renamed returns c under another name, recording entry in the lineage.
func (c *Column) Renamed(name string, entry LineageEntry) *Column {
	return &Column{
		Name:    name,
		Type:    c.Type,
		Values:  c.Values,
		Origin:  c.Origin,
		Lineage: appendLineage(c.Lineage, entry),
	}
}

func (c *Column) slice(lo, hi int) *Column {
	return &Column{
		Name:    c.Name,
		Type:    c.Type,
		Values:  c.Values[lo:hi:hi],
		Origin:  c.Origin,
		Lineage: c.Lineage,
	}
}

func appendLineage(lineage []LineageEntry, entry LineageEntry) []LineageEntry {
	out := make([]LineageEntry, len(lineage), len(lineage)+1)
	copy(out, lineage)
	return append(out, entry)
}

// ColumnSchema describes one column of a dataset.
type ColumnSchema struct {
	Name string `json:"name"`
	Type Type   `json:"type"`
}

// Dataset is an immutable ordered set of equal-length columns.
type Dataset struct {
	id      string
	columns []*Column
	index   map[string]int
	rows    int
}

// New builds a dataset, checking equal lengths and unique names.
func New(id string, columns ...*Column) (*Dataset, error) {
	d := &Dataset{
		id:      id,
		columns: make([]*Column, 0, len(columns)),
		index:   make(map[string]int, len(columns)),
	}
	for i, col := range columns {
		if i == 0 {
			d.rows = col.Len()
		} else if col.Len() != d.rows {
			return nil, fmt.Errorf("%w: column %q has %d rows, expected %d", ErrLengthMismatch, col.Name, col.Len(), d.rows)
		}
		if _, exists := d.index[col.Name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, col.Name)
		}
		d.index[col.Name] = len(d.columns)
		d.columns = append(d.columns, col)
	}
	return d, nil
}

// FromRecords builds a dataset from row-major records, inferring each column
// type from its non-null cells. Short records are padded with null.
func FromRecords(id string, names []string, records [][]any) (*Dataset, error) {
	columns := make([]*Column, len(names))
	for c, name := range names {
		values := make([]any, len(records))
		t := TypeNull
		for r, record := range records {
			if c >= len(record) || record[c] == nil {
				continue
			}
			vt, err := TypeOfValue(record[c])
			if err != nil {
				return nil, fmt.Errorf("column %q row %d: %w", name, r, err)
			}
			if t != TypeNull && vt != t {
				return nil, fmt.Errorf("column %q mixes %s and %s values", name, t, vt)
			}
			t = vt
			values[r] = record[c]
		}
		columns[c] = NewColumn(name, t, values)
	}
	return New(id, columns...)
}

// ID returns the identity of the dataset this state belongs to.
func (d *Dataset) ID() string {
	return d.id
}

// WithID returns the same columns under another identity.
func (d *Dataset) WithID(id string) *Dataset {
	return &Dataset{id: id, columns: d.columns, index: d.index, rows: d.rows}
}

// NumRows returns the row count.
func (d *Dataset) NumRows() int {
	return d.rows
}

// NumColumns returns the column count.
func (d *Dataset) NumColumns() int {
	return len(d.columns)
}

// Columns returns the columns in order. The returned columns must not be modified.
func (d *Dataset) Columns() []*Column {
	out := make([]*Column, len(d.columns))
	copy(out, d.columns)
	return out
}

// ColumnAt returns the i-th column.
func (d *Dataset) ColumnAt(i int) *Column {
	return d.columns[i]
}

// ColumnNames returns the column names in order.
func (d *Dataset) ColumnNames() []string {
	names := make([]string, len(d.columns))
	for i, c := range d.columns {
		names[i] = c.Name
	}
	return names
}

// Schema returns the name and type of every column.
func (d *Dataset) Schema() []ColumnSchema {
	schema := make([]ColumnSchema, len(d.columns))
	for i, c := range d.columns {
		schema[i] = ColumnSchema{Name: c.Name, Type: c.Type}
	}
	return schema
}

// Column returns the named column.
func (d *Dataset) Column(name string) (*Column, bool) {
	i, ok := d.index[name]
	if !ok {
		return nil, false
	}
	return d.columns[i], true
}

// Row returns the cells of row i in column order.
func (d *Dataset) Row(i int) []any {
	row := make([]any, len(d.columns))
	for c, col := range d.columns {
		row[c] = col.Values[i]
	}
	return row
}

// WithColumn replaces the column with the same name in place, or appends it.
func (d *Dataset) WithColumn(col *Column) (*Dataset, error) {
	if len(d.columns) > 0 && col.Len() != d.rows {
		return nil, fmt.Errorf("%w: column %q has %d rows, expected %d", ErrLengthMismatch, col.Name, col.Len(), d.rows)
	}
	columns := d.Columns()
	if i, ok := d.index[col.Name]; ok {
		columns[i] = col
	} else {
		columns = append(columns, col)
	}
	return New(d.id, columns...)
}

// Rename renames a column in place. Renaming onto an existing name drops the
// existing column.
func (d *Dataset) Rename(from, to string, entry LineageEntry) (*Dataset, error) {
	i, ok := d.index[from]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, from)
	}
	if from == to {
		return d, nil
	}
	columns := make([]*Column, 0, len(d.columns))
	for j, col := range d.columns {
		switch {
		case j == i:
			columns = append(columns, col.Renamed(to, entry))
		case col.Name == to:
			// overwritten by the rename
		default:
			columns = append(columns, col)
		}
	}
	return New(d.id, columns...)
}

// Drop removes the named column.
func (d *Dataset) Drop(name string) (*Dataset, error) {
	i, ok := d.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}
	columns := make([]*Column, 0, len(d.columns)-1)
	columns = append(columns, d.columns[:i]...)
	columns = append(columns, d.columns[i+1:]...)
	return New(d.id, columns...)
}

// Filter keeps the rows whose mask entry is true, preserving their relative order.
func (d *Dataset) Filter(mask []bool) (*Dataset, error) {
	if len(mask) != d.rows {
		return nil, fmt.Errorf("%w: mask has %d entries, expected %d", ErrLengthMismatch, len(mask), d.rows)
	}
	kept := 0
	for _, keep := range mask {
		if keep {
			kept++
		}
	}
	columns := make([]*Column, len(d.columns))
	for c, col := range d.columns {
		values := make([]any, 0, kept)
		for r, keep := range mask {
			if keep {
				values = append(values, col.Values[r])
			}
		}
		columns[c] = &Column{Name: col.Name, Type: col.Type, Values: values, Origin: col.Origin, Lineage: col.Lineage}
	}
	out := &Dataset{id: d.id, columns: columns, index: d.index, rows: kept}
	return out, nil
}

// MapColumn replaces the named column with fn applied to every cell.
func (d *Dataset) MapColumn(name string, t Type, entry LineageEntry, fn func(v any) (any, error)) (*Dataset, error) {
	col, ok := d.Column(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}
	values := make([]any, col.Len())
	for i, v := range col.Values {
		out, err := fn(v)
		if err != nil {
			return nil, fmt.Errorf("column %q row %d: %w", name, i, err)
		}
		values[i] = out
	}
	return d.WithColumn(col.Derive(t, values, entry))
}

// Head returns the first n rows. A non-positive n or n past the end returns d.
func (d *Dataset) Head(n int) *Dataset {
	if n <= 0 || n >= d.rows {
		return d
	}
	return d.Slice(0, n)
}

// Slice returns rows [lo, hi). The result shares cell storage with d.
func (d *Dataset) Slice(lo, hi int) *Dataset {
	columns := make([]*Column, len(d.columns))
	for i, col := range d.columns {
		columns[i] = col.slice(lo, hi)
	}
	return &Dataset{id: d.id, columns: columns, index: d.index, rows: hi - lo}
}

// Concat appends the rows of parts in order. All parts must have the same
// column names in the same order; a null-typed column adopts the type of its
// counterpart.
func Concat(id string, parts ...*Dataset) (*Dataset, error) {
	if len(parts) == 0 {
		return New(id)
	}
	first := parts[0]
	if len(parts) == 1 {
		return first.WithID(id), nil
	}

	total := 0
	for _, p := range parts {
		if p.NumColumns() != first.NumColumns() {
			return nil, fmt.Errorf("%w: %d columns vs %d", ErrSchemaMismatch, p.NumColumns(), first.NumColumns())
		}
		for i, col := range p.columns {
			if col.Name != first.columns[i].Name {
				return nil, fmt.Errorf("%w: column %d is %q vs %q", ErrSchemaMismatch, i, col.Name, first.columns[i].Name)
			}
		}
		total += p.rows
	}

	columns := make([]*Column, first.NumColumns())
	for c, proto := range first.columns {
		t := TypeNull
		values := make([]any, 0, total)
		for _, p := range parts {
			col := p.columns[c]
			if col.Type != TypeNull {
				if t != TypeNull && t != col.Type {
					return nil, fmt.Errorf("%w: column %q is %s vs %s", ErrSchemaMismatch, col.Name, col.Type, t)
				}
				t = col.Type
			}
			values = append(values, col.Values...)
		}
		columns[c] = &Column{Name: proto.Name, Type: t, Values: values, Origin: proto.Origin, Lineage: proto.Lineage}
	}
	return New(id, columns...)
}
