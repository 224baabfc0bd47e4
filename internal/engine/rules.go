package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ajitpratap0/dataprep/pkg/dataset"
	"github.com/ajitpratap0/dataprep/pkg/errors"
	"github.com/ajitpratap0/dataprep/pkg/rule"
	"github.com/ajitpratap0/dataprep/pkg/source"
)

// stageRunner applies the rules of one stage to its working dataset.
type stageRunner struct {
	ctx   context.Context
	exec  *Executor
	stage string
	index int
	ds    *dataset.Dataset
	// failures counts settype coercion failures of the current rule
	failures int
}

func (s *stageRunner) entry(r rule.Rule) dataset.LineageEntry {
	return dataset.LineageEntry{RuleIndex: s.index, Verb: string(r.Verb()), Detail: r.String()}
}

func (s *stageRunner) column(r rule.Rule, name string) (*dataset.Column, error) {
	col, ok := s.ds.Column(name)
	if !ok {
		return nil, errors.NewPlanError(s.stage, fmt.Errorf("rule %d (%s): %w: %q", s.index, r.Verb(), dataset.ErrColumnNotFound, name))
	}
	return col, nil
}

func (s *stageRunner) VisitHeader(r *rule.Header) error {
	rows := s.ds.NumRows()
	if r.RowNum > rows {
		return errors.NewPlanError(s.stage, fmt.Errorf("rule %d (header): row %d does not exist, dataset has %d rows", s.index, r.RowNum, rows))
	}

	names := headerNames(s.ds.Row(r.RowNum - 1))
	body := s.ds.Slice(r.RowNum, rows)
	entry := s.entry(r)
	columns := body.Columns()
	for i, col := range columns {
		columns[i] = col.Renamed(names[i], entry)
	}
	ds, err := dataset.New(s.ds.ID(), columns...)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to promote header row")
	}
	s.ds = ds
	return nil
}

// headerNames turns a row into unique column names. Empty cells keep the
// generated _cN name and repeated names get a numeric suffix.
func headerNames(row []any) []string {
	names := make([]string, len(row))
	seen := make(map[string]bool, len(row))
	for i, v := range row {
		name := strings.TrimSpace(dataset.FormatValue(v))
		if name == "" {
			name = source.ColumnName(i)
		}
		if seen[name] {
			base := name
			for n := 1; seen[name]; n++ {
				name = base + "_" + strconv.Itoa(n)
			}
		}
		seen[name] = true
		names[i] = name
	}
	return names
}

func (s *stageRunner) VisitRename(r *rule.Rename) error {
	if _, err := s.column(r, r.Column); err != nil {
		return err
	}
	if r.To == "" {
		return nil
	}
	ds, err := s.ds.Rename(r.Column, r.To, s.entry(r))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "rename failed")
	}
	s.ds = ds
	return nil
}

func (s *stageRunner) VisitReplace(r *rule.Replace) error {
	replace := replacer(r)
	for _, name := range r.Cols {
		col, err := s.column(r, name)
		if err != nil {
			return err
		}
		if replace == nil || col.Type == dataset.TypeNull {
			continue
		}

		values := make([]any, col.Len())
		err = s.exec.runRows(s.ctx, col.Len(), func(ctx context.Context, lo, hi int) error {
			return forRange(ctx, lo, hi, func(i int) {
				if col.Values[i] != nil {
					values[i] = replace(dataset.FormatValue(col.Values[i]))
				}
			})
		})
		if err != nil {
			return err
		}
		if err := s.setColumn(col.Derive(dataset.TypeString, values, s.entry(r))); err != nil {
			return err
		}
	}
	return nil
}

// replacer returns the substitution of r, or nil when r has nothing to replace.
func replacer(r *rule.Replace) func(string) string {
	if r.On == "" {
		return nil
	}
	if r.IgnoreCase {
		re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(r.On))
		if r.Global {
			return func(v string) string { return re.ReplaceAllLiteralString(v, r.With) }
		}
		return func(v string) string {
			loc := re.FindStringIndex(v)
			if loc == nil {
				return v
			}
			return v[:loc[0]] + r.With + v[loc[1]:]
		}
	}
	n := 1
	if r.Global {
		n = -1
	}
	return func(v string) string { return strings.Replace(v, r.On, r.With, n) }
}

func (s *stageRunner) VisitSetType(r *rule.SetType) error {
	for _, name := range r.Cols {
		col, err := s.column(r, name)
		if err != nil {
			return err
		}

		values := make([]any, col.Len())
		ranges := s.exec.partitions(col.Len())
		partial := make([]CoercionResult, len(ranges))
		err = s.exec.session.RunPartitions(s.ctx, len(ranges), func(ctx context.Context, part int) error {
			var err error
			partial[part], err = coerceRange(ctx, col.Values, values, ranges[part][0], ranges[part][1], r.Type, r.Format)
			return err
		})
		if err != nil {
			return err
		}
		var total CoercionResult
		for _, p := range partial {
			total = total.Merge(p)
		}
		s.failures += total.Failures

		if err := s.setColumn(col.Derive(r.Type, values, s.entry(r))); err != nil {
			return err
		}
	}
	return nil
}

func (s *stageRunner) VisitKeep(r *rule.Keep) error {
	pred, err := compile(r.Row, s.ds, func(name string) error {
		_, err := s.column(r, name)
		return err
	}, s.index)
	if err != nil {
		return err
	}

	mask := make([]bool, s.ds.NumRows())
	err = s.exec.runRows(s.ctx, len(mask), func(ctx context.Context, lo, hi int) error {
		return forRange(ctx, lo, hi, func(i int) { mask[i] = pred(i) })
	})
	if err != nil {
		return err
	}

	ds, err := s.ds.Filter(mask)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "keep failed")
	}
	s.ds = ds
	return nil
}

func (s *stageRunner) setColumn(col *dataset.Column) error {
	ds, err := s.ds.WithColumn(col)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to update column "+col.Name)
	}
	s.ds = ds
	return nil
}
