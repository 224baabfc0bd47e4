package plan

import (
	"fmt"

	"github.com/ajitpratap0/dataprep/pkg/dataset"
	"github.com/ajitpratap0/dataprep/pkg/errors"
	"github.com/ajitpratap0/dataprep/pkg/rule"
	"github.com/ajitpratap0/dataprep/pkg/source"
)

// trackColumns checks the column references of stage when its input columns
// are known, and records its output columns in known.
func trackColumns(stage *Stage, known map[string][]string) error {
	cols, err := inputColumns(stage, known)
	if err != nil {
		return err
	}
	t := &columnTracker{stage: stage.ID, cols: cols}
	for i, r := range stage.Rules {
		if t.cols == nil {
			break
		}
		t.index = i
		if err := r.Accept(t); err != nil {
			return err
		}
	}
	stage.Columns = t.cols
	known[stage.ID] = t.cols
	return nil
}

func inputColumns(stage *Stage, known map[string][]string) ([]string, error) {
	if stage.Source != nil {
		if s, ok := stage.Source.(source.SchemaSource); ok {
			schema := s.Schema()
			cols := make([]string, len(schema))
			for i, c := range schema {
				cols[i] = c.Name
			}
			return cols, nil
		}
		return nil, nil
	}

	var cols []string
	for i, in := range stage.Inputs {
		inCols := known[in]
		if inCols == nil {
			return nil, nil
		}
		if i == 0 {
			cols = inCols
			continue
		}
		if !equalNames(cols, inCols) {
			return nil, errors.NewPlanError(stage.ID, fmt.Errorf("%w: upstream %s has columns %v, expected %v",
				dataset.ErrSchemaMismatch, in, inCols, cols))
		}
	}
	return append([]string(nil), cols...), nil
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// columnTracker follows column names through a rule sequence. Once a rule
// makes the names data dependent (header) cols becomes nil and checks stop.
type columnTracker struct {
	stage string
	index int
	cols  []string
}

func (t *columnTracker) require(r rule.Rule, names ...string) error {
	for _, name := range names {
		if !t.has(name) {
			return errors.NewPlanError(t.stage, fmt.Errorf("rule %d (%s): %w: %q", t.index, r.Verb(), dataset.ErrColumnNotFound, name))
		}
	}
	return nil
}

func (t *columnTracker) has(name string) bool {
	for _, c := range t.cols {
		if c == name {
			return true
		}
	}
	return false
}

func (t *columnTracker) VisitHeader(*rule.Header) error {
	t.cols = nil
	return nil
}

func (t *columnTracker) VisitRename(r *rule.Rename) error {
	if err := t.require(r, r.Column); err != nil {
		return err
	}
	if r.To == "" || r.To == r.Column {
		return nil
	}
	out := make([]string, 0, len(t.cols))
	for _, c := range t.cols {
		switch c {
		case r.Column:
			out = append(out, r.To)
		case r.To:
		default:
			out = append(out, c)
		}
	}
	t.cols = out
	return nil
}

func (t *columnTracker) VisitReplace(r *rule.Replace) error {
	return t.require(r, r.Cols...)
}

func (t *columnTracker) VisitSetType(r *rule.SetType) error {
	return t.require(r, r.Cols...)
}

func (t *columnTracker) VisitKeep(r *rule.Keep) error {
	return t.require(r, r.Columns()...)
}
