package engine

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/dataprep/internal/plan"
	"github.com/ajitpratap0/dataprep/pkg/dataset"
	"github.com/ajitpratap0/dataprep/pkg/errors"
	"github.com/ajitpratap0/dataprep/pkg/rule"
)

type memSource struct {
	ds *dataset.Dataset
}

func (m memSource) Load(_ context.Context, id string, limit int64) (*dataset.Dataset, error) {
	return m.ds.WithID(id).Head(int(limit)), nil
}

func (m memSource) String() string { return "memory" }

// serialSession runs partitions one after another.
type serialSession struct {
	parallelism int
	calls       int
}

func (s *serialSession) Parallelism() int { return s.parallelism }

func (s *serialSession) RunPartitions(ctx context.Context, n int, fn func(ctx context.Context, part int) error) error {
	s.calls++
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx, i); err != nil {
			return err
		}
	}
	return nil
}

func (s *serialSession) Close() error { return nil }

func crimeRecords() *dataset.Dataset {
	records := [][]any{
		{"Location", "Population_", "Total_Crime"},
		{"LA", "1_000_000", "12_3"},
		{"NY", "8_000_000", "40"},
		{"LA", "abc", "7"},
		{"SF", "800_000", nil},
	}
	ds, err := dataset.FromRecords("crime", []string{"_c0", "_c1", "_c2"}, records)
	if err != nil {
		panic(err)
	}
	return ds
}

func parseRules(t *testing.T, rules ...string) []rule.Rule {
	t.Helper()
	parsed, err := rule.ParseAll(rules)
	require.NoError(t, err)
	return parsed
}

func execute(t *testing.T, ds *dataset.Dataset, opts Options, rules ...string) (*Result, error) {
	t.Helper()
	p := plan.New(&plan.Stage{ID: "crime", Source: memSource{ds: ds}, Rules: parseRules(t, rules...)})
	return NewExecutor(&serialSession{parallelism: 2}, opts, nil).Execute(context.Background(), p)
}

func column(t *testing.T, ds *dataset.Dataset, name string) *dataset.Column {
	t.Helper()
	col, ok := ds.Column(name)
	require.True(t, ok, "column %q missing from %v", name, ds.ColumnNames())
	return col
}

func TestHeaderPromotesRow(t *testing.T) {
	res, err := execute(t, crimeRecords(), Options{}, "header rownum: 1")
	require.NoError(t, err)

	ds := res.Dataset
	assert.Equal(t, []string{"Location", "Population_", "Total_Crime"}, ds.ColumnNames())
	assert.Equal(t, 4, ds.NumRows())
	assert.Equal(t, "_c0", column(t, ds, "Location").Origin)
	assert.Equal(t, []any{"LA", "NY", "LA", "SF"}, column(t, ds, "Location").Values)
}

func TestHeaderDropsRowsAbove(t *testing.T) {
	res, err := execute(t, crimeRecords(), Options{}, "header rownum: 3")
	require.NoError(t, err)
	assert.Equal(t, []string{"NY", "8_000_000", "40"}, res.Dataset.ColumnNames())
	assert.Equal(t, 2, res.Dataset.NumRows())
}

func TestHeaderPastLastRow(t *testing.T) {
	_, err := execute(t, crimeRecords(), Options{}, "header rownum: 6")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypePlan))
}

func TestHeaderNames(t *testing.T) {
	assert.Equal(t,
		[]string{"a", "_c1", "a_1", "b", "a_2"},
		headerNames([]any{"a", nil, "a", " b ", "a"}))
}

func TestRenameTouchesOneColumn(t *testing.T) {
	in := crimeRecords()
	res, err := execute(t, in, Options{}, "rename col: _c0 to: new_colname")
	require.NoError(t, err)

	ds := res.Dataset
	assert.Equal(t, []string{"new_colname", "_c1", "_c2"}, ds.ColumnNames())
	for i := 0; i < in.NumRows(); i++ {
		assert.Equal(t, in.Row(i), ds.Row(i))
	}
	lineage := column(t, ds, "new_colname").Lineage
	require.Len(t, lineage, 1)
	assert.Equal(t, "rename", lineage[0].Verb)
	assert.Empty(t, column(t, ds, "_c1").Lineage)
}

func TestRenameWithoutTargetIsNoop(t *testing.T) {
	res, err := execute(t, crimeRecords(), Options{}, "rename col: _c0")
	require.NoError(t, err)
	assert.Equal(t, []string{"_c0", "_c1", "_c2"}, res.Dataset.ColumnNames())
}

func TestReplace(t *testing.T) {
	tests := []struct {
		name string
		rule string
		want []any
	}{
		{
			name: "global",
			rule: "replace col: Population_, Total_Crime with: '' on: '_' global: true",
			want: []any{"1000000", "8000000", "abc", "800000"},
		},
		{
			name: "first only",
			rule: "replace col: Population_, Total_Crime with: '' on: '_' global: false",
			want: []any{"1000_000", "8000_000", "abc", "800000"},
		},
		{
			name: "ignore case",
			rule: "replace col: Population_ on: 'ABC' with: 'x' ignoreCase: true",
			want: []any{"1_000_000", "8_000_000", "x", "800_000"},
		},
		{
			name: "case sensitive",
			rule: "replace col: Population_ on: 'ABC' with: 'x'",
			want: []any{"1_000_000", "8_000_000", "abc", "800_000"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := execute(t, crimeRecords(), Options{}, "header rownum: 1", tt.rule)
			require.NoError(t, err)
			assert.Equal(t, tt.want, column(t, res.Dataset, "Population_").Values)
		})
	}
}

func TestReplaceEachColumnIndependently(t *testing.T) {
	res, err := execute(t, crimeRecords(), Options{},
		"header rownum: 1",
		"replace col: Population_, Total_Crime with: '' on: '_' global: true")
	require.NoError(t, err)
	assert.Equal(t, []any{"123", "40", "7", nil}, column(t, res.Dataset, "Total_Crime").Values)
	assert.Len(t, column(t, res.Dataset, "Total_Crime").Lineage, 2)
}

func TestSetTypeLong(t *testing.T) {
	res, err := execute(t, crimeRecords(), Options{},
		"header rownum: 1",
		"replace col: Population_ with: '' on: '_'",
		"settype col: Population_ type: long")
	require.NoError(t, err)

	col := column(t, res.Dataset, "Population_")
	assert.Equal(t, dataset.TypeLong, col.Type)
	assert.Equal(t, []any{int64(1000000), int64(8000000), nil, int64(800000)}, col.Values)
	assert.Equal(t, 1, res.CoercionFailures)
}

func TestSetTypeAllNumeric(t *testing.T) {
	ds, err := dataset.FromRecords("n", []string{"n"}, [][]any{{"1"}, {" 2 "}, {"3.0"}, {nil}})
	require.NoError(t, err)
	res, err := execute(t, ds, Options{}, "settype col: n type: long")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), int64(3), nil}, column(t, res.Dataset, "n").Values)
	assert.Zero(t, res.CoercionFailures)
}

func TestCoercionFailureLimit(t *testing.T) {
	_, err := execute(t, crimeRecords(), Options{CoercionFailureLimit: 1},
		"header rownum: 1",
		"settype col: Population_, Total_Crime type: long")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTypeCoercion), "got %v", err)

	var derr *errors.Error
	require.ErrorAs(t, err, &derr)
	failures, _ := derr.Detail("failures")
	assert.Equal(t, 5, failures)
}

func TestKeep(t *testing.T) {
	res, err := execute(t, crimeRecords(), Options{},
		"header rownum: 1",
		"keep row: Location = 'LA'")
	require.NoError(t, err)
	assert.Equal(t, []any{"LA", "LA"}, column(t, res.Dataset, "Location").Values)
	assert.Equal(t, []any{"1_000_000", "abc"}, column(t, res.Dataset, "Population_").Values)
}

func TestKeepIsCaseSensitive(t *testing.T) {
	res, err := execute(t, crimeRecords(), Options{},
		"header rownum: 1",
		"keep row: Location = 'la'")
	require.NoError(t, err)
	assert.Zero(t, res.Dataset.NumRows())
}

func TestKeepNumericAndLogical(t *testing.T) {
	ds, err := dataset.FromRecords("n", []string{"n", "s"}, [][]any{
		{int64(1), "a"}, {int64(5), "b"}, {nil, "c"}, {int64(10), "d"},
	})
	require.NoError(t, err)

	tests := []struct {
		expr string
		want []any
	}{
		{"n > 2", []any{"b", "d"}},
		{"n >= 5 && s != 'd'", []any{"b"}},
		{"n < 2 || s = 'c'", []any{"a", "c"}},
		{"n = null", []any{"c"}},
		{"n != null", []any{"a", "b", "d"}},
		{"n <= 4.5", []any{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			res, err := execute(t, ds, Options{}, "keep row: "+tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, column(t, res.Dataset, "s").Values)
		})
	}
}

func TestKeepTypeMismatch(t *testing.T) {
	_, err := execute(t, crimeRecords(), Options{},
		"header rownum: 1",
		"keep row: Location = 5")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeExpression), "got %v", err)

	var derr *errors.Error
	require.ErrorAs(t, err, &derr)
	idx, _ := derr.Detail("rule_index")
	assert.Equal(t, 1, idx)
}

func TestMissingColumnAtExecution(t *testing.T) {
	_, err := execute(t, crimeRecords(), Options{},
		"header rownum: 1",
		"rename col: Nope to: x")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypePlan))
	assert.ErrorIs(t, err, dataset.ErrColumnNotFound)
}

func TestRowLimitAppliesBeforeRules(t *testing.T) {
	res, err := execute(t, crimeRecords(), Options{LimitRows: 3},
		"header rownum: 1",
		"keep row: Location = 'LA'")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dataset.NumRows())
}

func TestUpstreamStagesAreUnioned(t *testing.T) {
	p := plan.New(
		&plan.Stage{ID: "a", Source: memSource{ds: crimeRecords()}, Rules: parseRules(t, "header rownum: 1")},
		&plan.Stage{ID: "b", Source: memSource{ds: crimeRecords()}, Rules: parseRules(t, "header rownum: 1")},
		&plan.Stage{ID: "c", Inputs: []string{"a", "b"}, Rules: parseRules(t, "keep row: Location = 'NY'")},
	)
	res, err := NewExecutor(&serialSession{parallelism: 1}, Options{}, nil).Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "c", res.Dataset.ID())
	assert.Equal(t, 2, res.Dataset.NumRows())
	assert.Equal(t, 3, res.RulesApplied)
}

func TestPartitionedExecutionMatchesSerial(t *testing.T) {
	const rows = 3*minPartitionRows + 17
	records := make([][]any, rows)
	for i := range records {
		records[i] = []any{fmt.Sprintf("v_%d", i%7), fmt.Sprintf("%d", i)}
	}
	ds, err := dataset.FromRecords("big", []string{"k", "n"}, records)
	require.NoError(t, err)

	rules := parseRules(t,
		"replace col: k on: '_' with: ''",
		"settype col: n type: long",
		"keep row: k = 'v3' && n >= 100")

	session, err := NewEmbedded(nil).Open(context.Background(), 4)
	require.NoError(t, err)
	defer session.Close()

	parallel, err := NewExecutor(session, Options{}, nil).Execute(context.Background(),
		plan.New(&plan.Stage{ID: "big", Source: memSource{ds: ds}, Rules: rules}))
	require.NoError(t, err)
	serial, err := NewExecutor(&serialSession{parallelism: 1}, Options{}, nil).Execute(context.Background(),
		plan.New(&plan.Stage{ID: "big", Source: memSource{ds: ds}, Rules: rules}))
	require.NoError(t, err)

	require.Equal(t, serial.Dataset.NumRows(), parallel.Dataset.NumRows())
	assert.Equal(t, column(t, serial.Dataset, "n").Values, column(t, parallel.Dataset, "n").Values)
	assert.Equal(t, int64(101), column(t, parallel.Dataset, "n").Values[0])
}

func TestExecuteStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := plan.New(&plan.Stage{ID: "crime", Source: memSource{ds: crimeRecords()}, Rules: parseRules(t, "header rownum: 1")})
	_, err := NewExecutor(&serialSession{parallelism: 1}, Options{}, nil).Execute(ctx, p)
	assert.ErrorIs(t, err, context.Canceled)
}

// cancellingSession cancels the job before handing out its partitions, so
// only the partition function itself can notice.
type cancellingSession struct {
	cancel context.CancelFunc
}

func (s *cancellingSession) Parallelism() int { return 1 }

func (s *cancellingSession) RunPartitions(ctx context.Context, n int, fn func(ctx context.Context, part int) error) error {
	s.cancel()
	for i := 0; i < n; i++ {
		if err := fn(ctx, i); err != nil {
			return err
		}
	}
	return nil
}

func (s *cancellingSession) Close() error { return nil }

func TestCancelReachesRunningPartition(t *testing.T) {
	records := make([][]any, 4*minPartitionRows)
	for i := range records {
		records[i] = []any{fmt.Sprintf("v_%d", i), fmt.Sprintf("%d", i)}
	}
	ds, err := dataset.FromRecords("big", []string{"k", "n"}, records)
	require.NoError(t, err)

	for _, r := range []string{
		"replace col: k on: '_' with: ''",
		"settype col: n type: long",
		"keep row: n = '1'",
	} {
		t.Run(r, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			p := plan.New(&plan.Stage{ID: "big", Source: memSource{ds: ds}, Rules: parseRules(t, r)})
			res, err := NewExecutor(&cancellingSession{cancel: cancel}, Options{}, nil).Execute(ctx, p)
			assert.ErrorIs(t, err, context.Canceled)
			assert.Nil(t, res)
		})
	}
}

func TestForRangeStopsEarly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	processed := 0
	err := forRange(ctx, 0, 10*cancelCheckRows, func(i int) {
		processed++
		if i == 10 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, cancelCheckRows, processed)

	processed = 0
	require.NoError(t, forRange(context.Background(), 5, 5+3*cancelCheckRows, func(int) { processed++ }))
	assert.Equal(t, 3*cancelCheckRows, processed)
}

func TestSetTypeDoubleNullsNonFinite(t *testing.T) {
	ds, err := dataset.FromRecords("x", []string{"x"}, [][]any{{"1.5"}, {"NaN"}, {"Inf"}, {"0x1p4"}, {"2e2"}})
	require.NoError(t, err)
	res, err := execute(t, ds, Options{}, "settype col: x type: double")
	require.NoError(t, err)
	assert.Equal(t, []any{1.5, nil, nil, nil, 200.0}, column(t, res.Dataset, "x").Values)
	assert.Equal(t, 3, res.CoercionFailures)
}

func TestCoerce(t *testing.T) {
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		in     any
		target dataset.Type
		format string
		want   any
		ok     bool
	}{
		{"42", dataset.TypeLong, "", int64(42), true},
		{"4.0", dataset.TypeLong, "", int64(4), true},
		{"4.5", dataset.TypeLong, "", nil, false},
		{"1_000", dataset.TypeLong, "", nil, false},
		{"  ", dataset.TypeLong, "", nil, true},
		{3.9, dataset.TypeLong, "", int64(3), true},
		{"9223372036854775807", dataset.TypeLong, "", int64(math.MaxInt64), true},
		{"9223372036854775808", dataset.TypeLong, "", nil, false},
		{"9.3e18", dataset.TypeLong, "", nil, false},
		{"-9223372036854775808", dataset.TypeLong, "", int64(math.MinInt64), true},
		{float64(1 << 63), dataset.TypeLong, "", nil, false},
		{"1e3", dataset.TypeLong, "", int64(1000), true},
		{"0x1p4", dataset.TypeLong, "", nil, false},
		{"Inf", dataset.TypeLong, "", nil, false},
		{"1.5", dataset.TypeDouble, "", 1.5, true},
		{int64(2), dataset.TypeDouble, "", 2.0, true},
		{"-2.5e-3", dataset.TypeDouble, "", -0.0025, true},
		{".5", dataset.TypeDouble, "", 0.5, true},
		{"NaN", dataset.TypeDouble, "", nil, false},
		{"nan", dataset.TypeDouble, "", nil, false},
		{"Inf", dataset.TypeDouble, "", nil, false},
		{"-infinity", dataset.TypeDouble, "", nil, false},
		{"0x1p4", dataset.TypeDouble, "", nil, false},
		{"1e400", dataset.TypeDouble, "", nil, false},
		{"1e", dataset.TypeDouble, "", nil, false},
		{"1_000.5", dataset.TypeDouble, "", nil, false},
		{math.NaN(), dataset.TypeDouble, "", nil, false},
		{math.Inf(1), dataset.TypeDouble, "", nil, false},
		{"yes", dataset.TypeBoolean, "", true, true},
		{"maybe", dataset.TypeBoolean, "", nil, false},
		{"2024-03-01", dataset.TypeTimestamp, "", ts, true},
		{"01/03/2024", dataset.TypeTimestamp, "02/01/2006", ts, true},
		{"01/03/2024", dataset.TypeTimestamp, "", nil, false},
		{int64(7), dataset.TypeString, "", "7", true},
		{nil, dataset.TypeLong, "", nil, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v to %s", tt.in, tt.target), func(t *testing.T) {
			got, ok := coerce(tt.in, tt.target, tt.format)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoercionResultMerge(t *testing.T) {
	a := CoercionResult{Cells: 10, Failures: 1}
	b := CoercionResult{Cells: 5, Failures: 2}
	assert.Equal(t, CoercionResult{Cells: 15, Failures: 3}, a.Merge(b))
}
