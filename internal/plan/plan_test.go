package plan

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/dataprep/pkg/config"
	"github.com/ajitpratap0/dataprep/pkg/dataset"
	"github.com/ajitpratap0/dataprep/pkg/errors"
	"github.com/ajitpratap0/dataprep/pkg/source"
)

type schemaSource struct {
	id     string
	schema []dataset.ColumnSchema
}

func (s schemaSource) Load(context.Context, string, int64) (*dataset.Dataset, error) {
	return nil, fmt.Errorf("not loaded in plan tests")
}

func (s schemaSource) String() string { return "snapshot " + s.id }

func (s schemaSource) Schema() []dataset.ColumnSchema { return s.schema }

type mapResolver map[string][]string

func (m mapResolver) Resolve(_ context.Context, id string) (source.Source, error) {
	cols, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("snapshot %s not found", id)
	}
	schema := make([]dataset.ColumnSchema, len(cols))
	for i, c := range cols {
		schema[i] = dataset.ColumnSchema{Name: c, Type: dataset.TypeString}
	}
	return schemaSource{id: id, schema: schema}, nil
}

func file(id string, rules ...string) config.DatasetInfo {
	return config.DatasetInfo{ImportType: config.ImportTypeFile, FilePath: "/data/" + id + ".csv", OrigTeddyDsID: id, RuleStrings: rules}
}

func derived(id string, rules []string, upstreams ...config.DatasetInfo) config.DatasetInfo {
	return config.DatasetInfo{ImportType: config.ImportTypeDataset, OrigTeddyDsID: id, RuleStrings: rules, UpstreamDatasetInfos: upstreams}
}

func ref(id string) config.DatasetInfo {
	return config.DatasetInfo{ImportType: config.ImportTypeDataset, OrigTeddyDsID: id}
}

func stageIDs(p *Plan) []string {
	ids := make([]string, len(p.Stages))
	for i, s := range p.Stages {
		ids[i] = s.ID
	}
	return ids
}

func TestBuildSingleFile(t *testing.T) {
	p, err := NewBuilder(nil, nil).Build(context.Background(), file("crime", "header rownum: 1", "keep row: Location = 'LA'"))
	require.NoError(t, err)

	require.Len(t, p.Stages, 1)
	root := p.Root()
	assert.Equal(t, "crime", root.ID)
	assert.IsType(t, &source.CSV{}, root.Source)
	require.Len(t, root.Rules, 2)
	assert.Nil(t, root.Columns)
}

func TestBuildOrdersUpstreamsFirst(t *testing.T) {
	root := derived("report", []string{"keep row: a = 'x'"},
		derived("clean", []string{"rename col: _c0 to: a"}, file("raw")),
		file("extra"),
	)
	p, err := NewBuilder(nil, nil).Build(context.Background(), root)
	require.NoError(t, err)

	ids := stageIDs(p)
	assert.Equal(t, "report", ids[len(ids)-1])
	assert.Less(t, indexOf(ids, "raw"), indexOf(ids, "clean"))
	assert.Equal(t, []string{"clean", "extra"}, p.Root().Inputs)
	assert.Equal(t, 1, p.Consumers("clean"))
	assert.Equal(t, 0, p.Consumers("report"))
}

func TestBuildSharedUpstreamAppearsOnce(t *testing.T) {
	raw := file("raw")
	root := derived("root", nil,
		derived("left", []string{"header rownum: 1"}, raw),
		derived("right", []string{"header rownum: 1"}, ref("raw")),
	)
	p, err := NewBuilder(nil, nil).Build(context.Background(), root)
	require.NoError(t, err)

	assert.Len(t, p.Stages, 4)
	assert.Equal(t, 2, p.Consumers("raw"))
	assert.Equal(t, "raw", p.Stages[0].ID)
}

func TestBuildDetectsCycle(t *testing.T) {
	root := derived("a", []string{"header rownum: 1"},
		derived("b", []string{"header rownum: 1"}, ref("a")))
	_, err := NewBuilder(nil, nil).Build(context.Background(), root)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypePlan), "got %v", err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestBuildSelfReference(t *testing.T) {
	_, err := NewBuilder(nil, nil).Build(context.Background(), derived("a", []string{"header rownum: 1"}, ref("a")))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypePlan))
}

func TestBuildConflictingDefinitions(t *testing.T) {
	root := derived("root", nil, file("raw", "header rownum: 1"), file("raw", "header rownum: 2"))
	_, err := NewBuilder(nil, nil).Build(context.Background(), root)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypePlan))
}

func TestBuildUnresolvableReference(t *testing.T) {
	_, err := NewBuilder(nil, nil).Build(context.Background(), derived("root", nil, ref("gone")))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypePlan))

	_, err = NewBuilder(mapResolver{}, nil).Build(context.Background(), derived("root", nil, ref("gone")))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypePlan))

	var derr *errors.Error
	require.ErrorAs(t, err, &derr)
	dsRef, _ := derr.Detail("dataset_ref")
	assert.Equal(t, "gone", dsRef)
}

func TestBuildRejectsFileWithUpstreams(t *testing.T) {
	bad := file("raw")
	bad.UpstreamDatasetInfos = []config.DatasetInfo{file("other")}
	_, err := NewBuilder(nil, nil).Build(context.Background(), bad)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypePlan))
}

func TestBuildReportsParseErrors(t *testing.T) {
	_, err := NewBuilder(nil, nil).Build(context.Background(), file("raw", "header rownum: 1", "explode col: a"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeParse))
}

func TestBuildChecksColumnsWhenSchemaKnown(t *testing.T) {
	resolver := mapResolver{"snap": {"Location", "Population"}}

	p, err := NewBuilder(resolver, nil).Build(context.Background(),
		derived("snap", []string{"rename col: Location to: city", "keep row: city = 'LA'"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"city", "Population"}, p.Root().Columns)

	_, err = NewBuilder(resolver, nil).Build(context.Background(),
		derived("snap", []string{"rename col: Location to: city", "keep row: Location = 'LA'"}))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypePlan))
	assert.ErrorIs(t, err, dataset.ErrColumnNotFound)
	assert.Contains(t, err.Error(), "rule 1 (keep)")
}

func TestBuildColumnsFlowDownstream(t *testing.T) {
	resolver := mapResolver{"snap": {"a", "b"}}
	root := derived("child", []string{"settype col: c type: long"},
		derived("parent", []string{"rename col: a to: c"}, ref("snap")))

	p, err := NewBuilder(resolver, nil).Build(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, p.Root().Columns)
}

func TestBuildDefersChecksAfterHeader(t *testing.T) {
	resolver := mapResolver{"snap": {"_c0"}}
	p, err := NewBuilder(resolver, nil).Build(context.Background(),
		derived("snap", []string{"header rownum: 1", "rename col: Location to: city"}))
	require.NoError(t, err)
	assert.Nil(t, p.Root().Columns)
}

func TestBuildRejectsMismatchedUpstreamSchemas(t *testing.T) {
	resolver := mapResolver{"a": {"x"}, "b": {"y"}}
	_, err := NewBuilder(resolver, nil).Build(context.Background(), derived("root", nil, ref("a"), ref("b")))
	require.Error(t, err)
	assert.ErrorIs(t, err, dataset.ErrSchemaMismatch)
}

func TestBuildDeepChainWithoutRecursion(t *testing.T) {
	const depth = 5000
	info := file("ds0")
	for i := 1; i < depth; i++ {
		info = derived(fmt.Sprintf("ds%d", i), nil, info)
	}
	p, err := NewBuilder(nil, nil).Build(context.Background(), info)
	require.NoError(t, err)
	require.Len(t, p.Stages, depth)
	assert.Equal(t, "ds0", p.Stages[0].ID)
	assert.Equal(t, fmt.Sprintf("ds%d", depth-1), p.Root().ID)
}

func TestNewCountsConsumers(t *testing.T) {
	p := New(&Stage{ID: "a"}, &Stage{ID: "b", Inputs: []string{"a"}}, &Stage{ID: "c", Inputs: []string{"a", "b"}})
	assert.Equal(t, 2, p.Consumers("a"))
	assert.Equal(t, 1, p.Consumers("b"))
	assert.Equal(t, "c", p.Root().ID)
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
