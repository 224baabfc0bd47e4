// Package plan turns a dataset dependency graph and its rule strings into an
// ordered execution plan.
//
// Datasets are kept in a node table keyed by origin ID and ordered with
// Kahn's algorithm, so deep upstream chains never grow the call stack. Rule
// strings are parsed while planning: a malformed rule fails the job before
// any data is read.
package plan

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/ajitpratap0/dataprep/pkg/config"
	"github.com/ajitpratap0/dataprep/pkg/errors"
	"github.com/ajitpratap0/dataprep/pkg/rule"
	"github.com/ajitpratap0/dataprep/pkg/source"
)

// Resolver looks up datasets that are referenced by ID but not defined in
// the job, such as snapshots written by earlier jobs.
type Resolver interface {
	Resolve(ctx context.Context, id string) (source.Source, error)
}

// Stage materializes one dataset: it loads Source, or concatenates the
// results of Inputs, then applies Rules in order.
type Stage struct {
	ID     string
	Source source.Source
	Inputs []string
	Rules  []rule.Rule
	// Columns holds the output column names when they are statically known.
	Columns []string
}

// Plan is a topologically ordered list of stages. Every stage appears after
// all of its inputs; the last stage produces the job result.
type Plan struct {
	Stages    []*Stage
	consumers map[string]int
}

// New assembles a plan from stages that are already in dependency order.
func New(stages ...*Stage) *Plan {
	p := &Plan{Stages: stages, consumers: make(map[string]int)}
	for _, s := range stages {
		for _, in := range s.Inputs {
			p.consumers[in]++
		}
	}
	return p
}

// Root returns the stage producing the job result.
func (p *Plan) Root() *Stage {
	return p.Stages[len(p.Stages)-1]
}

// Consumers returns how many stages read the result of stage id.
func (p *Plan) Consumers(id string) int {
	return p.consumers[id]
}

// Builder builds plans.
type Builder struct {
	resolver  Resolver
	newSource func(config.DatasetInfo) (source.Source, error)
	logger    *zap.Logger
}

// NewBuilder creates a builder. resolver may be nil when no dataset
// references are expected.
func NewBuilder(resolver Resolver, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		resolver:  resolver,
		newSource: source.ForDataset,
		logger:    logger.With(zap.String("component", "plan_builder")),
	}
}

type node struct {
	info    config.DatasetInfo
	defined bool
	inputs  []string
}

// Build plans the dataset graph rooted at root.
func (b *Builder) Build(ctx context.Context, root config.DatasetInfo) (*Plan, error) {
	nodes, order, err := b.collect(root)
	if err != nil {
		return nil, err
	}

	sorted, err := topoSort(nodes, order)
	if err != nil {
		return nil, err
	}

	stages := make([]*Stage, 0, len(sorted))
	columns := make(map[string][]string)
	for _, id := range sorted {
		n := nodes[id]
		stage, err := b.stage(ctx, id, n)
		if err != nil {
			return nil, err
		}
		if err := trackColumns(stage, columns); err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	p := New(stages...)

	b.logger.Debug("plan built",
		zap.String("root", root.OrigTeddyDsID),
		zap.Int("stages", len(p.Stages)))
	return p, nil
}

// collect walks the DatasetInfo tree without recursion and fills the node
// table. A dataset may be defined once and referenced any number of times.
func (b *Builder) collect(root config.DatasetInfo) (map[string]*node, []string, error) {
	nodes := make(map[string]*node)
	var order []string

	stack := []config.DatasetInfo{root}
	for len(stack) > 0 {
		info := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		id := info.OrigTeddyDsID
		n, seen := nodes[id]
		if !seen {
			n = &node{}
			nodes[id] = n
			order = append(order, id)
		}
		if info.IsReference() {
			if !n.defined {
				n.info = info
			}
			continue
		}
		if n.defined {
			if !reflect.DeepEqual(n.info, info) {
				return nil, nil, errors.NewPlanError(id, fmt.Errorf("conflicting definitions of dataset %s", id))
			}
			continue
		}
		n.info = info
		n.defined = true
		n.inputs = nil
		for i := len(info.UpstreamDatasetInfos) - 1; i >= 0; i-- {
			stack = append(stack, info.UpstreamDatasetInfos[i])
		}
		for _, up := range info.UpstreamDatasetInfos {
			n.inputs = append(n.inputs, up.OrigTeddyDsID)
		}
	}
	return nodes, order, nil
}

// topoSort orders the nodes with Kahn's algorithm. Ties keep discovery
// order, which makes plans deterministic.
func topoSort(nodes map[string]*node, order []string) ([]string, error) {
	pending := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for _, id := range order {
		n := nodes[id]
		pending[id] = len(n.inputs)
		for _, in := range n.inputs {
			dependents[in] = append(dependents[in], id)
		}
	}

	var queue []string
	for i := len(order) - 1; i >= 0; i-- {
		if pending[order[i]] == 0 {
			queue = append(queue, order[i])
		}
	}

	sorted := make([]string, 0, len(nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, id)
		for _, dep := range dependents[id] {
			pending[dep]--
			if pending[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(sorted) != len(nodes) {
		for _, id := range order {
			if pending[id] > 0 {
				return nil, errors.NewPlanError(id, fmt.Errorf("dependency cycle through dataset %s", id))
			}
		}
	}
	return sorted, nil
}

func (b *Builder) stage(ctx context.Context, id string, n *node) (*Stage, error) {
	info := n.info
	stage := &Stage{ID: id, Inputs: n.inputs}

	switch {
	case len(n.inputs) > 0 && info.ImportType != config.ImportTypeDataset:
		return nil, errors.NewPlanError(id, fmt.Errorf("importType %s cannot have upstream datasets", info.ImportType))
	case len(n.inputs) > 0:
	case info.ImportType == config.ImportTypeDataset:
		if b.resolver == nil {
			return nil, errors.NewPlanError(id, fmt.Errorf("dataset %s is not defined in the job and no resolver is configured", id))
		}
		src, err := b.resolver.Resolve(ctx, id)
		if err != nil {
			return nil, errors.NewPlanError(id, err)
		}
		stage.Source = src
	default:
		src, err := b.newSource(info)
		if err != nil {
			return nil, errors.NewPlanError(id, err)
		}
		stage.Source = src
	}

	rules, err := rule.ParseAll(info.RuleStrings)
	if err != nil {
		return nil, err
	}
	stage.Rules = rules
	return stage, nil
}
