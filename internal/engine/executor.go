package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/dataprep/internal/plan"
	"github.com/ajitpratap0/dataprep/pkg/dataset"
	"github.com/ajitpratap0/dataprep/pkg/errors"
	"github.com/ajitpratap0/dataprep/pkg/logger"
	"github.com/ajitpratap0/dataprep/pkg/metrics"
	"github.com/ajitpratap0/dataprep/pkg/observability"
	"github.com/ajitpratap0/dataprep/pkg/rule"
)

// minPartitionRows keeps tiny datasets in a single partition.
const minPartitionRows = 4096

// Options tune plan execution.
type Options struct {
	// LimitRows truncates every loaded source to its first LimitRows rows (0 = all).
	LimitRows int64
	// CoercionFailureLimit fails the job once settype nulled more cells
	// than this across the whole plan (0 = no limit).
	CoercionFailureLimit int
}

// Result is the outcome of a plan execution.
type Result struct {
	Dataset          *dataset.Dataset
	CoercionFailures int
	RulesApplied     int
}

// Executor applies plans on a session.
type Executor struct {
	session Session
	opts    Options
	logger  *zap.Logger
}

// NewExecutor creates an executor bound to session.
func NewExecutor(session Session, opts Options, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		session: session,
		opts:    opts,
		logger:  logger.With(zap.String("component", "executor")),
	}
}

// Execute materializes every stage of p in order and returns the root
// dataset. Upstream results are dropped as soon as their last consumer has
// read them.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan) (*Result, error) {
	results := make(map[string]*dataset.Dataset)
	pending := make(map[string]int)
	res := &Result{}

	for _, stage := range p.Stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ctx := logger.ContextWithStage(ctx, stage.ID)

		input, err := e.input(ctx, stage, results)
		if err != nil {
			return nil, err
		}
		for _, in := range stage.Inputs {
			pending[in]--
			if pending[in] <= 0 {
				delete(results, in)
			}
		}

		out, err := e.runStage(ctx, stage, input, res)
		if err != nil {
			return nil, err
		}
		results[stage.ID] = out
		pending[stage.ID] = p.Consumers(stage.ID)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res.Dataset = results[p.Root().ID]
	metrics.RowsProcessed.WithLabelValues("output").Add(float64(res.Dataset.NumRows()))
	return res, nil
}

func (e *Executor) input(ctx context.Context, stage *plan.Stage, results map[string]*dataset.Dataset) (*dataset.Dataset, error) {
	if stage.Source != nil {
		ds, err := stage.Source.Load(ctx, stage.ID, e.opts.LimitRows)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if e.opts.LimitRows > 0 && int64(ds.NumRows()) > e.opts.LimitRows {
			ds = ds.Head(int(e.opts.LimitRows))
		}
		metrics.RowsProcessed.WithLabelValues("source").Add(float64(ds.NumRows()))
		e.logger.With(logger.Fields(ctx)...).Debug("source loaded",
			zap.Stringer("source", stage.Source),
			zap.Int("rows", ds.NumRows()),
			zap.Int("columns", ds.NumColumns()))
		return ds, nil
	}

	parts := make([]*dataset.Dataset, len(stage.Inputs))
	for i, in := range stage.Inputs {
		parts[i] = results[in]
		if parts[i] == nil {
			return nil, errors.NewPlanError(stage.ID, fmt.Errorf("upstream %s was not materialized", in))
		}
	}
	ds, err := dataset.Concat(stage.ID, parts...)
	if err != nil {
		return nil, errors.NewPlanError(stage.ID, err)
	}
	return ds, nil
}

func (e *Executor) runStage(ctx context.Context, stage *plan.Stage, ds *dataset.Dataset, res *Result) (*dataset.Dataset, error) {
	ctx, span := observability.StartSpan(ctx, "stage",
		attribute.String("dataset", stage.ID),
		attribute.Int("rules", len(stage.Rules)))

	run := &stageRunner{
		ctx:   ctx,
		exec:  e,
		stage: stage.ID,
		ds:    ds,
	}
	for i, r := range stage.Rules {
		if err := ctx.Err(); err != nil {
			span.End(err)
			return nil, err
		}
		run.index = i
		if err := e.applyRule(ctx, run, r); err != nil {
			span.End(err)
			return nil, err
		}
		res.RulesApplied++

		if run.failures > 0 {
			res.CoercionFailures += run.failures
			metrics.CoercionFailures.Add(float64(run.failures))
			run.failures = 0
			if limit := e.opts.CoercionFailureLimit; limit > 0 && res.CoercionFailures > limit {
				err := errors.NewTypeCoercionError(res.CoercionFailures, limit)
				span.End(err)
				return nil, err
			}
		}
	}

	if err := ctx.Err(); err != nil {
		span.End(err)
		return nil, err
	}
	span.SetAttribute("rows", run.ds.NumRows())
	span.End(nil)
	e.logger.With(logger.Fields(ctx)...).Debug("stage materialized",
		zap.Int("rows", run.ds.NumRows()),
		zap.Strings("columns", run.ds.ColumnNames()))
	return run.ds, nil
}

func (e *Executor) applyRule(ctx context.Context, run *stageRunner, r rule.Rule) error {
	ctx, span := observability.StartSpan(ctx, "rule."+string(r.Verb()),
		attribute.String("dataset", run.stage),
		attribute.Int("rule_index", run.index))
	run.ctx = ctx
	err := r.Accept(run)
	span.End(err)
	if err != nil {
		return err
	}
	metrics.RulesApplied.WithLabelValues(string(r.Verb())).Inc()
	return nil
}

// partitions splits rows into contiguous ranges for the session. Each range
// is processed by one partition, so writes to disjoint slices need no locking.
func (e *Executor) partitions(rows int) [][2]int {
	n := e.session.Parallelism()
	if limit := (rows + minPartitionRows - 1) / minPartitionRows; limit < n {
		n = limit
	}
	if n < 1 {
		return [][2]int{{0, rows}}
	}
	size := (rows + n - 1) / n
	ranges := make([][2]int, 0, n)
	for lo := 0; lo < rows; lo += size {
		ranges = append(ranges, [2]int{lo, min(lo+size, rows)})
	}
	return ranges
}

// runRows calls fn once per row partition on the session.
func (e *Executor) runRows(ctx context.Context, rows int, fn func(ctx context.Context, lo, hi int) error) error {
	ranges := e.partitions(rows)
	return e.session.RunPartitions(ctx, len(ranges), func(ctx context.Context, part int) error {
		return fn(ctx, ranges[part][0], ranges[part][1])
	})
}

// cancelCheckRows is how many rows a partition processes between context checks.
const cancelCheckRows = 1024

// forRange calls fn for every row in [lo, hi) and stops early once ctx is done.
func forRange(ctx context.Context, lo, hi int, fn func(i int)) error {
	for i := lo; i < hi; i++ {
		if (i-lo)%cancelCheckRows == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		fn(i)
	}
	return ctx.Err()
}
