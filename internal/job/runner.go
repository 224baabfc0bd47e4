// Package job runs one data preparation job end to end.
//
// A run builds the plan, executes it and writes the snapshot inside the
// governor's limits, then reports the outcome through the callback. Every
// run produces exactly one report, whatever happened before it.
package job

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/dataprep/internal/engine"
	"github.com/ajitpratap0/dataprep/internal/governor"
	"github.com/ajitpratap0/dataprep/internal/plan"
	"github.com/ajitpratap0/dataprep/pkg/callback"
	"github.com/ajitpratap0/dataprep/pkg/config"
	"github.com/ajitpratap0/dataprep/pkg/errors"
	"github.com/ajitpratap0/dataprep/pkg/logger"
	"github.com/ajitpratap0/dataprep/pkg/metrics"
	"github.com/ajitpratap0/dataprep/pkg/observability"
	"github.com/ajitpratap0/dataprep/pkg/snapshot"
)

// Notifier delivers the job report.
type Notifier interface {
	Notify(ctx context.Context, info config.CallbackInfo, report callback.Report) error
}

// Config wires a runner.
type Config struct {
	// Engine overrides the engine named by snapshotInfo.engine
	Engine engine.Engine
	// Resolver overrides the snapshot catalog under stagingBaseDir
	Resolver plan.Resolver
	Writer   *snapshot.Writer
	Notifier Notifier
	// CoercionFailureLimit is passed to the executor (0 = no limit)
	CoercionFailureLimit int
	// Grace is how long a timed out run may take to stop (0 = governor default)
	Grace  time.Duration
	Logger *zap.Logger
}

// Result is the outcome of one run.
type Result struct {
	Status           string
	SnapshotID       string
	Snapshot         *snapshot.Result
	CoercionFailures int
	RulesApplied     int
	// Err is the fatal error of a failed run
	Err error
	// CallbackErr is set when the report could not be delivered
	CallbackErr error
	Duration    time.Duration
}

// Runner runs jobs.
type Runner struct {
	cfg    Config
	logger *zap.Logger
}

// NewRunner creates a runner.
func NewRunner(cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Writer == nil {
		cfg.Writer = snapshot.NewWriter(config.StorageSettings{}, cfg.Logger)
	}
	return &Runner{cfg: cfg, logger: cfg.Logger.With(zap.String("component", "job_runner"))}
}

// Run executes the job described by p and reports its outcome.
func (r *Runner) Run(ctx context.Context, p *config.Payloads) *Result {
	start := time.Now()
	res := &Result{}

	id, err := snapshot.ResolveID(p.SnapshotInfo.SsID)
	if err != nil {
		err = errors.Wrap(err, errors.ErrorTypeConfig, "invalid snapshotInfo")
	} else {
		res.SnapshotID = id
		info := p.SnapshotInfo
		info.SsID = id

		ctx = logger.ContextWithJob(ctx, id, p.DatasetInfo.OrigTeddyDsID)
		var span *observability.Span
		ctx, span = observability.StartSpan(ctx, "job",
			attribute.String("snapshot_id", id),
			attribute.String("dataset", p.DatasetInfo.OrigTeddyDsID))
		err = r.run(ctx, p, info, res)
		span.End(err)
	}

	log := r.logger.With(logger.Fields(ctx)...)
	var report callback.Report
	if err != nil {
		res.Status = callback.StatusFailure
		res.Err = err
		report = callback.Failure(res.SnapshotID, err)
		log.Error("job failed", zap.String("error_kind", report.Error), zap.Error(err))
		metrics.JobsTotal.WithLabelValues(callback.StatusFailure, report.Error).Inc()
	} else {
		res.Status = callback.StatusSuccess
		report = callback.Success(res.Snapshot, res.CoercionFailures)
		log.Info("job succeeded",
			zap.String("location", res.Snapshot.Location),
			zap.Int("rows", res.Snapshot.RowCount),
			zap.Int("coercion_failures", res.CoercionFailures))
		metrics.JobsTotal.WithLabelValues(callback.StatusSuccess, "").Inc()
	}

	if r.cfg.Notifier != nil {
		res.CallbackErr = r.cfg.Notifier.Notify(context.WithoutCancel(ctx), p.CallbackInfo, report)
	}
	res.Duration = time.Since(start)
	return res
}

func (r *Runner) run(ctx context.Context, p *config.Payloads, info config.SnapshotInfo, res *Result) error {
	resolver := r.cfg.Resolver
	if resolver == nil {
		resolver = &snapshot.Catalog{BaseDir: info.StagingBaseDir}
	}

	timer := metrics.NewTimer("plan")
	pl, err := plan.NewBuilder(resolver, r.cfg.Logger).Build(ctx, p.DatasetInfo)
	timer.Stop()
	if err != nil {
		return err
	}

	eng := r.cfg.Engine
	if eng == nil {
		if eng, err = engine.Get(info.Engine); err != nil {
			return err
		}
	}

	gov := governor.New(eng, r.cfg.Logger)
	if r.cfg.Grace > 0 {
		gov = gov.WithGrace(r.cfg.Grace)
	}
	limits := governor.LimitsFrom(p.PrepProperties)

	var (
		out  *engine.Result
		snap *snapshot.Result
	)
	err = gov.Run(ctx, limits, func(ctx context.Context, session engine.Session) error {
		timer := metrics.NewTimer("execute")
		exec := engine.NewExecutor(session, engine.Options{
			LimitRows:            limits.LimitRows,
			CoercionFailureLimit: r.cfg.CoercionFailureLimit,
		}, r.cfg.Logger)
		result, err := exec.Execute(ctx, pl)
		timer.Stop()
		if err != nil {
			return err
		}

		written, err := r.cfg.Writer.Write(ctx, result.Dataset, info)
		if err != nil {
			return err
		}
		out, snap = result, written
		return nil
	})
	if err != nil {
		return err
	}

	res.Snapshot = snap
	res.CoercionFailures = out.CoercionFailures
	res.RulesApplied = out.RulesApplied
	return nil
}
