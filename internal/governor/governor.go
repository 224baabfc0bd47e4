// Package governor bounds plan execution by row count, parallelism and
// wall-clock time.
//
// The three guards are independent. The row cap is enforced by the
// executor when sources are loaded; the governor acquires an engine
// session sized by the core request and bounds the work by the timeout.
package governor

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/dataprep/internal/engine"
	"github.com/ajitpratap0/dataprep/pkg/config"
	"github.com/ajitpratap0/dataprep/pkg/errors"
	"github.com/ajitpratap0/dataprep/pkg/logger"
)

// Limits are the resource bounds of one job.
type Limits struct {
	// LimitRows caps every source (0 = unlimited)
	LimitRows int64
	// Cores is the requested parallelism (0 = engine default)
	Cores int
	// Timeout bounds the whole run (0 = unbounded)
	Timeout time.Duration
}

// LimitsFrom converts job properties to limits.
func LimitsFrom(p config.PrepProperties) Limits {
	return Limits{LimitRows: p.LimitRows, Cores: p.Cores, Timeout: p.Timeout()}
}

// Governor runs work on engine sessions within limits.
type Governor struct {
	engine engine.Engine
	grace  time.Duration
	logger *zap.Logger
}

// DefaultGrace is how long Run waits for cancelled work to return.
const DefaultGrace = 5 * time.Second

// New creates a governor for e.
func New(e engine.Engine, logger *zap.Logger) *Governor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Governor{engine: e, grace: DefaultGrace, logger: logger.With(zap.String("component", "governor"))}
}

// WithGrace sets how long Run waits for work to stop after cancellation.
func (g *Governor) WithGrace(grace time.Duration) *Governor {
	g.grace = grace
	return g
}

// Run opens a session, calls fn with it and closes the session on every
// exit path. fn receives a context that is cancelled when the timeout
// expires, after which Run waits up to the grace period for fn to return
// and reports a TimeoutError. fn must not publish anything once its
// context is done.
func (g *Governor) Run(ctx context.Context, limits Limits, fn func(ctx context.Context, session engine.Session) error) error {
	if limits.LimitRows < 0 || limits.Cores < 0 || limits.Timeout < 0 {
		return errors.Newf(errors.ErrorTypeConfig, "invalid limits: rows=%d cores=%d timeout=%s",
			limits.LimitRows, limits.Cores, limits.Timeout)
	}
	log := g.logger.With(logger.Fields(ctx)...)

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if limits.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, limits.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	session, err := g.engine.Open(runCtx, limits.Cores)
	if err != nil {
		return classify(log, ctx, runCtx, limits, err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			log.Warn("failed to close engine session", zap.Error(cerr))
		}
	}()

	log.Debug("running within limits",
		zap.Int64("limit_rows", limits.LimitRows),
		zap.Int("cores", limits.Cores),
		zap.Int("parallelism", session.Parallelism()),
		zap.Duration("timeout", limits.Timeout))

	done := make(chan error, 1)
	go func() {
		done <- fn(runCtx, session)
	}()

	select {
	case err = <-done:
	case <-runCtx.Done():
		err = g.drain(log, done, runCtx.Err())
	}
	if err != nil {
		return classify(log, ctx, runCtx, limits, err)
	}
	return nil
}

// drain gives fn a grace period to observe cancellation. A run that still
// completes successfully has already published its output and is reported
// as such.
func (g *Governor) drain(log *zap.Logger, done <-chan error, cause error) error {
	timer := time.NewTimer(g.grace)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		log.Warn("work did not stop within grace period", zap.Duration("grace", g.grace))
		return cause
	}
}

// classify maps context errors caused by the guards to job errors and
// passes every other error through.
func classify(log *zap.Logger, parent, runCtx context.Context, limits Limits, err error) error {
	switch {
	case parent.Err() != nil && (stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) || runCtx.Err() != nil):
		return errors.Wrap(parent.Err(), errors.ErrorTypeCancelled, "job cancelled")
	case stderrors.Is(runCtx.Err(), context.DeadlineExceeded):
		log.Warn("job timed out", zap.Duration("timeout", limits.Timeout))
		return errors.NewTimeoutError(limits.Timeout, err)
	default:
		return err
	}
}
