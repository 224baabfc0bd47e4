package engine

import (
	"context"
	"runtime"
	"sync/atomic"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/dataprep/pkg/errors"
)

// Embedded runs partitions on a bounded goroutine pool inside the process.
type Embedded struct {
	logger *zap.Logger
}

// NewEmbedded creates the embedded engine.
func NewEmbedded(logger *zap.Logger) *Embedded {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Embedded{logger: logger.With(zap.String("component", "embedded_engine"))}
}

// Kind implements Engine.
func (e *Embedded) Kind() string {
	return KindEmbedded
}

// Open implements Engine. Without a request the session uses one worker
// per logical CPU.
func (e *Embedded) Open(ctx context.Context, cores int) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCancelled, "engine session not opened")
	}
	if cores < 0 {
		return nil, errors.Newf(errors.ErrorTypeConfig, "cores cannot be negative: %d", cores)
	}

	parallelism := cores
	if parallelism == 0 {
		parallelism = defaultParallelism()
	}

	fields := []zap.Field{zap.Int("parallelism", parallelism), zap.Int("requested_cores", cores)}
	if vm, err := mem.VirtualMemory(); err == nil {
		fields = append(fields, zap.Uint64("available_memory_mb", vm.Available/1024/1024))
	}
	e.logger.Info("engine session opened", fields...)

	return &embeddedSession{parallelism: parallelism, logger: e.logger}, nil
}

func defaultParallelism() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

type embeddedSession struct {
	parallelism int
	closed      atomic.Bool
	logger      *zap.Logger
}

func (s *embeddedSession) Parallelism() int {
	return s.parallelism
}

func (s *embeddedSession) RunPartitions(ctx context.Context, n int, fn func(ctx context.Context, part int) error) error {
	if s.closed.Load() {
		return errors.New(errors.ErrorTypeInternal, "engine session is closed")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for part := 0; part < n; part++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, part)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *embeddedSession) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.logger.Debug("engine session closed")
	}
	return nil
}
