// Package engine is the parallel substrate rule execution runs on.
//
// An Engine hands out one Session per job. The session is the only process
// wide resource a job holds: it is opened by the governor, passed
// explicitly to the executor and closed on every exit path.
package engine

import (
	"context"
)

// Engine kinds
const (
	// KindEmbedded is the in-process goroutine engine.
	KindEmbedded = "EMBEDDED"
	// KindSpark is accepted from cluster job payloads and resolves to the
	// embedded engine.
	KindSpark = "SPARK"
)

// Engine opens execution sessions.
type Engine interface {
	// Kind returns the name the engine is registered under.
	Kind() string
	// Open acquires a session with the requested parallelism. cores 0 lets
	// the engine choose.
	Open(ctx context.Context, cores int) (Session, error)
}

// Session runs partitioned work for one job.
type Session interface {
	// Parallelism returns the number of partitions processed at once.
	Parallelism() int
	// RunPartitions calls fn for every partition in [0, n) and waits for all
	// of them. The first error cancels the context passed to the remaining
	// partitions and is returned.
	RunPartitions(ctx context.Context, n int, fn func(ctx context.Context, part int) error) error
	// Close releases the session. It is safe to call more than once.
	Close() error
}
