package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/dataprep/pkg/errors"
)

func TestRegistryDefaultsToEmbedded(t *testing.T) {
	e, err := Get("")
	require.NoError(t, err)
	assert.Equal(t, KindEmbedded, e.Kind())

	e, err = Get("embedded")
	require.NoError(t, err)
	assert.Equal(t, KindEmbedded, e.Kind())
}

func TestRegistrySparkRunsEmbedded(t *testing.T) {
	e, err := Get("spark")
	require.NoError(t, err)
	assert.Equal(t, KindEmbedded, e.Kind())
	assert.Equal(t, []string{KindEmbedded}, Kinds())
}

func TestRegistryAliases(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.RegisterAlias("FAST", KindEmbedded))
	require.NoError(t, r.Register(NewEmbedded(nil)))
	require.NoError(t, r.RegisterAlias("fast", KindEmbedded))
	assert.Error(t, r.RegisterAlias(KindEmbedded, KindEmbedded))
	assert.Error(t, r.Register(aliasedEngine{}))

	e, err := r.Get("FAST")
	require.NoError(t, err)
	assert.Equal(t, KindEmbedded, e.Kind())
}

// aliasedEngine registers under a kind that is taken by an alias.
type aliasedEngine struct{ Engine }

func (aliasedEngine) Kind() string { return "FAST" }

func TestRegistryUnknownKind(t *testing.T) {
	_, err := Get("FLINK")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "EMBEDDED")
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewEmbedded(nil)))
	assert.Error(t, r.Register(NewEmbedded(nil)))
	assert.Equal(t, []string{KindEmbedded}, r.Kinds())
}

func TestEmbeddedParallelism(t *testing.T) {
	e := NewEmbedded(nil)

	s, err := e.Open(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Parallelism())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	s, err = e.Open(context.Background(), 0)
	require.NoError(t, err)
	assert.Positive(t, s.Parallelism())

	_, err = e.Open(context.Background(), -1)
	assert.Error(t, err)
}

func TestEmbeddedRunsEveryPartition(t *testing.T) {
	s, err := NewEmbedded(nil).Open(context.Background(), 2)
	require.NoError(t, err)
	defer s.Close()

	var running, peak, done atomic.Int32
	err = s.RunPartitions(context.Background(), 10, func(ctx context.Context, part int) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		done.Add(1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(10), done.Load())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestEmbeddedCancelsRemainingPartitions(t *testing.T) {
	s, err := NewEmbedded(nil).Open(context.Background(), 1)
	require.NoError(t, err)
	defer s.Close()

	boom := errors.New(errors.ErrorTypeInternal, "boom")
	var ran atomic.Int32
	err = s.RunPartitions(context.Background(), 100, func(ctx context.Context, part int) error {
		ran.Add(1)
		if part == 0 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Less(t, ran.Load(), int32(100))
}

func TestEmbeddedHonoursContext(t *testing.T) {
	s, err := NewEmbedded(nil).Open(context.Background(), 4)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = s.RunPartitions(ctx, 4, func(ctx context.Context, part int) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClosedSessionRefusesWork(t *testing.T) {
	s, err := NewEmbedded(nil).Open(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Error(t, s.RunPartitions(context.Background(), 1, func(context.Context, int) error { return nil }))
}
