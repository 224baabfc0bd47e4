// Package snapshot persists prepared datasets.
//
// A snapshot is one data part plus a _SUCCESS manifest under
// <stagingBaseDir>/<ssName>. The manifest is written last and the local
// store stages everything in a hidden directory that is renamed into place,
// so a failed or cancelled write never leaves an addressable snapshot.
package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/dataprep/pkg/config"
	"github.com/ajitpratap0/dataprep/pkg/dataset"
	"github.com/ajitpratap0/dataprep/pkg/errors"
	"github.com/ajitpratap0/dataprep/pkg/metrics"
	"github.com/ajitpratap0/dataprep/pkg/observability"
)

// Result points at a written snapshot.
type Result struct {
	SnapshotID string                 `json:"snapshotId"`
	Location   string                 `json:"location"`
	RowCount   int                    `json:"rowCount"`
	Columns    []dataset.ColumnSchema `json:"columns"`
	Bytes      int64                  `json:"bytes"`
	Checksum   string                 `json:"checksum"`
}

// StoreFactory creates the store for a store type on first use.
type StoreFactory func(ctx context.Context) (Store, error)

// Writer writes snapshots to the configured stores.
type Writer struct {
	mu        sync.Mutex
	stores    map[string]Store
	factories map[string]StoreFactory
	now       func() time.Time
	logger    *zap.Logger
}

// NewWriter creates a writer with the LOCAL, S3 and GCS stores. Remote
// clients are created on first use.
func NewWriter(settings config.StorageSettings, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "snapshot_writer"))
	return &Writer{
		stores: map[string]Store{config.StoreLocal: LocalStore{}},
		factories: map[string]StoreFactory{
			config.StoreS3: func(ctx context.Context) (Store, error) {
				return NewS3Store(ctx, settings.S3Region, logger)
			},
			config.StoreGCS: func(ctx context.Context) (Store, error) {
				return NewGCSStore(ctx, settings.GCSCredentialsFile, logger)
			},
		},
		now:    time.Now,
		logger: logger,
	}
}

// WithStore replaces the store used for storeType.
func (w *Writer) WithStore(storeType string, s Store) *Writer {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stores[strings.ToUpper(storeType)] = s
	return w
}

func (w *Writer) store(ctx context.Context, storeType string) (Store, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if s, ok := w.stores[storeType]; ok {
		return s, nil
	}
	factory, ok := w.factories[storeType]
	if !ok {
		return nil, fmt.Errorf("store type %s is not supported", storeType)
	}
	s, err := factory(ctx)
	if err != nil {
		return nil, err
	}
	w.stores[storeType] = s
	return s, nil
}

// ResolveID returns the snapshot id to use: a new UUID when requested is
// empty, otherwise requested once it is validated as a UUID.
func ResolveID(requested string) (string, error) {
	if requested == "" {
		return uuid.NewString(), nil
	}
	id, err := uuid.Parse(requested)
	if err != nil {
		return "", fmt.Errorf("ssId %q is not a valid UUID: %w", requested, err)
	}
	return id.String(), nil
}

// Write persists ds as described by info. On error nothing is left at the
// snapshot location. A done context aborts the write and its error is
// returned unwrapped.
func (w *Writer) Write(ctx context.Context, ds *dataset.Dataset, info config.SnapshotInfo) (res *Result, err error) {
	location := info.StagingBaseDir + "/" + info.SsName
	ctx, span := observability.StartSpan(ctx, "snapshot.write",
		attribute.String("location", location),
		attribute.String("format", info.Format))
	defer func() { span.End(err) }()
	timer := metrics.NewTimer("snapshot")
	defer timer.Stop()

	id, err := ResolveID(info.SsID)
	if err != nil {
		return nil, errors.NewSnapshotWriteError(location, err)
	}
	format, err := ParseFormat(info.Format)
	if err != nil {
		return nil, errors.NewSnapshotWriteError(location, err)
	}
	enc, err := newEncoding(format, info.Compression)
	if err != nil {
		return nil, errors.NewSnapshotWriteError(location, err)
	}
	store, err := w.store(ctx, strings.ToUpper(info.SsType))
	if err != nil {
		return nil, errors.NewSnapshotWriteError(location, err)
	}

	txn, err := store.Begin(ctx, info.StagingBaseDir, info.SsName)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewSnapshotWriteError(location, err)
	}
	location = txn.Location()

	committed := false
	defer func() {
		if committed {
			return
		}
		if aerr := txn.Abort(context.WithoutCancel(ctx)); aerr != nil {
			w.logger.Warn("failed to clean up partial snapshot", zap.String("location", location), zap.Error(aerr))
		}
	}()

	fail := func(err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.NewSnapshotWriteError(location, err)
	}

	part := enc.partName()
	size, checksum, err := w.putPart(ctx, txn, part, enc, ds)
	if err != nil {
		return nil, fail(err)
	}

	manifest := Manifest{
		SnapshotID:  id,
		Name:        info.SsName,
		Location:    location,
		Part:        part,
		Format:      format,
		Compression: enc.codec,
		RowCount:    ds.NumRows(),
		Columns:     ds.Schema(),
		Bytes:       size,
		Checksum:    checksum,
		CreatedAt:   w.now().UTC(),
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fail(err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := txn.Put(ctx, ManifestName, bytes.NewReader(data)); err != nil {
		return nil, fail(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := txn.Commit(ctx); err != nil {
		return nil, fail(err)
	}
	committed = true

	metrics.SnapshotBytes.Set(float64(size))
	w.logger.Info("snapshot written",
		zap.String("snapshot_id", id),
		zap.String("location", location),
		zap.Int("rows", ds.NumRows()),
		zap.Int64("bytes", size),
		zap.String("format", string(format)),
		zap.String("compression", enc.codec))

	return &Result{
		SnapshotID: id,
		Location:   location,
		RowCount:   ds.NumRows(),
		Columns:    ds.Schema(),
		Bytes:      size,
		Checksum:   checksum,
	}, nil
}

// putPart streams the encoded dataset into the transaction, measuring and
// hashing the stored bytes.
func (w *Writer) putPart(ctx context.Context, txn Txn, part string, enc *encoding, ds *dataset.Dataset) (int64, string, error) {
	pr, pw := io.Pipe()
	hasher := xxh3.New()
	counter := &countingWriter{w: io.MultiWriter(pw, hasher)}

	encoded := make(chan error, 1)
	go func() {
		err := enc.encode(counter, ds)
		pw.CloseWithError(err)
		encoded <- err
	}()

	putErr := txn.Put(ctx, part, pr)
	if putErr != nil {
		pr.CloseWithError(putErr)
	}
	encErr := <-encoded
	if putErr != nil {
		return 0, "", putErr
	}
	if encErr != nil {
		return 0, "", fmt.Errorf("failed to encode %s: %w", part, encErr)
	}
	return counter.n, strconv.FormatUint(hasher.Sum64(), 16), nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
