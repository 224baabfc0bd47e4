package snapshot

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Store persists the objects of one snapshot location.
type Store interface {
	// Begin starts writing the snapshot name under base. It fails when the
	// location already holds objects.
	Begin(ctx context.Context, base, name string) (Txn, error)
}

// Txn stages the objects of one snapshot. Nothing is visible under the
// final location before Commit; Abort removes everything staged.
type Txn interface {
	Location() string
	Put(ctx context.Context, object string, r io.Reader) error
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}

// LocalStore writes snapshots to the local file system. Objects are staged
// in a hidden sibling directory that is renamed into place on commit.
type LocalStore struct{}

// Begin implements Store.
func (LocalStore) Begin(_ context.Context, base, name string) (Txn, error) {
	base = strings.TrimPrefix(base, "file://")
	target, err := filepath.Abs(filepath.Join(base, name))
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(target); err == nil {
		return nil, fmt.Errorf("snapshot location %s already exists", target)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, err
	}
	staging, err := os.MkdirTemp(filepath.Dir(target), "."+name+".staging-")
	if err != nil {
		return nil, err
	}
	return &localTxn{target: target, staging: staging}, nil
}

type localTxn struct {
	target  string
	staging string
}

func (t *localTxn) Location() string {
	return t.target
}

func (t *localTxn) Put(_ context.Context, object string, r io.Reader) error {
	f, err := os.Create(filepath.Join(t.staging, object))
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (t *localTxn) Commit(_ context.Context) error {
	if _, err := os.Stat(t.target); err == nil {
		return fmt.Errorf("snapshot location %s already exists", t.target)
	}
	return os.Rename(t.staging, t.target)
}

func (t *localTxn) Abort(_ context.Context) error {
	return os.RemoveAll(t.staging)
}

// splitBucketURL splits scheme://bucket/prefix into bucket and prefix.
func splitBucketURL(raw, scheme string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(raw, scheme+"://")
	if !ok {
		return "", "", fmt.Errorf("stagingBaseDir %q must start with %s://", raw, scheme)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("stagingBaseDir %q has no bucket", raw)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

func objectKey(parts ...string) string {
	keep := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			keep = append(keep, p)
		}
	}
	return strings.Join(keep, "/")
}
