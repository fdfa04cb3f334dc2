package storehouse

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize is the read size ReadAll uses when none is given.
const DefaultChunkSize = 1 << 20

// ReadAll reads an entire handle in chunk-sized range reads, retrying chunks
// that fail with ErrTransient under DefaultBackoff.
// A non-positive chunk uses DefaultChunkSize.
func ReadAll(ctx context.Context, f RandomReadFile, chunk int64) ([]byte, error) {
	return ReadAllWithBackoff(ctx, f, chunk, DefaultBackoff())
}

// ReadAllWithBackoff is ReadAll with transient chunk failures retried under b.
func ReadAllWithBackoff(ctx context.Context, f RandomReadFile, chunk int64, b Backoff) ([]byte, error) {
	if f == nil {
		return nil, errors.New("storehouse: handle is required")
	}
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}

	size, err := f.Size(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, size)
	for pos := int64(0); pos < size; {
		length := min(chunk, size-pos)
		data, err := retryTransient(ctx, b, fmt.Sprintf("range %d+%d", pos, length), func() ([]byte, error) {
			return f.ReadRange(ctx, pos, length)
		})
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("storehouse: empty read at offset %d of %d: %w", pos, size, ErrReadFailure)
		}
		out = append(out, data...)
		pos += int64(len(data))
	}
	return out, nil
}

// ReadFile returns the full contents of the named object.
func ReadFile(ctx context.Context, backend Backend, name string) ([]byte, error) {
	r, err := Open(ctx, backend, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	return r.ReadChunk(ReadToEnd())
}

// WriteFile stores data under name, replacing any previous object.
func WriteFile(ctx context.Context, store Store, name string, data []byte) error {
	return store.Put(ctx, name, bytes.NewReader(data))
}

// ReadFiles reads several objects concurrently, each through its own Reader.
// Results are returned in the order of names. At most limit reads run at
// once; a non-positive limit means no bound. The first error cancels the rest.
func ReadFiles(ctx context.Context, backend Backend, names []string, limit int) ([][]byte, error) {
	results := make([][]byte, len(names))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, name := range names {
		g.Go(func() error {
			data, err := ReadFile(gctx, backend, name)
			if err != nil {
				return fmt.Errorf("storehouse: read %s: %w", name, err)
			}
			results[i] = data
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
