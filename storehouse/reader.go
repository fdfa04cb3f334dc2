package storehouse

import (
	"context"
	"errors"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
)

// -----------------------------------------------------------------------------
// Read requests
// -----------------------------------------------------------------------------

// ReadRequest selects how many bytes ReadChunk returns.
//
// Construct with ReadN or ReadToEnd. The zero value reads to the end.
type ReadRequest struct {
	n     int64
	toEnd bool
}

// ReadN requests up to n bytes from the cursor.
// A non-positive n is the same as ReadToEnd.
func ReadN(n int64) ReadRequest {
	if n <= 0 {
		return ReadToEnd()
	}
	return ReadRequest{n: n}
}

// ReadToEnd requests every byte between the cursor and the end of the object.
func ReadToEnd() ReadRequest {
	return ReadRequest{toEnd: true}
}

// ToEnd reports whether the request reads through the end of the object.
func (q ReadRequest) ToEnd() bool {
	return q.toEnd || q.n <= 0
}

// N returns the requested byte count, or 0 for a read-to-end request.
func (q ReadRequest) N() int64 {
	if q.ToEnd() {
		return 0
	}
	return q.n
}

func (q ReadRequest) String() string {
	if q.ToEnd() {
		return "to-end"
	}
	return fmt.Sprintf("%d bytes", q.n)
}

// -----------------------------------------------------------------------------
// Reader
// -----------------------------------------------------------------------------

// Reader exposes one stored object as a read-only, seekable file.
//
// The object size is fetched once at Open and treated as immutable. Reads are
// clamped to the end of the object instead of failing. Once closed, every
// operation except Close, Tell and the unsupported write/line operations fails
// with ErrClosed.
//
// Reader is not safe for concurrent use. Concurrent consumers of the same
// object should each Open their own Reader.
type Reader struct {
	ctx    context.Context
	name   string
	handle RandomReadFile // nil once closed
	size   int64
	cursor int64
}

var (
	_ io.ReadSeekCloser = (*Reader)(nil)
	_ io.ReaderAt       = (*Reader)(nil)
)

// Open resolves name through the backend and returns a Reader positioned at 0.
//
// Backend failures, including ErrNotFound, are returned unchanged.
// The context is retained and used for every backend call the Reader makes.
func Open(ctx context.Context, backend Backend, name string) (*Reader, error) {
	if backend == nil {
		return nil, errors.New("storehouse: backend is required")
	}

	logger := log.WithFields(log.Fields{
		"package":  "storehouse",
		"struct":   "Reader",
		"function": "Open",
	})

	handle, err := backend.OpenRandomRead(ctx, name)
	if err != nil {
		return nil, err
	}

	size, err := handle.Size(ctx)
	if err != nil {
		if closeErr := handle.Close(); closeErr != nil {
			logger.WithError(closeErr).Errorf("failed to release handle for %s", name)
		}
		return nil, err
	}

	logger.Debugf("opened %s, size %d", name, size)

	return &Reader{
		ctx:    ctx,
		name:   name,
		handle: handle,
		size:   size,
	}, nil
}

// Name returns the name the Reader was opened with.
func (r *Reader) Name() string {
	return r.name
}

// Size returns the object size captured at Open.
func (r *Reader) Size() int64 {
	return r.size
}

// Tell returns the current cursor.
// It performs no closed-state check and keeps working after Close.
func (r *Reader) Tell() int64 {
	return r.cursor
}

// Closed reports whether Close has been called.
func (r *Reader) Closed() bool {
	return r.handle == nil
}

// ReadChunk reads according to req and advances the cursor by the number of
// bytes returned.
//
// A request running past the end of the object is clamped; at or beyond the
// end the result is empty. Reading while the cursor is negative (possible
// after a permissive Seek) fails with ErrInvalidArgument.
func (r *Reader) ReadChunk(req ReadRequest) ([]byte, error) {
	if r.handle == nil {
		return nil, ErrClosed
	}

	length, err := r.effectiveLength(req)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}

	log.WithFields(log.Fields{
		"package":  "storehouse",
		"struct":   "Reader",
		"function": "ReadChunk",
	}).Debugf("reading %s, offset %d, length %d (requested %s)", r.name, r.cursor, length, req)

	data, err := r.handle.ReadRange(r.ctx, r.cursor, length)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != length {
		return nil, fmt.Errorf("storehouse: expected %d bytes from %s at offset %d, got %d: %w",
			length, r.name, r.cursor, len(data), ErrReadFailure)
	}

	r.cursor += length
	return data, nil
}

// effectiveLength clamps req to the bytes remaining after the cursor.
func (r *Reader) effectiveLength(req ReadRequest) (int64, error) {
	if r.cursor < 0 {
		return 0, fmt.Errorf("storehouse: read at negative offset %d: %w", r.cursor, ErrInvalidArgument)
	}

	remaining := r.size - r.cursor
	if remaining <= 0 {
		return 0, nil
	}
	if req.ToEnd() || req.n > remaining {
		return remaining, nil
	}
	return req.n, nil
}

// Read implements io.Reader. It returns io.EOF once the cursor reaches the
// end of the object.
func (r *Reader) Read(p []byte) (int, error) {
	if r.handle == nil {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if r.cursor >= r.size {
		return 0, io.EOF
	}

	data, err := r.ReadChunk(ReadN(int64(len(p))))
	if err != nil {
		return 0, err
	}
	return copy(p, data), nil
}

// ReadAt implements io.ReaderAt. It does not move the cursor.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if r.handle == nil {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("storehouse: negative offset %d: %w", off, ErrInvalidArgument)
	}
	if len(p) == 0 {
		return 0, nil
	}
	if off >= r.size {
		return 0, io.EOF
	}

	length := min(int64(len(p)), r.size-off)
	data, err := r.handle.ReadRange(r.ctx, off, length)
	if err != nil {
		return 0, err
	}
	if int64(len(data)) != length {
		return 0, fmt.Errorf("storehouse: expected %d bytes from %s at offset %d, got %d: %w",
			length, r.name, off, len(data), ErrReadFailure)
	}

	n := copy(p, data)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Seek repositions the cursor and returns the new position.
//
// whence is io.SeekStart, io.SeekCurrent or io.SeekEnd; anything else fails
// with ErrInvalidArgument. The result is not bounds-checked: the cursor may be
// moved before the start or past the end, and subsequent reads handle it.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	if r.handle == nil {
		return 0, ErrClosed
	}

	switch whence {
	case io.SeekStart:
		r.cursor = offset
	case io.SeekCurrent:
		r.cursor += offset
	case io.SeekEnd:
		r.cursor = r.size + offset
	default:
		return 0, fmt.Errorf("storehouse: whence %d: %w", whence, ErrInvalidArgument)
	}
	return r.cursor, nil
}

// Close releases the handle. Calling Close again is a no-op.
func (r *Reader) Close() error {
	if r.handle == nil {
		return nil
	}
	handle := r.handle
	r.handle = nil
	return handle.Close()
}

// -----------------------------------------------------------------------------
// Unsupported operations
// -----------------------------------------------------------------------------

// ReadLine always fails with ErrUnsupported.
func (r *Reader) ReadLine() ([]byte, error) { return nil, ErrUnsupported }

// ReadLines always fails with ErrUnsupported.
func (r *Reader) ReadLines() ([][]byte, error) { return nil, ErrUnsupported }

// Next always fails with ErrUnsupported.
func (r *Reader) Next() ([]byte, error) { return nil, ErrUnsupported }

// Write always fails with ErrUnsupported.
func (r *Reader) Write([]byte) (int, error) { return 0, ErrUnsupported }

// WriteLines always fails with ErrUnsupported.
func (r *Reader) WriteLines([][]byte) error { return ErrUnsupported }

// Truncate always fails with ErrUnsupported.
func (r *Reader) Truncate(int64) error { return ErrUnsupported }

// Flush always fails with ErrUnsupported.
func (r *Reader) Flush() error { return ErrUnsupported }
