// Package storehouse provides file-like random access to objects held by a
// storage backend.
//
// A backend resolves a name to a RandomReadFile handle that can report its
// size and serve byte-range reads. Reader wraps one such handle with a cursor,
// seek semantics and an explicit closed state, so sequential-read client code
// can consume stored objects as if they were local files.
//
// Backends ship for the local filesystem (NewFS), memory (NewMemory) and
// S3-compatible object stores (package storehouse/s3).
package storehouse

import (
	"context"
	"errors"
	"io"
)

// -----------------------------------------------------------------------------
// Backend interfaces
// -----------------------------------------------------------------------------

// RandomReadFile is an open handle to one stored object.
//
// Handles are owned by whoever opened them and must be closed exactly once.
// Implementations must support several handles open on the same object.
type RandomReadFile interface {
	// Size returns the total length of the object in bytes.
	// The size is stable for the lifetime of the handle.
	Size(ctx context.Context) (int64, error)

	// ReadRange returns exactly length bytes starting at offset.
	// Callers only request ranges that lie within the object.
	ReadRange(ctx context.Context, offset, length int64) ([]byte, error)

	// Close releases the handle.
	Close() error
}

// Backend opens named objects for random access.
type Backend interface {
	// OpenRandomRead returns a handle for the named object.
	// Returns ErrNotFound if the name does not resolve to an object.
	OpenRandomRead(ctx context.Context, name string) (RandomReadFile, error)
}

// Store is a Backend that also manages the objects it holds.
//
// Implementations may target filesystems, S3, or other object stores.
type Store interface {
	Backend

	// Stat describes the named object.
	// Returns ErrNotFound if it does not exist.
	Stat(ctx context.Context, name string) (FileInfo, error)

	// Put writes the full contents of r to name, replacing any previous object.
	Put(ctx context.Context, name string, r io.Reader) error

	// MakeDir creates a directory (or directory marker) at name.
	MakeDir(ctx context.Context, name string) error

	// Delete removes name if it exists.
	Delete(ctx context.Context, name string) error

	// DeleteDir removes the directory at name if it exists. Without recursive
	// it fails with ErrRemoveFailure when the directory still holds entries.
	DeleteDir(ctx context.Context, name string, recursive bool) error
}

// FileInfo describes a stored object.
type FileInfo struct {
	// Size is the object length in bytes.
	Size int64

	// Exists reports whether the name resolved to anything.
	Exists bool

	// IsDir reports whether the name is a directory or directory marker.
	IsDir bool
}

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// Error sentinel values for common conditions.
var (
	// ErrNotFound indicates a requested object does not exist.
	ErrNotFound = errNotFound{}

	// ErrClosed indicates an operation on a Reader after Close.
	ErrClosed = errClosed{}

	// ErrUnsupported indicates an operation a read-only Reader does not provide.
	ErrUnsupported = errUnsupported{}

	// ErrInvalidArgument indicates a malformed argument, such as an unknown whence.
	ErrInvalidArgument = errInvalidArgument{}

	// ErrTransient indicates a backend failure that may succeed when retried.
	ErrTransient = errTransient{}

	// ErrReadFailure indicates the backend returned fewer bytes than requested.
	ErrReadFailure = errReadFailure{}

	// ErrSaveFailure indicates a backend could not store an object.
	ErrSaveFailure = errSaveFailure{}

	// ErrRemoveFailure indicates a backend could not remove an object or directory.
	ErrRemoveFailure = errRemoveFailure{}

	// ErrMkDirFailure indicates a backend could not create a directory.
	ErrMkDirFailure = errMkDirFailure{}

	// ErrPathExists indicates a directory was requested where an object already exists.
	ErrPathExists = errPathExists{}

	// ErrInvalidPath indicates a name that would escape the storage root.
	ErrInvalidPath = errors.New("invalid path: escapes storage root")
)

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

type errClosed struct{}

func (errClosed) Error() string { return "reader is closed" }

type errUnsupported struct{}

func (errUnsupported) Error() string { return "operation not supported" }

type errInvalidArgument struct{}

func (errInvalidArgument) Error() string { return "invalid argument" }

type errTransient struct{}

func (errTransient) Error() string { return "transient failure" }

type errPathExists struct{}

func (errPathExists) Error() string { return "path exists" }

type errReadFailure struct{}

func (errReadFailure) Error() string { return "read failure" }

type errSaveFailure struct{}

func (errSaveFailure) Error() string { return "save failure" }

type errRemoveFailure struct{}

func (errRemoveFailure) Error() string { return "remove failure" }

type errMkDirFailure struct{}

func (errMkDirFailure) Error() string { return "mkdir failure" }

// -----------------------------------------------------------------------------
// Result codes
// -----------------------------------------------------------------------------

// Result is the coarse outcome code of a storage operation.
// It exists for callers that report status as a code rather than an error.
type Result int

const (
	Success Result = iota
	EndOfFile
	FileExists
	FileDoesNotExist
	TransientFailure
	ReadFailure
	RemoveFailure
	SaveFailure
	MkDirFailure
)

var resultNames = map[Result]string{
	Success:          "Success",
	EndOfFile:        "EndOfFile",
	FileExists:       "FileExists",
	FileDoesNotExist: "FileDoesNotExist",
	TransientFailure: "TransientFailure",
	ReadFailure:      "ReadFailure",
	RemoveFailure:    "RemoveFailure",
	SaveFailure:      "SaveFailure",
	MkDirFailure:     "MkDirFailure",
}

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return "<Undefined>"
}

// ResultOf maps an error returned by this package or a backend to a Result.
// Errors without a specific code map to ReadFailure.
func ResultOf(err error) Result {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, io.EOF):
		return EndOfFile
	case errors.Is(err, ErrNotFound):
		return FileDoesNotExist
	case errors.Is(err, ErrPathExists):
		return FileExists
	case errors.Is(err, ErrTransient):
		return TransientFailure
	case errors.Is(err, ErrSaveFailure):
		return SaveFailure
	case errors.Is(err, ErrRemoveFailure):
		return RemoveFailure
	case errors.Is(err, ErrMkDirFailure):
		return MkDirFailure
	default:
		return ReadFailure
	}
}
