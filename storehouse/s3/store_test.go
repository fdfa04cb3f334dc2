package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/justapithecus/storehouse/storehouse"
)

func newTestStore(t *testing.T, prefix string) (*Store, *MockClient) {
	t.Helper()
	mock := NewMockClient()
	store, err := New(mock, Config{Bucket: "test-bucket", Prefix: prefix})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return store, mock
}

// -----------------------------------------------------------------------------
// Construction
// -----------------------------------------------------------------------------

func TestNew_NilClient(t *testing.T) {
	_, err := New(nil, Config{Bucket: "test"})
	if err == nil {
		t.Error("expected error for nil client")
	}
}

func TestNew_EmptyBucket(t *testing.T) {
	_, err := New(NewMockClient(), Config{})
	if err == nil {
		t.Error("expected error for empty bucket")
	}
}

func TestNew_PrefixNormalization(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestStore(t, "data")

	if err := store.Put(ctx, "a.txt", bytes.NewReader([]byte("x"))); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, ok := mock.Object("data/a.txt"); !ok {
		t.Error("expected object under normalized prefix data/a.txt")
	}
}

// -----------------------------------------------------------------------------
// Store operations
// -----------------------------------------------------------------------------

func TestStore_PutStat(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, "")

	if err := store.Put(ctx, "dir/file.txt", bytes.NewReader([]byte("hello"))); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	info, err := store.Stat(ctx, "dir/file.txt")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info != (storehouse.FileInfo{Size: 5, Exists: true}) {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestStore_StatNotFound(t *testing.T) {
	store, _ := newTestStore(t, "")

	_, err := store.Stat(context.Background(), "missing")
	if !errors.Is(err, storehouse.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestStore_MakeDir(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestStore(t, "")

	if err := store.MakeDir(ctx, "logs"); err != nil {
		t.Fatalf("MakeDir failed: %v", err)
	}
	if data, ok := mock.Object("logs/"); !ok || len(data) != 0 {
		t.Errorf("expected empty marker at logs/, got %q, %v", data, ok)
	}

	info, err := store.Stat(ctx, "logs/")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if !info.IsDir {
		t.Errorf("expected directory marker, got %+v", info)
	}
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestStore(t, "")

	if err := store.Put(ctx, "f", bytes.NewReader([]byte("x"))); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "f"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := mock.Object("f"); ok {
		t.Error("expected object to be removed")
	}
	if err := store.Delete(ctx, "f"); err != nil {
		t.Errorf("Delete of missing object failed: %v", err)
	}
}

func TestStore_InvalidKeys(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, "")

	for _, key := range []string{"", ".", "..", "../escape", "/"} {
		if _, err := store.OpenRandomRead(ctx, key); !errors.Is(err, storehouse.ErrInvalidPath) {
			t.Errorf("OpenRandomRead(%q): expected ErrInvalidPath, got: %v", key, err)
		}
		if err := store.Delete(ctx, key); !errors.Is(err, storehouse.ErrInvalidPath) {
			t.Errorf("Delete(%q): expected ErrInvalidPath, got: %v", key, err)
		}
	}
}

func TestStore_PutTempFileError(t *testing.T) {
	store, _ := newTestStore(t, "")
	store.createTemp = func() (*os.File, error) { return nil, errors.New("disk full") }

	err := store.Put(context.Background(), "f", bytes.NewReader([]byte("x")))
	if !errors.Is(err, storehouse.ErrSaveFailure) {
		t.Fatalf("expected ErrSaveFailure when temp file cannot be created, got: %v", err)
	}
}

func TestStore_OperationFailureCodes(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestStore(t, "")
	denied := &smithyAPIError{Code: "AccessDenied", Message: "denied"}

	mock.FailNext("PutObject", denied)
	err := store.Put(ctx, "f", bytes.NewReader([]byte("x")))
	if got := storehouse.ResultOf(err); got != storehouse.SaveFailure {
		t.Errorf("Put: expected SaveFailure, got %s (%v)", got, err)
	}

	mock.FailNext("PutObject", denied)
	err = store.MakeDir(ctx, "d")
	if got := storehouse.ResultOf(err); got != storehouse.MkDirFailure {
		t.Errorf("MakeDir: expected MkDirFailure, got %s (%v)", got, err)
	}

	mock.FailNext("DeleteObject", denied)
	err = store.Delete(ctx, "f")
	if got := storehouse.ResultOf(err); got != storehouse.RemoveFailure {
		t.Errorf("Delete: expected RemoveFailure, got %s (%v)", got, err)
	}

	mock.FailNext("PutObject", &smithyAPIError{Code: "SlowDown"})
	err = store.Put(ctx, "f", bytes.NewReader([]byte("x")))
	if !errors.Is(err, storehouse.ErrSaveFailure) || !errors.Is(err, storehouse.ErrTransient) {
		t.Errorf("throttled Put: expected ErrSaveFailure and ErrTransient, got: %v", err)
	}
}

func TestStore_DeleteDir(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestStore(t, "root")

	if err := store.MakeDir(ctx, "tree"); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"tree/a", "tree/sub/b", "treehouse"} {
		if err := store.Put(ctx, name, bytes.NewReader([]byte(name))); err != nil {
			t.Fatal(err)
		}
	}

	err := store.DeleteDir(ctx, "tree", false)
	if !errors.Is(err, storehouse.ErrRemoveFailure) {
		t.Errorf("expected ErrRemoveFailure for non-empty dir, got: %v", err)
	}
	if _, ok := mock.Object("root/tree/a"); !ok {
		t.Error("non-recursive DeleteDir must not remove children")
	}

	if err := store.DeleteDir(ctx, "tree", true); err != nil {
		t.Fatalf("recursive DeleteDir failed: %v", err)
	}
	for _, key := range []string{"root/tree/", "root/tree/a", "root/tree/sub/b"} {
		if _, ok := mock.Object(key); ok {
			t.Errorf("expected %s to be deleted", key)
		}
	}
	if _, ok := mock.Object("root/treehouse"); !ok {
		t.Error("sibling with shared prefix was removed")
	}
}

func TestStore_DeleteDir_EmptyMarker(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestStore(t, "")

	if err := store.MakeDir(ctx, "empty"); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteDir(ctx, "empty", false); err != nil {
		t.Fatalf("DeleteDir failed: %v", err)
	}
	if _, ok := mock.Object("empty/"); ok {
		t.Error("expected marker to be deleted")
	}

	mock.FailNext("ListObjectsV2", &smithyAPIError{Code: "AccessDenied"})
	if err := store.DeleteDir(ctx, "empty", false); !errors.Is(err, storehouse.ErrRemoveFailure) {
		t.Errorf("expected ErrRemoveFailure when listing fails, got: %v", err)
	}
}

// -----------------------------------------------------------------------------
// Range reads
// -----------------------------------------------------------------------------

func TestObject_ReadRange(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestStore(t, "")

	if err := store.Put(ctx, "digits", bytes.NewReader([]byte("0123456789"))); err != nil {
		t.Fatal(err)
	}
	h, err := store.OpenRandomRead(ctx, "digits")
	if err != nil {
		t.Fatalf("OpenRandomRead failed: %v", err)
	}
	defer func() { _ = h.Close() }()

	size, err := h.Size(ctx)
	if err != nil || size != 10 {
		t.Fatalf("Size: got %d, %v", size, err)
	}

	data, err := h.ReadRange(ctx, 3, 4)
	if err != nil {
		t.Fatalf("ReadRange failed: %v", err)
	}
	if string(data) != "3456" {
		t.Errorf("expected '3456', got %q", data)
	}
	if mock.LastRange != "bytes=3-6" {
		t.Errorf("expected range header bytes=3-6, got %q", mock.LastRange)
	}
}

func TestObject_ReadRange_ZeroLengthSkipsRequest(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestStore(t, "")

	if err := store.Put(ctx, "f", bytes.NewReader([]byte("abc"))); err != nil {
		t.Fatal(err)
	}
	h, err := store.OpenRandomRead(ctx, "f")
	if err != nil {
		t.Fatal(err)
	}

	data, err := h.ReadRange(ctx, 1, 0)
	if err != nil || len(data) != 0 {
		t.Errorf("got %q, %v", data, err)
	}
	if mock.GetObjectCount != 0 {
		t.Errorf("expected no GetObject calls, got %d", mock.GetObjectCount)
	}
}

func TestObject_ReadRange_ShortRead(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, "")

	if err := store.Put(ctx, "f", bytes.NewReader([]byte("hello"))); err != nil {
		t.Fatal(err)
	}
	h, err := store.OpenRandomRead(ctx, "f")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := h.ReadRange(ctx, 3, 10); !errors.Is(err, storehouse.ErrReadFailure) {
		t.Errorf("expected ErrReadFailure for short read, got: %v", err)
	}
	if _, err := h.ReadRange(ctx, 8, 1); !errors.Is(err, storehouse.ErrReadFailure) {
		t.Errorf("expected ErrReadFailure for unsatisfiable range, got: %v", err)
	}
	if _, err := h.ReadRange(ctx, -1, 1); !errors.Is(err, storehouse.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for negative offset, got: %v", err)
	}
}

func TestObject_Closed(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, "")

	if err := store.Put(ctx, "f", bytes.NewReader([]byte("abc"))); err != nil {
		t.Fatal(err)
	}
	h, err := store.OpenRandomRead(ctx, "f")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := h.ReadRange(ctx, 0, 1); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("expected fs.ErrClosed, got: %v", err)
	}
	if _, err := h.Size(ctx); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("expected fs.ErrClosed from Size, got: %v", err)
	}
	if err := h.Close(); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("expected fs.ErrClosed on second close, got: %v", err)
	}
}

func TestObject_ThroughReader(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, "")

	if err := storehouse.WriteFile(ctx, store, "f", []byte("0123456789")); err != nil {
		t.Fatal(err)
	}
	r, err := storehouse.Open(ctx, store, "f")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = r.Close() }()

	if _, err := r.Seek(-4, io.SeekEnd); err != nil {
		t.Fatal(err)
	}
	data, err := r.ReadChunk(storehouse.ReadToEnd())
	if err != nil {
		t.Fatalf("ReadChunk failed: %v", err)
	}
	if string(data) != "6789" {
		t.Errorf("expected '6789', got %q", data)
	}
}

// -----------------------------------------------------------------------------
// Error mapping
// -----------------------------------------------------------------------------

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"NoSuchKey", &types.NoSuchKey{}, storehouse.ErrNotFound},
		{"NotFound", &types.NotFound{}, storehouse.ErrNotFound},
		{"NoSuchBucket", &types.NoSuchBucket{}, storehouse.ErrNotFound},
		{"404 code", &smithyAPIError{Code: "404"}, storehouse.ErrNotFound},
		{"SlowDown", &smithyAPIError{Code: "SlowDown"}, storehouse.ErrTransient},
		{"ServiceUnavailable", &smithyAPIError{Code: "ServiceUnavailable"}, storehouse.ErrTransient},
		{"InternalError", &smithyAPIError{Code: "InternalError"}, storehouse.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError("op", tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("expected %v, got: %v", tt.want, got)
			}
		})
	}
}

func TestMapError_KeepsCause(t *testing.T) {
	cause := &smithyAPIError{Code: "AccessDenied", Message: "nope"}
	got := mapError("get object", cause)

	var apiErr *smithyAPIError
	if !errors.As(got, &apiErr) || apiErr.Code != "AccessDenied" {
		t.Errorf("expected wrapped AccessDenied, got: %v", got)
	}
	if errors.Is(got, storehouse.ErrTransient) || errors.Is(got, storehouse.ErrNotFound) {
		t.Errorf("AccessDenied must not map to a sentinel, got: %v", got)
	}
}

func TestOpenWithBackoff_RetriesThrottling(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestStore(t, "")

	if err := store.Put(ctx, "f", bytes.NewReader([]byte("abc"))); err != nil {
		t.Fatal(err)
	}
	mock.FailNext("HeadObject", &smithyAPIError{Code: "SlowDown"})
	mock.FailNext("HeadObject", &smithyAPIError{Code: "503"})

	b := storehouse.Backoff{Unit: 1, MaxDebt: 64, Jitter: func() float64 { return 0 }}
	r, err := storehouse.OpenWithBackoff(ctx, store, "f", b)
	if err != nil {
		t.Fatalf("OpenWithBackoff failed: %v", err)
	}
	defer func() { _ = r.Close() }()

	if mock.HeadObjectCount != 3 {
		t.Errorf("expected 3 HeadObject calls, got %d", mock.HeadObjectCount)
	}
	if r.Size() != 3 {
		t.Errorf("expected size 3, got %d", r.Size())
	}
}
