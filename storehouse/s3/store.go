// Package s3 provides an S3-compatible storage backend for storehouse.
//
// It supports AWS S3, MinIO, LocalStack, Google Cloud Storage through its S3
// interoperability endpoint, and other S3-compatible object stores.
//
// Range reads are true range reads via the HTTP Range header. Object sizes
// come from HeadObject when a handle is opened.
//
// Consistency: AWS S3 provides strong read-after-write consistency. Other
// S3-compatible services may differ; consult their documentation.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/justapithecus/storehouse/storehouse"
)

// API defines the subset of the S3 client interface used by the store.
// This enables testing with mock implementations.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config holds configuration for the S3 store.
type Config struct {
	// Bucket is the S3 bucket name. Required.
	Bucket string

	// Prefix is an optional key prefix for all operations.
	// If set, all keys are prefixed with this value (with a trailing slash added if missing).
	Prefix string
}

// Store implements storehouse.Store using an S3-compatible backend.
type Store struct {
	client     API
	bucket     string
	prefix     string
	createTemp func() (*os.File, error) // temp file factory for Put spooling
}

// New creates a new S3 store with the given client and configuration.
//
// The client must be pre-configured with credentials, region, and endpoint.
// See NewClient for the common S3-compatible setups.
func New(client API, cfg Config) (*Store, error) {
	if client == nil {
		return nil, errors.New("s3: client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}

	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &Store{
		client:     client,
		bucket:     cfg.Bucket,
		prefix:     prefix,
		createTemp: func() (*os.File, error) { return os.CreateTemp("", "storehouse-s3-*") },
	}, nil
}

// Stat describes the named object.
// Names ending in "/" are reported as directory markers.
// Returns ErrNotFound if the object does not exist.
func (s *Store) Stat(ctx context.Context, name string) (storehouse.FileInfo, error) {
	isDir := strings.HasSuffix(name, "/")
	fullKey, err := s.validateKey(name)
	if err != nil {
		return storehouse.FileInfo{}, err
	}
	if isDir {
		fullKey += "/"
	}

	size, err := s.head(ctx, fullKey)
	if err != nil {
		return storehouse.FileInfo{}, err
	}
	return storehouse.FileInfo{Size: size, Exists: true, IsDir: isDir}, nil
}

// OpenRandomRead returns a handle for the named object.
// Returns ErrNotFound if the object does not exist.
func (s *Store) OpenRandomRead(ctx context.Context, name string) (storehouse.RandomReadFile, error) {
	fullKey, err := s.validateKey(name)
	if err != nil {
		return nil, err
	}

	size, err := s.head(ctx, fullKey)
	if err != nil {
		return nil, err
	}

	return &object{store: s, key: fullKey, size: size}, nil
}

// Put writes the contents of r to name, replacing any existing object.
//
// The payload is spooled to a temp file first so the upload has a known
// length and a seekable body regardless of size.
func (s *Store) Put(ctx context.Context, name string, r io.Reader) error {
	fullKey, err := s.validateKey(name)
	if err != nil {
		return err
	}

	tmpFile, err := s.createTemp()
	if err != nil {
		return fmt.Errorf("s3: creating temp file: %w: %w", storehouse.ErrSaveFailure, err)
	}
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpFile.Name())
	}()

	size, err := io.Copy(tmpFile, r)
	if err != nil {
		return fmt.Errorf("s3: writing temp file: %w: %w", storehouse.ErrSaveFailure, err)
	}
	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("s3: seeking temp file: %w: %w", storehouse.ErrSaveFailure, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(fullKey),
		Body:          tmpFile,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", storehouse.ErrSaveFailure, mapError("put object", err))
	}
	return nil
}

// MakeDir writes an empty "name/" directory marker.
func (s *Store) MakeDir(ctx context.Context, name string) error {
	fullKey, err := s.validateKey(name)
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(fullKey + "/"),
		Body:          strings.NewReader(""),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", storehouse.ErrMkDirFailure, mapError("make dir", err))
	}
	return nil
}

// Delete removes the object if it exists.
// Safe to call on missing names (S3 DeleteObject is idempotent).
func (s *Store) Delete(ctx context.Context, name string) error {
	fullKey, err := s.validateKey(name)
	if err != nil {
		return err
	}

	return s.deleteKey(ctx, fullKey)
}

// DeleteDir removes the "name/" marker. With recursive every key under
// "name/" is deleted as well; without it, keys other than the marker fail
// the call with ErrRemoveFailure.
func (s *Store) DeleteDir(ctx context.Context, name string, recursive bool) error {
	fullKey, err := s.validateKey(name)
	if err != nil {
		return err
	}
	dirKey := fullKey + "/"

	if !recursive {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:  aws.String(s.bucket),
			Prefix:  aws.String(dirKey),
			MaxKeys: aws.Int32(2),
		})
		if err != nil {
			return fmt.Errorf("%w: %w", storehouse.ErrRemoveFailure, mapError("list objects", err))
		}
		for _, obj := range out.Contents {
			if aws.ToString(obj.Key) != dirKey {
				return fmt.Errorf("s3: delete dir %s: directory not empty: %w", name, storehouse.ErrRemoveFailure)
			}
		}
		return s.deleteKey(ctx, dirKey)
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(dirKey),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", storehouse.ErrRemoveFailure, mapError("list objects", err))
		}
		for _, obj := range page.Contents {
			if err := s.deleteKey(ctx, aws.ToString(obj.Key)); err != nil {
				return err
			}
		}
	}
	// The marker may be absent when the directory only exists implicitly.
	return s.deleteKey(ctx, dirKey)
}

func (s *Store) deleteKey(ctx context.Context, fullKey string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", storehouse.ErrRemoveFailure, mapError("delete object", err))
	}
	return nil
}

var _ storehouse.Store = (*Store)(nil)

// head returns the size of fullKey.
func (s *Store) head(ctx context.Context, fullKey string) (int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		return 0, mapError("head object", err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// validateKey validates and returns the full key for object operations.
func (s *Store) validateKey(key string) (string, error) {
	if key == "" {
		return "", storehouse.ErrInvalidPath
	}

	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", storehouse.ErrInvalidPath
	}
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" {
		return "", storehouse.ErrInvalidPath
	}

	return s.prefix + cleaned, nil
}

// -----------------------------------------------------------------------------
// Handle
// -----------------------------------------------------------------------------

// object is a RandomReadFile backed by S3 range reads.
type object struct {
	store *Store
	key   string
	size  int64

	mu     sync.Mutex
	closed bool
}

func (o *object) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *object) Size(_ context.Context) (int64, error) {
	if o.isClosed() {
		return 0, fs.ErrClosed
	}
	return o.size, nil
}

// ReadRange fetches exactly length bytes at offset with a single ranged GetObject.
func (o *object) ReadRange(ctx context.Context, offset, length int64) ([]byte, error) {
	if o.isClosed() {
		return nil, fs.ErrClosed
	}
	if offset < 0 || length < 0 || offset+length < offset {
		return nil, fmt.Errorf("s3: range offset %d length %d: %w", offset, length, storehouse.ErrInvalidArgument)
	}

	// Zero-length read needs no request and would form an invalid range header.
	if length == 0 {
		return []byte{}, nil
	}

	// S3 Range header format: "bytes=start-end" (inclusive)
	rangeHeader := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)

	out, err := o.store.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.store.bucket),
		Key:    aws.String(o.key),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidRange" {
			return nil, fmt.Errorf("s3: range %s beyond end of %s: %w", rangeHeader, o.key, storehouse.ErrReadFailure)
		}
		return nil, mapError("range read", err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3: reading range body: %w", err)
	}
	if int64(len(data)) != length {
		return nil, fmt.Errorf("s3: expected %d bytes from %s, got %d: %w", length, o.key, len(data), storehouse.ErrReadFailure)
	}
	return data, nil
}

func (o *object) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fs.ErrClosed
	}
	o.closed = true
	return nil
}

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// transientCodes are S3 error codes worth retrying.
var transientCodes = map[string]bool{
	"SlowDown":           true,
	"ServiceUnavailable": true,
	"RequestTimeout":     true,
	"InternalError":      true,
	"Throttling":         true,
	"503":                true,
}

// mapError normalizes S3 errors to storehouse sentinels, keeping the cause.
func mapError(op string, err error) error {
	if isNotFound(err) {
		return storehouse.ErrNotFound
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && transientCodes[apiErr.ErrorCode()] {
		return fmt.Errorf("s3: %s: %w: %w", op, storehouse.ErrTransient, err)
	}
	return fmt.Errorf("s3: %s: %w", op, err)
}

// isNotFound checks if an error indicates the object was not found.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey" || code == "404"
	}
	return false
}
