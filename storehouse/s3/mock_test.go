package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// MockClient is an in-memory test double for API.
//
// It honors Range on GetObject and reports ContentLength on HeadObject.
// Errors can be queued per operation with FailNext.
type MockClient struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failures map[string][]error

	// GetObjectCount counts GetObject calls, including failed ones.
	GetObjectCount int
	// HeadObjectCount counts HeadObject calls, including failed ones.
	HeadObjectCount int
	// LastRange holds the Range header of the most recent GetObject.
	LastRange string
}

// NewMockClient creates an empty mock S3 client.
func NewMockClient() *MockClient {
	return &MockClient{
		objects:  make(map[string][]byte),
		failures: make(map[string][]error),
	}
}

// FailNext queues err to be returned by the next call to op
// ("PutObject", "GetObject", "HeadObject", "DeleteObject" or "ListObjectsV2").
func (m *MockClient) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], err)
}

// Object returns the stored bytes for a full key.
func (m *MockClient) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return data, ok
}

// popFailure must be called with mu held.
func (m *MockClient) popFailure(op string) error {
	queue := m.failures[op]
	if len(queue) == 0 {
		return nil
	}
	m.failures[op] = queue[1:]
	return queue[0]
}

// PutObject implements API.PutObject for testing.
func (m *MockClient) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("PutObject"); err != nil {
		return nil, err
	}
	m.objects[aws.ToString(params.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

// GetObject implements API.GetObject for testing.
func (m *MockClient) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetObjectCount++
	m.LastRange = aws.ToString(params.Range)
	if err := m.popFailure("GetObject"); err != nil {
		return nil, err
	}

	data, exists := m.objects[aws.ToString(params.Key)]
	if !exists {
		return nil, &types.NoSuchKey{}
	}

	if params.Range != nil {
		var start, end int64
		if _, err := fmt.Sscanf(aws.ToString(params.Range), "bytes=%d-%d", &start, &end); err != nil {
			return nil, &smithyAPIError{Code: "InvalidArgument", Message: err.Error()}
		}
		if start >= int64(len(data)) {
			return nil, &smithyAPIError{Code: "InvalidRange", Message: "range not satisfiable"}
		}
		if end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}
		data = data[start : end+1]
	}

	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(bytes.Clone(data))),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

// HeadObject implements API.HeadObject for testing.
func (m *MockClient) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.HeadObjectCount++
	if err := m.popFailure("HeadObject"); err != nil {
		return nil, err
	}

	data, exists := m.objects[aws.ToString(params.Key)]
	if !exists {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

// DeleteObject implements API.DeleteObject for testing.
func (m *MockClient) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.popFailure("DeleteObject"); err != nil {
		return nil, err
	}
	delete(m.objects, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

// ListObjectsV2 implements API.ListObjectsV2 for testing.
// Results are sorted by key and capped at MaxKeys; there is no pagination.
func (m *MockClient) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.popFailure("ListObjectsV2"); err != nil {
		return nil, err
	}

	prefix := aws.ToString(params.Prefix)
	var keys []string
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	truncated := false
	if limit := int(aws.ToInt32(params.MaxKeys)); limit > 0 && len(keys) > limit {
		keys = keys[:limit]
		truncated = true
	}

	out := &s3.ListObjectsV2Output{
		KeyCount:    aws.Int32(int32(len(keys))),
		IsTruncated: aws.Bool(truncated),
	}
	for _, key := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
	}
	return out, nil
}

var _ API = (*MockClient)(nil)

// smithyAPIError implements smithy.APIError for testing.
type smithyAPIError struct {
	Code    string
	Message string
}

func (e *smithyAPIError) Error() string {
	return e.Code + ": " + e.Message
}

func (e *smithyAPIError) ErrorCode() string {
	return e.Code
}

func (e *smithyAPIError) ErrorMessage() string {
	return e.Message
}

func (e *smithyAPIError) ErrorFault() smithy.ErrorFault {
	return smithy.FaultUnknown
}
