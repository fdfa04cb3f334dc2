package storehouse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// maxReadRangeLength bounds a single range read so the int64 length always
// fits in an int on 32-bit platforms.
const maxReadRangeLength = int64(math.MaxInt)

// validateRange rejects negative or overflowing ranges.
func validateRange(offset, length int64) error {
	if offset < 0 || length < 0 || length > maxReadRangeLength {
		return fmt.Errorf("storehouse: range offset %d length %d: %w", offset, length, ErrInvalidArgument)
	}
	if offset > math.MaxInt64-length {
		return fmt.Errorf("storehouse: range offset %d length %d overflows: %w", offset, length, ErrInvalidArgument)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Filesystem Store
// -----------------------------------------------------------------------------

// FS implements Store using the local filesystem.
//
// Consistency: Immediate read-after-write on local filesystems.
type FS struct {
	root string
}

// NewFS creates a filesystem-backed Store rooted at the given directory.
// The directory must exist.
func NewFS(root string) (*FS, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, os.ErrNotExist
	}
	return &FS{root: root}, nil
}

// Root returns the root directory of this store.
func (f *FS) Root() string {
	return f.root
}

// Stat describes the named file or directory.
// Returns ErrNotFound if nothing exists at name.
func (f *FS) Stat(_ context.Context, name string) (FileInfo, error) {
	fullPath, err := f.safePath(name)
	if err != nil {
		return FileInfo{}, err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, ErrNotFound
		}
		return FileInfo{}, err
	}
	if info.IsDir() {
		return FileInfo{Exists: true, IsDir: true}, nil
	}
	return FileInfo{Size: info.Size(), Exists: true}, nil
}

// OpenRandomRead opens the named regular file.
// Returns ErrNotFound for missing names and for directories.
func (f *FS) OpenRandomRead(_ context.Context, name string) (RandomReadFile, error) {
	fullPath, err := f.safePath(name)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, ErrNotFound
	}

	return &fsFile{file: file, name: name}, nil
}

// Put writes the contents of r to name, creating parent directories.
// An existing file is replaced.
func (f *FS) Put(_ context.Context, name string, r io.Reader) error {
	fullPath, err := f.safePath(name)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("storehouse: put %s: %w: %w", name, ErrSaveFailure, err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("storehouse: put %s: %w: %w", name, ErrSaveFailure, err)
	}
	if _, err := io.Copy(file, r); err != nil {
		_ = file.Close()
		return fmt.Errorf("storehouse: put %s: %w: %w", name, ErrSaveFailure, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("storehouse: put %s: %w: %w", name, ErrSaveFailure, err)
	}
	return nil
}

// MakeDir creates name and any missing parents.
// Returns ErrPathExists if a regular file already occupies name.
func (f *FS) MakeDir(_ context.Context, name string) error {
	fullPath, err := f.safePath(name)
	if err != nil {
		return err
	}
	if info, err := os.Stat(fullPath); err == nil && !info.IsDir() {
		return ErrPathExists
	}
	if err := os.MkdirAll(fullPath, 0o755); err != nil {
		return fmt.Errorf("storehouse: mkdir %s: %w: %w", name, ErrMkDirFailure, err)
	}
	return nil
}

// Delete removes name if it exists.
// Safe to call on a missing name.
func (f *FS) Delete(_ context.Context, name string) error {
	fullPath, err := f.safePath(name)
	if err != nil {
		return err
	}
	err = os.Remove(fullPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storehouse: delete %s: %w: %w", name, ErrRemoveFailure, err)
	}
	return nil
}

// DeleteDir removes the directory at name, and with recursive everything
// beneath it. Safe to call on a missing name.
func (f *FS) DeleteDir(_ context.Context, name string, recursive bool) error {
	fullPath, err := f.safePath(name)
	if err != nil {
		return err
	}

	info, err := os.Stat(fullPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("storehouse: delete dir %s: %w: %w", name, ErrRemoveFailure, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storehouse: delete dir %s: not a directory: %w", name, ErrRemoveFailure)
	}

	if recursive {
		err = os.RemoveAll(fullPath)
	} else {
		err = os.Remove(fullPath)
	}
	if err != nil {
		return fmt.Errorf("storehouse: delete dir %s: %w: %w", name, ErrRemoveFailure, err)
	}
	return nil
}

// safePath validates and resolves name, ensuring it stays within the root.
// Rejects empty names and "." since those would target the root itself.
//
// Symlinks inside the root that point outside it are not detected.
func (f *FS) safePath(name string) (string, error) {
	cleaned := filepath.Clean(name)
	if cleaned == "." || name == "" {
		return "", ErrInvalidPath
	}
	if filepath.IsAbs(cleaned) {
		return "", ErrInvalidPath
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}

	fullPath := filepath.Join(f.root, cleaned)

	absRoot, err := filepath.Abs(f.root)
	if err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", err
	}
	prefix := absRoot
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if !strings.HasPrefix(absPath, prefix) {
		return "", ErrInvalidPath
	}

	return fullPath, nil
}

var _ Store = (*FS)(nil)

// fsFile is a RandomReadFile over an open *os.File.
type fsFile struct {
	file *os.File
	name string
}

func (h *fsFile) Size(_ context.Context) (int64, error) {
	info, err := h.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (h *fsFile) ReadRange(_ context.Context, offset, length int64) ([]byte, error) {
	if err := validateRange(offset, length); err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}

	buf := make([]byte, length)
	n, err := h.file.ReadAt(buf, offset)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("storehouse: %s: read %d of %d bytes at offset %d: %w",
				h.name, n, length, offset, ErrReadFailure)
		}
		return nil, err
	}
	return buf, nil
}

func (h *fsFile) Close() error {
	return h.file.Close()
}

// -----------------------------------------------------------------------------
// Memory Store
// -----------------------------------------------------------------------------

// Memory implements Store using an in-memory map.
//
// Consistency: Immediate.
// Memory is safe for concurrent use. Handles read the object as it was when
// they were opened.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
	dirs map[string]bool
}

// NewMemory creates an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string][]byte),
		dirs: make(map[string]bool),
	}
}

// Stat describes the named object or directory marker.
func (m *Memory) Stat(_ context.Context, name string) (FileInfo, error) {
	normalized, valid := normalizePath(name)
	if !valid {
		return FileInfo{}, ErrInvalidPath
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if data, exists := m.data[normalized]; exists {
		return FileInfo{Size: int64(len(data)), Exists: true}, nil
	}
	if m.dirs[normalized] || m.hasChildren(normalized) {
		return FileInfo{Exists: true, IsDir: true}, nil
	}
	return FileInfo{}, ErrNotFound
}

// hasChildren reports whether any object or marker lives below dir.
// Must be called with mu held.
func (m *Memory) hasChildren(dir string) bool {
	prefix := dir + "/"
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	for key := range m.dirs {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// OpenRandomRead returns a handle over the current contents of name.
func (m *Memory) OpenRandomRead(_ context.Context, name string) (RandomReadFile, error) {
	normalized, valid := normalizePath(name)
	if !valid {
		return nil, ErrInvalidPath
	}

	m.mu.RLock()
	data, exists := m.data[normalized]
	m.mu.RUnlock()

	if !exists {
		return nil, ErrNotFound
	}
	// Put replaces slices rather than mutating them, so sharing is safe.
	return &memoryFile{data: data}, nil
}

// Put stores the contents of r under name, replacing any previous object.
func (m *Memory) Put(_ context.Context, name string, r io.Reader) error {
	normalized, valid := normalizePath(name)
	if !valid {
		return ErrInvalidPath
	}

	// Read data before acquiring lock to minimize lock duration
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("storehouse: put %s: %w: %w", name, ErrSaveFailure, err)
	}

	m.mu.Lock()
	m.data[normalized] = data
	m.mu.Unlock()
	return nil
}

// MakeDir records a directory marker at name.
func (m *Memory) MakeDir(_ context.Context, name string) error {
	normalized, valid := normalizePath(name)
	if !valid {
		return ErrInvalidPath
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data[normalized]; exists {
		return ErrPathExists
	}
	m.dirs[normalized] = true
	return nil
}

// Delete removes name if it exists.
func (m *Memory) Delete(_ context.Context, name string) error {
	normalized, valid := normalizePath(name)
	if !valid {
		return ErrInvalidPath
	}

	m.mu.Lock()
	delete(m.data, normalized)
	delete(m.dirs, normalized)
	m.mu.Unlock()
	return nil
}

// DeleteDir removes the marker at name, and with recursive every object and
// marker below it.
func (m *Memory) DeleteDir(_ context.Context, name string, recursive bool) error {
	normalized, valid := normalizePath(name)
	if !valid {
		return ErrInvalidPath
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data[normalized]; exists {
		return fmt.Errorf("storehouse: delete dir %s: not a directory: %w", name, ErrRemoveFailure)
	}
	if !recursive {
		if m.hasChildren(normalized) {
			return fmt.Errorf("storehouse: delete dir %s: directory not empty: %w", name, ErrRemoveFailure)
		}
		delete(m.dirs, normalized)
		return nil
	}

	prefix := normalized + "/"
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			delete(m.data, key)
		}
	}
	for key := range m.dirs {
		if key == normalized || strings.HasPrefix(key, prefix) {
			delete(m.dirs, key)
		}
	}
	return nil
}

// normalizePath cleans name to a slash-separated key without a leading slash.
// Returns false for empty names and names that escape via "..".
func normalizePath(name string) (string, bool) {
	if name == "" {
		return "", false
	}

	cleaned := filepath.ToSlash(filepath.Clean(name))
	cleaned = strings.TrimPrefix(cleaned, "/")

	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || cleaned == "." || cleaned == "" {
		return "", false
	}
	return cleaned, true
}

var _ Store = (*Memory)(nil)

// memoryFile is a RandomReadFile over an immutable byte slice.
type memoryFile struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

func (h *memoryFile) Size(_ context.Context) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, fs.ErrClosed
	}
	return int64(len(h.data)), nil
}

func (h *memoryFile) ReadRange(_ context.Context, offset, length int64) ([]byte, error) {
	if err := validateRange(offset, length); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, fs.ErrClosed
	}

	size := int64(len(h.data))
	if offset+length > size {
		return nil, fmt.Errorf("storehouse: range %d+%d exceeds size %d: %w", offset, length, size, ErrReadFailure)
	}
	return bytes.Clone(h.data[offset : offset+length]), nil
}

func (h *memoryFile) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fs.ErrClosed
	}
	h.closed = true
	h.data = nil
	return nil
}
