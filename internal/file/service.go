package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotRegular is returned when a selected path is a directory or device.
var ErrNotRegular = errors.New("not a regular file")

// partialSuffix marks downloads that have not been completed yet
const partialSuffix = ".part"

// localFS implements FileService on the local filesystem
type localFS struct{}

// NewFileService creates a new file service
func NewFileService() FileService {
	return localFS{}
}

// OpenReader opens a regular file for reading. The size is taken when the
// file is opened; a file that changes afterwards is caught by the reader's
// consumer.
func (localFS) OpenReader(filePath string) (FileReader, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}
	if !stat.Mode().IsRegular() {
		f.Close()
		return nil, &os.PathError{Op: "open", Path: filePath, Err: ErrNotRegular}
	}

	return &reader{File: f, size: stat.Size()}, nil
}

// CreateWriter creates dstPath and its parent directories. Data goes to a
// sibling .part file that only replaces dstPath on a successful Close, so an
// interrupted download never leaves a truncated asset behind.
func (fs localFS) CreateWriter(dstPath string) (FileWriter, error) {
	if err := fs.EnsureDir(filepath.Dir(dstPath)); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dstPath), filepath.Base(dstPath)+".*"+partialSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return &writer{tmp: tmp, path: dstPath}, nil
}

// GetFileInfo returns information about a regular file
func (localFS) GetFileInfo(filePath string) (FileInfo, error) {
	stat, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}
	if !stat.Mode().IsRegular() {
		return nil, &os.PathError{Op: "stat", Path: filePath, Err: ErrNotRegular}
	}
	return info{name: stat.Name(), size: stat.Size(), path: filePath}, nil
}

// EnsureDir creates directory if it doesn't exist
func (localFS) EnsureDir(dirPath string) error {
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

type reader struct {
	*os.File
	size int64
}

func (r *reader) Size() int64 { return r.size }

func (r *reader) Name() string { return filepath.Base(r.File.Name()) }

type writer struct {
	tmp    *os.File
	path   string
	closed bool
}

func (w *writer) Write(p []byte) (int, error) {
	return w.tmp.Write(p)
}

// Close flushes the data and moves it into place
func (w *writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.tmp.Sync(); err != nil {
		w.tmp.Close()
		os.Remove(w.tmp.Name())
		return fmt.Errorf("failed to flush file: %w", err)
	}
	if err := w.tmp.Close(); err != nil {
		os.Remove(w.tmp.Name())
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(w.tmp.Name(), w.path); err != nil {
		os.Remove(w.tmp.Name())
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}

// Discard drops everything written so far
func (w *writer) Discard() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.tmp.Close()
	return os.Remove(w.tmp.Name())
}

func (w *writer) Path() string {
	return w.path
}

type info struct {
	name string
	size int64
	path string
}

func (i info) Name() string { return i.name }
func (i info) Size() int64  { return i.size }
func (i info) Path() string { return i.path }
