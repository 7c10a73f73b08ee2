package file

import (
	"io"
)

// FileService handles local file access for uploads and asset downloads
type FileService interface {
	// OpenReader opens a file for reading and returns file info
	OpenReader(filePath string) (FileReader, error)

	// CreateWriter creates a file for writing, creating parent directories.
	// The file appears at dstPath only once the writer is closed.
	CreateWriter(dstPath string) (FileWriter, error)

	// GetFileInfo returns information about a regular file
	GetFileInfo(filePath string) (FileInfo, error)

	// EnsureDir creates a directory if it does not exist
	EnsureDir(dirPath string) error
}

// FileReader represents a file opened for reading
type FileReader interface {
	io.Reader
	io.Closer

	// Size returns the file size in bytes
	Size() int64

	// Name returns the file name
	Name() string
}

// FileWriter represents a file opened for writing. Close commits the
// written data; Discard abandons it.
type FileWriter interface {
	io.Writer
	io.Closer

	// Discard removes the partial data instead of committing it
	Discard() error

	// Path returns the file path
	Path() string
}

// FileInfo contains file metadata
type FileInfo interface {
	// Name returns the file name
	Name() string

	// Size returns the file size in bytes
	Size() int64

	// Path returns the full file path
	Path() string
}
