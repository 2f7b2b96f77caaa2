package provider

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// File is a local file opened for random-access part reads.
type File interface {
	io.ReaderAt
	io.Closer
}

// WriterFile is a local file opened for random-access writes, used by
// concurrent downloads.
type WriterFile interface {
	io.WriterAt
	io.Closer
}

// Filesystem abstracts the local disk so the engine can be tested without
// touching real files.
type Filesystem interface {
	Stat(path string) (os.FileInfo, error)
	// ReadDir lists the entries of a directory.
	ReadDir(path string) ([]os.DirEntry, error)
	Open(path string) (File, error)
	// Create makes (or truncates) a file for writing, creating parent
	// directories as needed.
	Create(path string) (WriterFile, error)
}

// OSFilesystem is the production Filesystem backed by the os package.
type OSFilesystem struct{}

var _ Filesystem = OSFilesystem{}

func (OSFilesystem) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

func (OSFilesystem) ReadDir(path string) ([]os.DirEntry, error) {
	return os.ReadDir(path)
}

func (OSFilesystem) Open(path string) (File, error) {
	return os.Open(path)
}

func (OSFilesystem) Create(path string) (WriterFile, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return os.Create(path)
}
