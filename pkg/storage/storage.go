package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var ErrNotFound = errors.New("File not found")
var ErrNoPublicUrl = errors.New("Storage has no public URL")
var ErrNotAFilesystem = errors.New("Storage is not a local filesystem")

// Storage is a flat blob store for annotated videos
type Storage interface {
	// When finished, you must close the WriteCloser. The blob is only complete once Close returns nil.
	WriteFile(name string) (io.WriteCloser, error)

	// When finished, you must close File.Reader.
	// A missing blob returns an error that wraps ErrNotFound.
	ReadFile(name string) (*File, error)

	DeleteFile(name string) error

	// Filename returns the local path of the blob, so that a video encoder can write straight into
	// the store. Stores that are not on the local filesystem return ErrNotAFilesystem.
	Filename(name string) (string, error)

	// URL returns a public URL, or ErrNoPublicUrl
	URL(name string) (string, error)
}

// File is an element in blob storage.
type File struct {
	Reader     io.ReadCloser
	ModifiedAt time.Time
	Size       int64
}

// ValidateName rejects names that could escape the store
func ValidateName(name string) error {
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) || filepath.IsAbs(name) {
		return fmt.Errorf("Invalid file name '%v'", name)
	}
	return nil
}

func WriteFile(s Storage, name string, content io.Reader) error {
	f, err := s.WriteFile(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, content)
	errClose := f.Close()
	if err != nil {
		return err
	}
	return errClose
}

func ReadFile(s Storage, name string) ([]byte, error) {
	f, err := s.ReadFile(name)
	if err != nil {
		return nil, err
	}
	defer f.Reader.Close()
	return io.ReadAll(f.Reader)
}

// Upload copies a local file into the store
func Upload(s Storage, name, localFile string) error {
	f, err := os.Open(localFile)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteFile(s, name, f)
}
