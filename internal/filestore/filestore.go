package filestore

import (
	"io"
)

// FileStore is an interface for storing and retrieving attachment blobs
// by their ID, and for deleting them by their public URL.
type FileStore interface {
	// Save saves the file content under the given ID.
	// It is idempotent: if a file with the same ID already exists, it returns nil.
	Save(r io.Reader, id string) error

	// Get retrieves the file content for the given ID.
	Get(id string) (io.ReadCloser, error)

	// Delete removes the blob behind the given public URL. Deleting a
	// URL that does not exist is not an error.
	Delete(url string) error
}
