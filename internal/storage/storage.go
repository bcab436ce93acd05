// Package storage defines the archive store that receives audit log exports
// before the retention job purges them from the database.
//
// Backends register themselves with the factory from an init() function in
// their own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// cmd/server blank-imports every backend so the configured one is available.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Download for a missing object.
var ErrNotFound = errors.New("object not found")

// Storage is an object store for archive files. Objects are written once and
// never modified in place.
type Storage interface {
	// Upload stores the object and returns its size and SHA-256 checksum
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*UploadResult, error)

	// Download opens a stored object
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes an object; deleting a missing object is not an error
	Delete(ctx context.Context, path string) error

	// Exists reports whether an object is present
	Exists(ctx context.Context, path string) (bool, error)
}

// UploadResult describes a stored object
type UploadResult struct {
	// Path is the storage path where the object was stored
	Path string

	// Size is the object size in bytes
	Size int64

	// Checksum is the hex SHA-256 of the object contents
	Checksum string
}
