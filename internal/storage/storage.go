// Package storage abstracts where produced archive and export files live.
// The pipeline writes staging files to the local filesystem; finished
// artifacts are saved through a Storage so deployments can keep them on
// disk or push them to an S3-compatible object store.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when the named artifact does not exist.
var ErrNotFound = errors.New("storage: object not found")

// Info describes a stored artifact.
type Info struct {
	Name string
	Size int64
}

// Storage is the minimal durable-file capability the export core needs.
type Storage interface {
	// Save persists the file at localPath under name and returns its size.
	Save(ctx context.Context, localPath, name string) (int64, error)
	// Open returns a reader over the named artifact.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Stat reports existence and size.
	Stat(ctx context.Context, name string) (Info, error)
	// Delete removes the artifact. Deleting a missing artifact is not an error.
	Delete(ctx context.Context, name string) error
}
