// Package storage defines the object storage abstraction used for log archives and history exports.
// Backends (local file system, GCS) register a StorageProvider; StorageResolver opens named
// connections declared in the `storage` config section.
package storage

import (
	"context"
	"io"
)

// StorageConfig holds configuration for a single storage connection.
type StorageConfig struct {
	Type            string `yaml:"type"`             // "local" or "gcs".
	BucketName      string `yaml:"bucket_name"`      // Default bucket name for operations.
	CredentialsFile string `yaml:"credentials_file"` // Service account key for GCS; empty uses application default credentials.
	BaseDir         string `yaml:"base_dir"`         // Base directory for local file system operations.
}

// StorageExecutor defines generic storage operations.
type StorageExecutor interface {
	// Upload writes data to bucket/objectName. An empty bucket selects the configured default.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download returns a ReadCloser which must be closed by the caller.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for each object name under prefix.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject removes an object. Deleting a missing object is not an error.
	DeleteObject(ctx context.Context, bucket, objectName string) error
}

// StorageConnection is an open connection to one configured storage.
type StorageConnection interface {
	StorageExecutor
	Close() error
	Type() string
	Name() string
}

// StorageProvider opens connections of one storage type.
type StorageProvider interface {
	Type() string
	Open(ctx context.Context, name string, cfg StorageConfig) (StorageConnection, error)
}

// StorageConnectionResolver returns named connections.
type StorageConnectionResolver interface {
	ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error)
}
