// Package storage defines the block-oriented object store used for chunked
// transfers. Supported backends: Azure Blob Storage (block blobs), Amazon S3
// (multipart uploads) and an in-memory store for tests and local runs.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Download and Delete when the asset does not exist.
var ErrNotFound = errors.New("storage: object not found")

// BlockStore stages independently uploaded blocks and commits them as one
// asset. Staged blocks never become visible until CommitBlockList succeeds.
type BlockStore interface {
	// StageBlock uploads one block of an asset. Implementations must not
	// retain data after returning.
	StageBlock(ctx context.Context, container, name, blockID string, data []byte) error

	// CommitBlockList atomically publishes the asset made of the ordered
	// block ids.
	CommitBlockList(ctx context.Context, container, name string, blockIDs []string, contentType string) error

	// Download returns a stream of the committed asset. The caller must close it.
	Download(ctx context.Context, container, name string) (io.ReadCloser, error)

	// Delete removes a committed asset.
	Delete(ctx context.Context, container, name string) error

	// Host is the public host name assets are addressed under.
	Host() string
}

// UploadInitiator is optionally implemented by stores that must open an
// upload session before the first block is staged.
type UploadInitiator interface {
	BeginUpload(ctx context.Context, container, name, contentType string) error
}

// UploadAborter is optionally implemented by stores that keep staged blocks
// around until they are explicitly discarded.
type UploadAborter interface {
	AbortUpload(ctx context.Context, container, name string) error
}

// Provider names accepted in configuration.
const (
	ProviderAzure  = "azure"
	ProviderS3     = "s3"
	ProviderMemory = "memory"
)
