// Package azure implements storage.BlockStore on Azure Blob Storage block blobs.
package azure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"

	"media-enrichment-service/internal/storage"
)

// Config holds Azure Blob Storage connection settings. Either
// ConnectionString or AccountName (with an optional SASToken) must be set.
type Config struct {
	AccountName      string
	SASToken         string
	ConnectionString string
}

// Validate checks that enough settings are present to build a client.
func (c *Config) Validate() error {
	if c.ConnectionString == "" && c.AccountName == "" {
		return errors.New("azure: account name or connection string is required")
	}
	return nil
}

// Store implements storage.BlockStore using block blobs.
type Store struct {
	client *azblob.Client
	host   string
}

// New creates a block blob store. The returned client is safe for concurrent use.
func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		client *azblob.Client
		err    error
	)
	if cfg.ConnectionString != "" {
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	} else {
		serviceURL := fmt.Sprintf("https://%s/", accountHost(cfg.AccountName))
		if cfg.SASToken != "" {
			serviceURL += "?" + strings.TrimPrefix(cfg.SASToken, "?")
		}
		client, err = azblob.NewClientWithNoCredential(serviceURL, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("azure: create client: %w", err)
	}

	host := accountHost(cfg.AccountName)
	if cfg.AccountName == "" {
		host = strings.TrimSuffix(strings.TrimPrefix(client.URL(), "https://"), "/")
	}
	return &Store{client: client, host: host}, nil
}

func accountHost(account string) string {
	return account + ".blob.core.windows.net"
}

func (s *Store) blockBlob(container, name string) *blockblob.Client {
	return s.client.ServiceClient().NewContainerClient(container).NewBlockBlobClient(name)
}

// StageBlock uploads one uncommitted block.
func (s *Store) StageBlock(ctx context.Context, container, name, blockID string, data []byte) error {
	body := streaming.NopCloser(bytes.NewReader(data))
	if _, err := s.blockBlob(container, name).StageBlock(ctx, blockID, body, nil); err != nil {
		return fmt.Errorf("azure: stage block: %w", err)
	}
	return nil
}

// CommitBlockList publishes the blob from the ordered block ids.
func (s *Store) CommitBlockList(ctx context.Context, container, name string, blockIDs []string, contentType string) error {
	opts := &blockblob.CommitBlockListOptions{}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: to.Ptr(contentType)}
	}
	if _, err := s.blockBlob(container, name).CommitBlockList(ctx, blockIDs, opts); err != nil {
		return fmt.Errorf("azure: commit block list: %w", err)
	}
	return nil
}

// Download streams a committed blob.
func (s *Store) Download(ctx context.Context, container, name string) (io.ReadCloser, error) {
	resp, err := s.client.DownloadStream(ctx, container, name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("azure: download: %w", err)
	}
	return resp.Body, nil
}

// Delete removes a committed blob.
func (s *Store) Delete(ctx context.Context, container, name string) error {
	if _, err := s.client.DeleteBlob(ctx, container, name, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("azure: delete: %w", err)
	}
	return nil
}

// Host returns the account's blob endpoint host.
func (s *Store) Host() string { return s.host }

var _ storage.BlockStore = (*Store)(nil)
