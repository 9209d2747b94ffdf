// Package transfer moves arbitrarily large payloads to and from a block store
// using fixed-size blocks and a single atomic commit.
package transfer

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"media-enrichment-service/internal/observability/metrics"
	"media-enrichment-service/internal/service"
	"media-enrichment-service/internal/storage"
)

// DefaultBlockSize is the size of every staged block except possibly the last.
const DefaultBlockSize = 4 * 1024 * 1024

// Client uploads and downloads assets through a storage.BlockStore.
// Safe for concurrent use; each Upload holds one block buffer.
type Client struct {
	store     storage.BlockStore
	blockSize int
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBlockSize overrides DefaultBlockSize.
func WithBlockSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.blockSize = n
		}
	}
}

// WithMetrics overrides metrics.DefaultMetrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a transfer client over store.
func New(store storage.BlockStore, opts ...Option) *Client {
	c := &Client{
		store:     store,
		blockSize: DefaultBlockSize,
		metrics:   metrics.DefaultMetrics,
		logger:    log.With().Str("component", "transfer").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BlockSize returns the configured block size.
func (c *Client) BlockSize() int { return c.blockSize }

// URL returns the canonical address of an asset.
func (c *Client) URL(container, name string) string {
	return "https://" + c.store.Host() + "/" + container + "/" + name
}

// Locate reports whether rawURL addresses an asset of this store and, if so,
// its container and name.
func (c *Client) Locate(rawURL string) (container, name string, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil || !strings.EqualFold(u.Host, c.store.Host()) {
		return "", "", false
	}
	container, name, found := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if !found || container == "" || name == "" {
		return "", "", false
	}
	return container, name, true
}

// Upload reads r to the end, stages it block by block and commits the ordered
// block list. No asset becomes visible unless every block was staged.
func (c *Client) Upload(ctx context.Context, container, name, contentType string, r io.Reader) (string, error) {
	logger := c.logger.With().Str("container", container).Str("asset", name).Logger()

	if init, ok := c.store.(storage.UploadInitiator); ok {
		if err := init.BeginUpload(ctx, container, name, contentType); err != nil {
			return "", c.fail(&service.TransferError{Op: "begin", Name: name, Err: err})
		}
	}

	var (
		seq   sequence
		buf   = make([]byte, c.blockSize)
		total int64
	)
	for {
		n, readErr := io.ReadFull(r, buf)
		eof := readErr == io.EOF || errors.Is(readErr, io.ErrUnexpectedEOF)
		if readErr != nil && !eof {
			c.abort(container, name)
			return "", c.fail(&service.TransferError{Op: "read", Name: name, Err: readErr})
		}
		if n > 0 {
			id, err := seq.Next()
			if err != nil {
				c.abort(container, name)
				return "", c.fail(&service.TransferError{Op: "stage", Name: name, Err: err})
			}
			if err := c.stage(ctx, container, name, id, buf[:n]); err != nil {
				c.abort(container, name)
				return "", c.fail(err)
			}
			total += int64(n)
		}
		if eof {
			break
		}
	}

	if err := c.store.CommitBlockList(ctx, container, name, seq.IDs(), contentType); err != nil {
		c.abort(container, name)
		return "", c.fail(&service.TransferError{Op: "commit", Name: name, Err: err})
	}
	c.metrics.RecordCommit(container)

	logger.Debug().
		Int("blocks", len(seq.IDs())).
		Int64("bytes", total).
		Msg("Asset committed")

	return c.URL(container, name), nil
}

// stage uploads one block, re-staging the same bytes once on failure.
func (c *Client) stage(ctx context.Context, container, name, id string, data []byte) *service.TransferError {
	err := c.store.StageBlock(ctx, container, name, id, data)
	if err == nil {
		c.metrics.RecordBlockStaged(container, len(data))
		return nil
	}
	if ctx.Err() != nil {
		return &service.TransferError{Op: "stage", Name: name, BlockID: id, Err: err}
	}

	c.metrics.RecordBlockRetry(container)
	c.logger.Warn().
		Err(err).
		Str("asset", name).
		Str("blockId", id).
		Msg("Stage failed, retrying block once")

	if retryErr := c.store.StageBlock(ctx, container, name, id, data); retryErr != nil {
		return &service.TransferError{Op: "stage", Name: name, BlockID: id, Err: retryErr}
	}
	c.metrics.RecordBlockStaged(container, len(data))
	return nil
}

// abort discards staged blocks on stores that keep them around. It runs on a
// fresh context because the upload's context may already be canceled.
func (c *Client) abort(container, name string) {
	a, ok := c.store.(storage.UploadAborter)
	if !ok {
		return
	}
	if err := a.AbortUpload(context.Background(), container, name); err != nil {
		c.logger.Warn().Err(err).Str("asset", name).Msg("Failed to abort upload")
	}
}

func (c *Client) fail(err *service.TransferError) error {
	c.metrics.RecordTransferFailure(err.Op)
	return err
}

// Download returns a lazy stream of a committed asset. Read errors other than
// io.EOF surface as *service.TransferError.
func (c *Client) Download(ctx context.Context, container, name string) (io.ReadCloser, error) {
	rc, err := c.store.Download(ctx, container, name)
	if err != nil {
		return nil, c.fail(&service.TransferError{Op: "download", Name: name, Err: err})
	}
	return &downloadReader{rc: rc, name: name, c: c}, nil
}

// Delete removes a committed asset.
func (c *Client) Delete(ctx context.Context, container, name string) error {
	if err := c.store.Delete(ctx, container, name); err != nil {
		return c.fail(&service.TransferError{Op: "delete", Name: name, Err: err})
	}
	return nil
}

type downloadReader struct {
	rc   io.ReadCloser
	name string
	c    *Client
}

func (d *downloadReader) Read(p []byte) (int, error) {
	n, err := d.rc.Read(p)
	if err != nil && err != io.EOF {
		return n, d.c.fail(&service.TransferError{Op: "download", Name: d.name, Err: err})
	}
	return n, err
}

func (d *downloadReader) Close() error { return d.rc.Close() }
