package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"media-enrichment-service/internal/service"
	"media-enrichment-service/internal/service/transfer"
)

// Fetcher opens the source media of an event as a stream.
type Fetcher interface {
	Open(ctx context.Context, sourceURL string) (io.ReadCloser, error)
}

// HTTPFetcher downloads sources over HTTP(S). URLs that point at the
// configured block store are read through the transfer client instead, so
// private containers work with the store's credentials.
type HTTPFetcher struct {
	client   *http.Client
	transfer *transfer.Client
}

// NewHTTPFetcher creates a fetcher. A nil client gets a default with no
// overall timeout, since source media may be large.
func NewHTTPFetcher(client *http.Client, tc *transfer.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConnsPerHost:   16,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		}
	}
	return &HTTPFetcher{client: client, transfer: tc}
}

// Open starts the download. Failures, including mid-stream read errors,
// surface as *service.TransferError with Op "fetch".
func (f *HTTPFetcher) Open(ctx context.Context, sourceURL string) (io.ReadCloser, error) {
	if f.transfer != nil {
		if container, name, ok := f.transfer.Locate(sourceURL); ok {
			return f.transfer.Download(ctx, container, name)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, &service.TransferError{Op: "fetch", Name: sourceURL, Err: err}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &service.TransferError{Op: "fetch", Name: sourceURL, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &service.TransferError{
			Op:   "fetch",
			Name: sourceURL,
			Err:  fmt.Errorf("unexpected status %s", resp.Status),
		}
	}
	return &fetchBody{rc: resp.Body, name: sourceURL}, nil
}

type fetchBody struct {
	rc   io.ReadCloser
	name string
}

func (b *fetchBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if err != nil && err != io.EOF {
		return n, &service.TransferError{Op: "fetch", Name: b.name, Err: err}
	}
	return n, err
}

func (b *fetchBody) Close() error { return b.rc.Close() }
