// Package memory provides an in-process storage.BlockStore. Staged blocks are
// kept per asset and only become readable after a commit, mirroring block blob
// semantics.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"media-enrichment-service/internal/storage"
)

type object struct {
	data        []byte
	contentType string
}

// Store implements storage.BlockStore in memory. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	host    string
	staged  map[string]map[string][]byte
	objects map[string]object
	commits int
}

// New creates an empty store addressed under host.
func New(host string) *Store {
	if host == "" {
		host = "memory.local"
	}
	return &Store{
		host:    host,
		staged:  make(map[string]map[string][]byte),
		objects: make(map[string]object),
	}
}

func key(container, name string) string { return container + "/" + name }

// StageBlock keeps a copy of data under blockID.
func (s *Store) StageBlock(_ context.Context, container, name, blockID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(container, name)
	blocks, ok := s.staged[k]
	if !ok {
		blocks = make(map[string][]byte)
		s.staged[k] = blocks
	}
	blocks[blockID] = bytes.Clone(data)
	return nil
}

// CommitBlockList concatenates the staged blocks in the given order.
// Every id must have been staged; otherwise nothing is published.
func (s *Store) CommitBlockList(_ context.Context, container, name string, blockIDs []string, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(container, name)
	blocks := s.staged[k]

	var buf bytes.Buffer
	for _, id := range blockIDs {
		b, ok := blocks[id]
		if !ok {
			return fmt.Errorf("memory: commit %s: block %s was not staged", k, id)
		}
		buf.Write(b)
	}

	s.objects[k] = object{data: buf.Bytes(), contentType: contentType}
	delete(s.staged, k)
	s.commits++
	return nil
}

// Download returns a reader over a copy of the committed asset.
func (s *Store) Download(_ context.Context, container, name string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[key(container, name)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(obj.data))), nil
}

// Delete removes a committed asset.
func (s *Store) Delete(_ context.Context, container, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(container, name)
	if _, ok := s.objects[k]; !ok {
		return storage.ErrNotFound
	}
	delete(s.objects, k)
	return nil
}

// AbortUpload discards blocks staged for an asset that will not be committed.
func (s *Store) AbortUpload(_ context.Context, container, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.staged, key(container, name))
	return nil
}

// Host returns the host assets are addressed under.
func (s *Store) Host() string { return s.host }

// Object returns the committed bytes and content type of an asset.
func (s *Store) Object(container, name string) ([]byte, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[key(container, name)]
	if !ok {
		return nil, "", false
	}
	return bytes.Clone(obj.data), obj.contentType, true
}

// StagedCount returns the number of uncommitted blocks held for an asset.
func (s *Store) StagedCount(container, name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.staged[key(container, name)])
}

// Commits returns the number of successful commits.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

var (
	_ storage.BlockStore    = (*Store)(nil)
	_ storage.UploadAborter = (*Store)(nil)
)
