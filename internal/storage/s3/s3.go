// Package s3 implements storage.BlockStore on Amazon S3 (or S3-compatible
// services) using multipart uploads: staging a block uploads a part and
// committing completes the multipart upload.
//
// S3 rejects parts smaller than 5 MiB except the last one, so transfers backed
// by this store must use a block size of at least MinPartSize.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"media-enrichment-service/internal/storage"
)

// MinPartSize is the smallest part S3 accepts for all but the last part.
const MinPartSize = 5 * 1024 * 1024

// Config holds S3 connection settings.
type Config struct {
	Region         string
	Endpoint       string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
}

// API is the subset of the S3 client used by Store.
type API interface {
	CreateMultipartUpload(ctx context.Context, in *awss3.CreateMultipartUploadInput, opts ...func(*awss3.Options)) (*awss3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *awss3.UploadPartInput, opts ...func(*awss3.Options)) (*awss3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *awss3.CompleteMultipartUploadInput, opts ...func(*awss3.Options)) (*awss3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *awss3.AbortMultipartUploadInput, opts ...func(*awss3.Options)) (*awss3.AbortMultipartUploadOutput, error)
	PutObject(ctx context.Context, in *awss3.PutObjectInput, opts ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *awss3.GetObjectInput, opts ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, opts ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
}

type upload struct {
	id          string
	contentType string
	parts       map[string]types.CompletedPart
	next        int32
}

// Store implements storage.BlockStore, storage.UploadInitiator and
// storage.UploadAborter. Containers map to buckets.
type Store struct {
	api  API
	host string

	mu      sync.Mutex
	uploads map[string]*upload
}

// New creates an S3 store from the default AWS configuration chain with
// optional overrides.
func New(ctx context.Context, cfg Config) (*Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})
	return NewWithAPI(client, hostFor(cfg, awsCfg.Region)), nil
}

// NewWithAPI wraps an existing S3 API implementation.
func NewWithAPI(api API, host string) *Store {
	return &Store{api: api, host: host, uploads: make(map[string]*upload)}
}

func hostFor(cfg Config, region string) string {
	if cfg.Endpoint != "" {
		if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
			return u.Host
		}
		return cfg.Endpoint
	}
	return fmt.Sprintf("s3.%s.amazonaws.com", region)
}

func key(bucket, name string) string { return bucket + "/" + name }

// BeginUpload opens a multipart upload carrying the asset's content type.
func (s *Store) BeginUpload(ctx context.Context, bucket, name, contentType string) error {
	in := &awss3.CreateMultipartUploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(name),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	out, err := s.api.CreateMultipartUpload(ctx, in)
	if err != nil {
		return fmt.Errorf("s3: create multipart upload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[key(bucket, name)] = &upload{
		id:          aws.ToString(out.UploadId),
		contentType: contentType,
		parts:       make(map[string]types.CompletedPart),
		next:        1,
	}
	return nil
}

// part returns the open upload and the part number for blockID. A block id
// staged again keeps its part number so the retry overwrites the part.
func (s *Store) part(bucket, name, blockID string) (*upload, int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	up, ok := s.uploads[key(bucket, name)]
	if !ok {
		return nil, 0, fmt.Errorf("s3: no open upload for %s", key(bucket, name))
	}
	if p, ok := up.parts[blockID]; ok {
		return up, aws.ToInt32(p.PartNumber), nil
	}
	n := up.next
	up.next++
	up.parts[blockID] = types.CompletedPart{PartNumber: aws.Int32(n)}
	return up, n, nil
}

// StageBlock uploads blockID as one part of the open multipart upload.
func (s *Store) StageBlock(ctx context.Context, bucket, name, blockID string, data []byte) error {
	up, n, err := s.part(bucket, name, blockID)
	if err != nil {
		return err
	}

	out, err := s.api.UploadPart(ctx, &awss3.UploadPartInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(name),
		UploadId:      aws.String(up.id),
		PartNumber:    aws.Int32(n),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("s3: upload part %d: %w", n, err)
	}

	s.mu.Lock()
	up.parts[blockID] = types.CompletedPart{PartNumber: aws.Int32(n), ETag: out.ETag}
	s.mu.Unlock()
	return nil
}

// CommitBlockList completes the multipart upload with the parts named by
// blockIDs in order. An empty list aborts the upload and writes an empty object.
func (s *Store) CommitBlockList(ctx context.Context, bucket, name string, blockIDs []string, contentType string) error {
	s.mu.Lock()
	up, ok := s.uploads[key(bucket, name)]
	s.mu.Unlock()

	if len(blockIDs) == 0 {
		if ok {
			_ = s.AbortUpload(ctx, bucket, name)
		}
		in := &awss3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(name),
			Body:   bytes.NewReader(nil),
		}
		if contentType != "" {
			in.ContentType = aws.String(contentType)
		}
		if _, err := s.api.PutObject(ctx, in); err != nil {
			return fmt.Errorf("s3: put empty object: %w", err)
		}
		return nil
	}
	if !ok {
		return fmt.Errorf("s3: no open upload for %s", key(bucket, name))
	}

	s.mu.Lock()
	parts := make([]types.CompletedPart, 0, len(blockIDs))
	for _, id := range blockIDs {
		p, staged := up.parts[id]
		if !staged || p.ETag == nil {
			s.mu.Unlock()
			return fmt.Errorf("s3: block %s was not staged", id)
		}
		parts = append(parts, p)
	}
	s.mu.Unlock()

	_, err := s.api.CompleteMultipartUpload(ctx, &awss3.CompleteMultipartUploadInput{
		Bucket:          aws.String(bucket),
		Key:             aws.String(name),
		UploadId:        aws.String(up.id),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return fmt.Errorf("s3: complete multipart upload: %w", err)
	}

	s.mu.Lock()
	delete(s.uploads, key(bucket, name))
	s.mu.Unlock()
	return nil
}

// AbortUpload discards the parts of an upload that will not be completed.
func (s *Store) AbortUpload(ctx context.Context, bucket, name string) error {
	s.mu.Lock()
	up, ok := s.uploads[key(bucket, name)]
	delete(s.uploads, key(bucket, name))
	s.mu.Unlock()
	if !ok {
		return nil
	}

	_, err := s.api.AbortMultipartUpload(ctx, &awss3.AbortMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(name),
		UploadId: aws.String(up.id),
	})
	if err != nil {
		return fmt.Errorf("s3: abort multipart upload: %w", err)
	}
	return nil
}

// Download streams a committed object.
func (s *Store) Download(ctx context.Context, bucket, name string) (io.ReadCloser, error) {
	out, err := s.api.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("s3: get object: %w", err)
	}
	return out.Body, nil
}

// Delete removes an object.
func (s *Store) Delete(ctx context.Context, bucket, name string) error {
	_, err := s.api.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		return fmt.Errorf("s3: delete object: %w", err)
	}
	return nil
}

// Host returns the endpoint host objects are addressed under.
func (s *Store) Host() string { return s.host }

var (
	_ storage.BlockStore      = (*Store)(nil)
	_ storage.UploadInitiator = (*Store)(nil)
	_ storage.UploadAborter   = (*Store)(nil)
)
