// Package s3 provides a byte source for objects in S3-compatible storage.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DefaultEndpoint is used when Config.Endpoint is empty.
const DefaultEndpoint = "s3.amazonaws.com"

// Config describes how to reach the object store.
type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string

	// Insecure disables TLS.
	Insecure bool

	// PathStyle forces path-style bucket addressing, as most self-hosted
	// S3-compatible servers expect.
	PathStyle bool
}

// NewClient returns a minio client for cfg. Without static keys the
// standard AWS environment variables are used.
func NewClient(cfg Config) (*minio.Client, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	creds := credentials.NewEnvAWS()
	if cfg.AccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	}
	opts := &minio.Options{
		Creds:  creds,
		Secure: !cfg.Insecure,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}
	return minio.New(endpoint, opts)
}

// ParseURL splits s3://bucket/key into its bucket and key.
func ParseURL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("s3: unsupported scheme %q", u.Scheme)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("s3: %q must be s3://bucket/key", raw)
	}
	return u.Host, key, nil
}

// Source reads byte ranges of one object.
type Source struct {
	client *minio.Client
	bucket string
	key    string
	size   int64
	etag   string

	requests  atomic.Int64
	bytesRead atomic.Int64
}

// NewSource stats the object and returns a Source for it. A missing object
// yields an error wrapping fs.ErrNotExist.
func NewSource(ctx context.Context, client *minio.Client, bucket, key string) (*Source, error) {
	info, err := client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" || errResp.StatusCode == 404 {
			return nil, fmt.Errorf("s3://%s/%s: %w", bucket, key, fs.ErrNotExist)
		}
		return nil, err
	}
	return &Source{
		client: client,
		bucket: bucket,
		key:    key,
		size:   info.Size,
		etag:   info.ETag,
	}, nil
}

// Size returns the object size.
func (s *Source) Size() int64 {
	return s.size
}

// SourceID identifies the object version by its ETag.
func (s *Source) SourceID() string {
	return fmt.Sprintf("s3:%s/%s|etag:%s|size:%d", s.bucket, s.key, s.etag, s.size)
}

// Requests returns the number of range requests issued by ReadAt.
func (s *Source) Requests() int64 {
	return s.requests.Load()
}

// BytesRead returns the number of bytes received by ReadAt.
func (s *Source) BytesRead() int64 {
	return s.bytesRead.Load()
}

// ReadAt implements [io.ReaderAt] with one ranged GET per call. The read
// is pinned to the ETag seen at open time.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}
	end := off + int64(len(p)) - 1
	if end >= s.size {
		end = s.size - 1
	}

	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(off, end); err != nil {
		return 0, err
	}
	if s.etag != "" {
		if err := opts.SetMatchETag(s.etag); err != nil {
			return 0, err
		}
	}

	s.requests.Add(1)
	obj, err := s.client.GetObject(context.Background(), s.bucket, s.key, opts)
	if err != nil {
		return 0, err
	}
	defer obj.Close()

	n, err := io.ReadFull(obj, p[:end-off+1])
	s.bytesRead.Add(int64(n))
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
