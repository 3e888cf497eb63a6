// Package source opens the compressed files served by the index: local
// paths, http(s) URLs and s3:// objects.
package source

import (
	"context"
	_ "crypto/sha256" // registers digest.Canonical
	"fmt"
	"io"
	nethttp "net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/opencontainers/go-digest"

	srchttp "github.com/meigma/spanindex/source/http"
	"github.com/meigma/spanindex/source/s3"
)

// ByteSource provides random access to a compressed file.
type ByteSource interface {
	io.ReaderAt
	Size() int64
	SourceID() string
}

// ReadCloser is a ByteSource holding resources that Close releases.
type ReadCloser interface {
	ByteSource
	io.Closer
}

// File is a ByteSource backed by a local file.
type File struct {
	file     *os.File
	size     int64
	sourceID string
}

// OpenFile opens a local file. Missing files yield an error wrapping
// fs.ErrNotExist.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &File{file: f, size: info.Size(), sourceID: fileSourceID(path, info)}, nil
}

// ReadAt implements io.ReaderAt.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	return f.file.ReadAt(p, off)
}

// Size returns the file size at open time.
func (f *File) Size() int64 {
	return f.size
}

// SourceID identifies the file by path, size and modification time.
func (f *File) SourceID() string {
	return f.sourceID
}

// Close closes the file.
func (f *File) Close() error {
	return f.file.Close()
}

func fileSourceID(path string, info os.FileInfo) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	d := digest.FromString(fmt.Sprintf("%s:%d:%d", absPath, info.Size(), info.ModTime().UnixNano()))
	return "file:" + d.Encoded()
}

// Options configures Open.
type Options struct {
	// HTTPClient is used for http(s) locations.
	HTTPClient *nethttp.Client

	// HTTPHeaders are added to every http(s) request.
	HTTPHeaders map[string]string

	// S3 configures the client for s3:// locations when S3Client is nil.
	S3 s3.Config

	// S3Client overrides the client built from S3.
	S3Client *minio.Client
}

// Open returns a source for location, which may be a local path, an
// http(s) URL or an s3://bucket/key URL.
func Open(ctx context.Context, location string, opts Options) (ReadCloser, error) {
	scheme, _, found := strings.Cut(location, "://")
	if !found {
		return OpenFile(location)
	}
	switch strings.ToLower(scheme) {
	case "http", "https":
		httpOpts := []srchttp.Option{srchttp.WithConditionalHeaders()}
		if opts.HTTPClient != nil {
			httpOpts = append(httpOpts, srchttp.WithClient(opts.HTTPClient))
		}
		for k, v := range opts.HTTPHeaders {
			httpOpts = append(httpOpts, srchttp.WithHeader(k, v))
		}
		src, err := srchttp.NewSource(ctx, location, httpOpts...)
		if err != nil {
			return nil, err
		}
		return nopCloser{src}, nil
	case "s3":
		bucket, key, err := s3.ParseURL(location)
		if err != nil {
			return nil, err
		}
		client := opts.S3Client
		if client == nil {
			client, err = s3.NewClient(opts.S3)
			if err != nil {
				return nil, err
			}
		}
		src, err := s3.NewSource(ctx, client, bucket, key)
		if err != nil {
			return nil, err
		}
		return nopCloser{src}, nil
	case "file":
		return OpenFile(strings.TrimPrefix(location, scheme+"://"))
	default:
		return nil, fmt.Errorf("source: unsupported location scheme %q", scheme)
	}
}

type nopCloser struct {
	ByteSource
}

func (nopCloser) Close() error { return nil }
