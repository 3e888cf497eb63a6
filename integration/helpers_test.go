//go:build integration

package integration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/meigma/spanindex"
	"github.com/meigma/spanindex/source"
	"github.com/meigma/spanindex/source/s3"
)

const (
	minioUser     = "spanindex"
	minioPassword = "spanindex-secret"
)

// --- MinIO Container Setup ---

var (
	minioOnce sync.Once
	minioAddr string
	minioErr  error
)

// getMinio returns the shared MinIO address, starting the container if needed.
// The container is shared across all tests for performance.
func getMinio(tb testing.TB) string {
	tb.Helper()

	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		tb.Skip("SKIP_DOCKER_TESTS is set")
	}

	minioOnce.Do(func() {
		minioAddr, minioErr = startMinioContainer(context.Background())
	})

	if minioErr != nil {
		tb.Fatalf("start minio container: %v", minioErr)
	}

	return minioAddr
}

// startMinioContainer starts a MinIO server and returns its host:port address.
func startMinioContainer(ctx context.Context) (string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Cmd:          []string{"server", "/data"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     minioUser,
			"MINIO_ROOT_PASSWORD": minioPassword,
		},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start minio container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve minio host: %w", err)
	}

	port, err := container.MappedPort(ctx, "9000/tcp")
	if err != nil {
		return "", fmt.Errorf("resolve minio port: %w", err)
	}

	return fmt.Sprintf("%s:%s", host, port.Port()), nil
}

// --- Client Helpers ---

func s3Config(addr string) s3.Config {
	return s3.Config{
		Endpoint:  addr,
		AccessKey: minioUser,
		SecretKey: minioPassword,
		Insecure:  true,
		PathStyle: true,
	}
}

// newBucket creates a bucket named after the test and returns a client for it.
func newBucket(tb testing.TB, addr string) (*minio.Client, string) {
	tb.Helper()

	client, err := s3.NewClient(s3Config(addr))
	require.NoError(tb, err)

	bucket := strings.ToLower(strings.NewReplacer("/", "-", "_", "-").Replace(tb.Name()))
	require.NoError(tb, client.MakeBucket(context.Background(), bucket, minio.MakeBucketOptions{}))
	return client, bucket
}

// putObject uploads data and returns its s3:// URL.
func putObject(tb testing.TB, client *minio.Client, bucket, key string, data []byte) string {
	tb.Helper()

	_, err := client.PutObject(context.Background(), bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	require.NoError(tb, err, "put %s", key)
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}

// openIndex opens an index that reads s3:// paths from the test server.
func openIndex(tb testing.TB, addr string, reg *spanindex.Registry, opts ...spanindex.Option) *spanindex.Index {
	tb.Helper()

	dir := tb.TempDir()
	base := []spanindex.Option{
		spanindex.WithSourceOptions(source.Options{S3: s3Config(addr)}),
		spanindex.WithSeekDir(filepath.Join(dir, "seek")),
		spanindex.WithInterval(64 << 10),
	}
	x, err := spanindex.Open(reg, filepath.Join(dir, "lookup.csv"), append(base, opts...)...)
	require.NoError(tb, err)
	tb.Cleanup(func() { x.Close() })
	return x
}
