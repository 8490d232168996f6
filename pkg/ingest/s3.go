package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/eunmann/chunkagg/internal/logctx"
	"github.com/eunmann/chunkagg/pkg/humanfmt"
)

// S3Config configures object downloads.
type S3Config struct {
	// Concurrency is the number of parts downloaded in parallel.
	// Default: NumCPU clamped to [4, 16].
	Concurrency int
	// PartSize is the size of each ranged GET in bytes. Default: 16MB.
	PartSize int64
	// TempDir holds downloaded objects until they are read. Default: os.TempDir().
	TempDir string
}

// DefaultS3Config returns defaults based on the current machine.
func DefaultS3Config() S3Config {
	return S3Config{
		Concurrency: min(max(runtime.NumCPU(), 4), 16),
		PartSize:    16 * 1024 * 1024,
	}
}

// S3Source downloads objects with the S3 transfer manager.
type S3Source struct {
	manager *manager.Downloader
	cfg     S3Config
}

// NewS3Source creates a source using the default AWS credential chain.
func NewS3Source(ctx context.Context, cfg S3Config) (*S3Source, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewS3SourceWithClient(s3.NewFromConfig(awsCfg), cfg), nil
}

// NewS3SourceWithClient creates a source from an existing S3 client.
func NewS3SourceWithClient(client *s3.Client, cfg S3Config) *S3Source {
	def := DefaultS3Config()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PartSize <= 0 {
		cfg.PartSize = def.PartSize
	}
	mgr := manager.NewDownloader(client, func(d *manager.Downloader) {
		d.Concurrency = cfg.Concurrency
		d.PartSize = cfg.PartSize
	})
	return &S3Source{manager: mgr, cfg: cfg}
}

// download fetches an object into a temporary file positioned at offset 0.
func (s *S3Source) download(ctx context.Context, bucket, key string) (*os.File, int64, error) {
	start := time.Now()
	tmp, err := os.CreateTemp(s.cfg.TempDir, "chunkagg-s3-*.tmp")
	if err != nil {
		return nil, 0, fmt.Errorf("create temp file: %w", err)
	}

	n, err := s.manager.Download(ctx, tmp, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		removeTemp(tmp)
		return nil, 0, fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		removeTemp(tmp)
		return nil, 0, fmt.Errorf("seek temp file: %w", err)
	}

	elapsed := time.Since(start)
	log := logctx.FromContext(ctx)
	log.Info().
		Str("bucket", bucket).
		Str("key", key).
		Int64("bytes", n).
		Str("bytes_h", humanfmt.Bytes(n)).
		Str("throughput", humanfmt.Throughput(n, elapsed)).
		Dur("elapsed", elapsed).
		Msg("downloaded object")
	return tmp, n, nil
}

// Open downloads s3://bucket/key and returns a reader for its format.
func (s *S3Source) Open(ctx context.Context, uri string) (Reader, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("invalid S3 URI %q: missing object key", uri)
	}
	format, err := DetectFormat(key)
	if err != nil {
		return nil, err
	}

	tmp, size, err := s.download(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	if format == FormatParquet {
		return newParquetFromTemp(tmp, size)
	}
	return NewCSVReaderFromStream(tempFileStream{tmp}, key)
}

// tempFileStream reads a temporary file and removes it on Close.
type tempFileStream struct{ f *os.File }

func (t tempFileStream) Read(p []byte) (int, error) { return t.f.Read(p) }

func (t tempFileStream) Close() error { return tempCloser(t).Close() }

// ParseS3URI splits s3://bucket/key. The key may be empty.
func ParseS3URI(uri string) (bucket, key string, err error) {
	if !strings.HasPrefix(uri, "s3://") {
		return "", "", errors.New("invalid S3 URI: must start with s3://")
	}
	bucket, key, _ = strings.Cut(strings.TrimPrefix(uri, "s3://"), "/")
	if bucket == "" {
		return "", "", errors.New("invalid S3 URI: missing bucket name")
	}
	return bucket, key, nil
}

// IsS3URI reports whether path names an S3 object.
func IsS3URI(path string) bool {
	return strings.HasPrefix(path, "s3://")
}
