package ingest

import (
	"context"
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"
)

// Open returns a reader for a local path or an s3:// URI, choosing the
// format from the file extension.
func Open(ctx context.Context, path string, s3cfg S3Config) (Reader, error) {
	if IsS3URI(path) {
		src, err := NewS3Source(ctx, s3cfg)
		if err != nil {
			return nil, err
		}
		return src.Open(ctx, path)
	}

	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if format == FormatCSV {
		return NewCSVReaderFromStream(f, path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	file, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open parquet file %s: %w", path, err)
	}
	return newParquetReader(file, f), nil
}
