package s3blob

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

// minPartSize is the S3 minimum multipart part size (5 MiB).
const minPartSize int64 = 5 * 1024 * 1024

// Writer implements domain.BlobWriter for the archive: per-cycle snapshot
// documents go through Put, daily metric exports stream through
// PutMultipart.
type Writer struct {
	client *s3.Client
	bucket string
}

// NewWriter creates a Writer for the client's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{client: c.S3(), bucket: c.Bucket()}
}

// Put uploads a small object in one request.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if _, err := w.client.PutObject(ctx, w.input(path, data, contentType)); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}

// PutMultipart streams data of unknown length through the upload manager.
// partSize is raised to the S3 minimum when smaller.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	uploader := manager.NewUploader(w.client, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
	})
	if _, err := uploader.Upload(ctx, w.input(path, data, "")); err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", path, err)
	}
	return nil
}

func (w *Writer) input(path string, data io.Reader, contentType string) *s3.PutObjectInput {
	ctype, encoding := objectHeaders(path, contentType)
	in := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(ctype),
	}
	if encoding != "" {
		in.ContentEncoding = aws.String(encoding)
	}
	return in
}

// objectHeaders derives the content type from the key when none is given
// and marks ".gz" keys as gzip encoded.
func objectHeaders(path, contentType string) (ctype, encoding string) {
	base, gz := strings.CutSuffix(path, ".gz")
	if gz {
		encoding = "gzip"
	}
	if contentType != "" {
		return contentType, encoding
	}
	switch {
	case strings.HasSuffix(base, ".jsonl"):
		return "application/x-ndjson", encoding
	case strings.HasSuffix(base, ".json"):
		return "application/json", encoding
	case strings.HasSuffix(base, ".csv"):
		return "text/csv", encoding
	case gz:
		return "application/gzip", ""
	default:
		return "application/octet-stream", encoding
	}
}

// Compile-time interface check.
var _ domain.BlobWriter = (*Writer)(nil)
