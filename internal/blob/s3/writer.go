package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// minPartSize is the smallest part S3 accepts in a multipart upload.
const minPartSize int64 = 5 << 20

// Writer stores archive objects in the client's bucket.
type Writer struct {
	api      *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// NewWriter creates a Writer on c.
func NewWriter(c *Client) *Writer {
	return &Writer{api: c.S3(), uploader: manager.NewUploader(c.S3()), bucket: c.Bucket()}
}

func (w *Writer) object(key string, body io.Reader, contentType string) *s3.PutObjectInput {
	return &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
}

// Put stores data under key with one PutObject call.
func (w *Writer) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	if _, err := w.api.PutObject(ctx, w.object(key, data, contentType)); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}

// PutMultipart stores data under key in parts of at least partSize bytes,
// never below the S3 minimum.
func (w *Writer) PutMultipart(ctx context.Context, key string, data io.Reader, contentType string, partSize int64) error {
	_, err := w.uploader.Upload(ctx, w.object(key, data, contentType), func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
	})
	if err != nil {
		return fmt.Errorf("s3blob: multipart put %s: %w", key, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
