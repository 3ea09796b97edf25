package export

import (
	"context"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// ObjectPutter is the subset of *s3.Client used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Upload puts every file under bucket/prefix, keyed by its base name.
func Upload(ctx context.Context, client ObjectPutter, bucket, prefix string, files []string) error {
	for _, name := range files {
		key := path.Join(prefix, filepath.Base(name))
		if err := uploadFile(ctx, client, bucket, key, name); err != nil {
			return errors.Wrapf(err, "upload %s", name)
		}
		zctx.From(ctx).Info("Uploaded", zap.String("bucket", bucket), zap.String("key", key))
	}
	return nil
}

func uploadFile(ctx context.Context, client ObjectPutter, bucket, key, name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(name)),
	})
	return err
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".gz":
		return "application/gzip"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}
