package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// Uploader ships one exported file to long-term storage. Tests drop in a
// recording fake; production uses S3Uploader.
type Uploader interface {
	Upload(ctx context.Context, bucket, key string, body io.Reader) error
}

// S3Uploader uploads through the AWS SDK. Credentials come from the default
// chain (environment, shared config, instance role).
type S3Uploader struct {
	uploader *s3manager.Uploader
}

// NewS3Uploader builds an uploader from ambient AWS configuration.
func NewS3Uploader() (*S3Uploader, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, err
	}
	return &S3Uploader{uploader: s3manager.NewUploader(sess)}, nil
}

func (u *S3Uploader) Upload(ctx context.Context, bucket, key string, body io.Reader) error {
	_, err := u.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	return err
}

// uploadTree walks an export directory and uploads every regular file,
// keying each object by its path relative to root so the bucket mirrors the
// local partition layout.
func uploadTree(ctx context.Context, up Uploader, bucket, root string) (int, error) {
	uploaded := 0
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := strings.ReplaceAll(rel, string(filepath.Separator), "/")

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		if err := up.Upload(ctx, bucket, key, f); err != nil {
			return err
		}
		uploaded++
		return nil
	})
	return uploaded, err
}
