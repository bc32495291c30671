package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectPutter is the part of the S3 client used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader copies finished export files to a bucket.
type S3Uploader struct {
	client ObjectPutter
	bucket string
	prefix string
}

// ParseS3Target parses "bucket/prefix" or "bucket". A leading s3:// is
// accepted.
func ParseS3Target(target string) (bucket, prefix string) {
	target = strings.TrimPrefix(target, "s3://")
	parts := strings.SplitN(target, "/", 2)
	bucket = parts[0]
	if len(parts) > 1 {
		prefix = strings.Trim(parts[1], "/")
	}
	return bucket, prefix
}

// NewS3Uploader loads AWS credentials from the default chain.
func NewS3Uploader(ctx context.Context, target, region string) (*S3Uploader, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewS3UploaderWithClient(s3.NewFromConfig(awsConfig), target)
}

// NewS3UploaderWithClient uploads through client.
func NewS3UploaderWithClient(client ObjectPutter, target string) (*S3Uploader, error) {
	bucket, prefix := ParseS3Target(target)
	if bucket == "" {
		return nil, errors.New("S3 bucket is required")
	}
	return &S3Uploader{client: client, bucket: bucket, prefix: prefix}, nil
}

// Upload puts localPath under the configured prefix and returns its s3://
// URI.
func (u *S3Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open export for upload: %w", err)
	}
	defer f.Close()

	key := path.Join(u.prefix, filepath.Base(localPath))
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(localPath)),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s to s3://%s/%s: %w", localPath, u.bucket, key, err)
	}
	return "s3://" + u.bucket + "/" + key, nil
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".csv":
		return "text/csv"
	case ".json", ".jsonl":
		return "application/x-ndjson"
	default:
		return "application/octet-stream"
	}
}
