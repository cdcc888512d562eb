package upload

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gammadia/tune/experiment"
)

// Extension of uploaded archives
const Extension = ".tar.zst"

// Uploader stores the archive of a trial directory under a key.
type Uploader interface {
	Upload(ctx context.Context, dir, key string) error
}

// New creates the uploader for uri: s3://bucket/prefix, file:///path or a
// plain path.
func New(ctx context.Context, uri string) (Uploader, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid upload destination '%s': %w", uri, err)
	}

	switch u.Scheme {
	case "s3":
		if u.Host == "" {
			return nil, fmt.Errorf("invalid upload destination '%s': bucket is required", uri)
		}
		sdkConfig, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS SDK config: %w", err)
		}
		return &S3Uploader{
			client: s3.NewFromConfig(sdkConfig),
			bucket: u.Host,
			prefix: strings.Trim(u.Path, "/"),
		}, nil
	case "file":
		return &DirUploader{Dir: u.Path}, nil
	case "":
		return &DirUploader{Dir: experiment.ExpandHome(uri)}, nil
	default:
		return nil, fmt.Errorf("unsupported upload destination '%s'", uri)
	}
}

// DirUploader copies archives into a local directory.
type DirUploader struct {
	Dir string
}

func (u *DirUploader) Upload(ctx context.Context, dir, key string) error {
	target := filepath.Join(u.Dir, filepath.FromSlash(key)+Extension)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}

	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	if err := Archive(f, dir); err != nil {
		f.Close()
		os.Remove(target)
		return err
	}
	return f.Close()
}

// S3API is the part of the S3 client used for uploads.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Uploader struct {
	client S3API
	bucket string
	prefix string
}

func NewS3Uploader(client S3API, bucket, prefix string) *S3Uploader {
	return &S3Uploader{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (u *S3Uploader) Upload(ctx context.Context, dir, key string) error {
	// The SDK needs a seekable body to sign the payload.
	tmp, err := os.CreateTemp("", "tune-upload-*"+Extension)
	if err != nil {
		return fmt.Errorf("failed to create temporary archive: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := Archive(tmp, dir); err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind archive: %w", err)
	}

	objectKey := path.Join(u.prefix, key) + Extension
	if _, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(objectKey),
		Body:        tmp,
		ContentType: aws.String("application/zstd"),
	}); err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", u.bucket, objectKey, err)
	}
	return nil
}
