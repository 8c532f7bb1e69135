package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	awssession "github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Config configures the S3-backed uploader. Endpoint is optional and exists
// for S3-compatible stores (MinIO and friends).
type S3Config struct {
	Bucket     string
	Region     string
	Endpoint   string
	PublicBase string
}

// S3Uploader writes recording blobs to a path-addressed S3 bucket.
type S3Uploader struct {
	uploader   *s3manager.Uploader
	bucket     string
	publicBase string
}

func NewS3Uploader(cfg S3Config) (*S3Uploader, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 uploader: bucket is required")
	}

	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if strings.TrimSpace(cfg.Endpoint) != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}

	sess, err := awssession.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("s3 uploader: new session: %w", err)
	}

	return &S3Uploader{
		uploader:   s3manager.NewUploader(sess),
		bucket:     cfg.Bucket,
		publicBase: strings.TrimRight(cfg.PublicBase, "/"),
	}, nil
}

// Upload puts the blob at the logical path. S3 PUT semantics make re-uploads
// to the same key an overwrite, which is what chunk retries rely on.
func (u *S3Uploader) Upload(ctx context.Context, data []byte, logicalPath, contentType string) (string, error) {
	out, err := u.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(logicalPath),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", logicalPath, err)
	}

	if u.publicBase != "" {
		return u.publicBase + "/" + logicalPath, nil
	}
	return out.Location, nil
}
