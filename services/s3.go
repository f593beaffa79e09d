package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gifconverter/config"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// ObjectStore mirrors local files into a bucket.
type ObjectStore interface {
	Upload(ctx context.Context, localPath string, key string) error
}

// NewObjectStore returns the configured mirror, or nil when none is set.
func NewObjectStore(cfg *config.Config) (ObjectStore, error) {
	switch cfg.ObjectStore {
	case "":
		return nil, nil
	case config.ObjectStoreS3:
		return NewS3Service(cfg), nil
	case config.ObjectStoreMinio:
		return NewMinioService(cfg)
	default:
		return nil, fmt.Errorf("unknown object store %q", cfg.ObjectStore)
	}
}

type S3Service struct {
	session  *session.Session
	bucket   string
	uploader *s3manager.Uploader
}

func NewS3Service(cfg *config.Config) *S3Service {
	awsCfg := &aws.Config{
		Region: aws.String(cfg.S3Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AWSS3AccessKey,
			cfg.AWSS3SecretKey,
			"",
		),
	}

	if cfg.S3Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
	}

	if cfg.S3UsePathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess := session.Must(session.NewSession(awsCfg))

	return &S3Service{
		session:  sess,
		bucket:   cfg.S3Bucket,
		uploader: s3manager.NewUploader(sess),
	}
}

func (s *S3Service) Upload(ctx context.Context, localPath string, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentTypeFor(localPath)),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	return nil
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4":
		return "video/mp4"
	case ".gif":
		return "image/gif"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
