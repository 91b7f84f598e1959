package remote

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/melih-ucgun/autoconfig/internal/config"
	"github.com/melih-ucgun/autoconfig/internal/entry"
)

// objectClient is the part of *minio.Client the store uses.
type objectClient interface {
	FGetObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// S3Store reads and writes packages as objects in S3 compatible storage.
// A PUT replaces an object atomically, so no temporary object is needed.
type S3Store struct {
	client objectClient
}

func NewS3Store(cfg config.S3Config, reveal func(string) (string, error)) (*S3Store, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}

	var creds *credentials.Credentials
	if cfg.AccessKey != "" {
		secret, err := reveal(cfg.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("s3 secret key: %w", err)
		}
		creds = credentials.NewStaticV4(cfg.AccessKey, secret, "")
	} else {
		creds = credentials.NewEnvAWS()
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: !cfg.Insecure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client for %s: %w", endpoint, err)
	}
	return &S3Store{client: client}, nil
}

func (s *S3Store) Download(ctx context.Context, loc Location, localPath string) error {
	if err := s.client.FGetObject(ctx, loc.Bucket, loc.Path, localPath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("download %s: %w", loc, err)
	}
	return nil
}

func (s *S3Store) Upload(ctx context.Context, loc Location, localPath string) error {
	_, err := s.client.FPutObject(ctx, loc.Bucket, loc.Path, localPath, minio.PutObjectOptions{
		ContentType: contentType(loc.Name()),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", loc, err)
	}
	return nil
}

func (s *S3Store) Close() error { return nil }

func contentType(name string) string {
	switch entry.Classify(name, false, false) {
	case entry.KindJar, entry.KindWar, entry.KindEar, entry.KindRar:
		return "application/java-archive"
	case entry.KindZip:
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
