package objectstore

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/neuroinsight/neuroinsight/pkg/config"
	"github.com/neuroinsight/neuroinsight/pkg/log"
)

// Uploader is the contract the executor depends on
type Uploader interface {
	// UploadDir recursively uploads localDir under
	// <jobID>/<prefix>/<relative path> and returns the file count
	UploadDir(ctx context.Context, jobID, localDir, prefix string) (int, error)
	Health(ctx context.Context) error
}

// MinIOUploader implements Uploader against MinIO or any S3-compatible
// endpoint
type MinIOUploader struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the output bucket exists
func New(ctx context.Context, cfg config.ObjectStoreConfig) (*MinIOUploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store %s: %w", cfg.Endpoint, err)
	}

	u := &MinIOUploader{client: client, bucket: cfg.OutputBucket}
	exists, err := client.BucketExists(ctx, cfg.OutputBucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.OutputBucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.OutputBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.OutputBucket, err)
		}
		log.WithComponent("objectstore").Info().Str("bucket", cfg.OutputBucket).Msg("bucket created")
	}
	return u, nil
}

// UploadDir walks localDir and uploads every regular file. Individual file
// failures are logged and skipped; only a walk failure aborts.
func (u *MinIOUploader) UploadDir(ctx context.Context, jobID, localDir, prefix string) (int, error) {
	logger := log.WithJobID(jobID)
	count := 0

	err := filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		object := path.Join(jobID, prefix, filepath.ToSlash(rel))
		if _, err := u.client.FPutObject(ctx, u.bucket, object, p, minio.PutObjectOptions{
			ContentType: contentTypeFor(p),
		}); err != nil {
			logger.Warn().Err(err).Str("object", object).Msg("upload failed, skipping file")
			return nil
		}
		count++
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("upload %s for job %s: %w", localDir, jobID, err)
	}
	logger.Info().Int("files", count).Str("prefix", prefix).Msg("output mirrored to object store")
	return count, nil
}

// Health verifies the bucket is reachable
func (u *MinIOUploader) Health(ctx context.Context) error {
	_, err := u.client.BucketExists(ctx, u.bucket)
	return err
}

func contentTypeFor(p string) string {
	switch {
	case strings.HasSuffix(p, ".json"):
		return "application/json"
	case strings.HasSuffix(p, ".html"):
		return "text/html"
	case strings.HasSuffix(p, ".csv"):
		return "text/csv"
	case strings.HasSuffix(p, ".png"):
		return "image/png"
	case strings.HasSuffix(p, ".nii.gz"), strings.HasSuffix(p, ".gz"):
		return "application/gzip"
	default:
		return "application/octet-stream"
	}
}
