package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore keeps artifacts in an S3-compatible bucket so that agents on
// other hosts can fetch them.
type ObjectStore struct {
	client *minio.Client
	bucket string
}

type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func NewObjectStore(ctx context.Context, cfg ObjectStoreConfig) (*ObjectStore, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("object store endpoint is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
	}
	return &ObjectStore{client: client, bucket: cfg.Bucket}, nil
}

// Publish spools the artifact to a local temp file first so the object is
// written with a known size in a single PutObject call. A handle only exists
// once that call has returned.
func (s *ObjectStore) Publish(ctx context.Context, runID int64, r io.Reader) (Handle, error) {
	tmp, err := os.CreateTemp("", "matrixci-artifact-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if err != nil {
		return "", err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	h := Handle(fmt.Sprintf("run%d-%s", runID, hex.EncodeToString(hasher.Sum(nil))[:16]))
	if _, err := s.client.PutObject(
		ctx, s.bucket, string(h), tmp, size,
		minio.PutObjectOptions{ContentType: "application/gzip"},
	); err != nil {
		return "", err
	}
	return h, nil
}

func (s *ObjectStore) Fetch(ctx context.Context, h Handle) (io.ReadCloser, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, string(h), minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, string(h), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	return obj, nil
}
