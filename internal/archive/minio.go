// Package archive writes dataset snapshots to S3-compatible object
// storage. Every merge produces a timestamped copy of the canonical
// file, so reviewers can recover any previous state.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds object storage settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Service struct {
	client *minio.Client
	bucket string
}

// NewService connects to the object store and ensures the snapshot
// bucket exists.
func NewService(ctx context.Context, cfg Config) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}

	s := &Service{client: client, bucket: cfg.Bucket}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	log.Printf("archive: created snapshot bucket %s", s.bucket)
	return nil
}

// PutSnapshot stores one canonical dataset state under a timestamped
// object name.
func (s *Service) PutSnapshot(ctx context.Context, datasetPath string, payload []byte) (string, error) {
	objectName := snapshotName(datasetPath, time.Now().UTC())
	_, err := s.client.PutObject(ctx, s.bucket, objectName,
		bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)
	if err != nil {
		return "", fmt.Errorf("store snapshot %s: %w", objectName, err)
	}
	return objectName, nil
}

// ListSnapshots returns the object names stored for one dataset,
// newest last.
func (s *Service) ListSnapshots(ctx context.Context, datasetPath string) ([]string, error) {
	prefix := strings.TrimSuffix(datasetPath, ".json") + "/"
	var names []string
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list snapshots for %s: %w", datasetPath, object.Err)
		}
		names = append(names, object.Key)
	}
	return names, nil
}

func snapshotName(datasetPath string, at time.Time) string {
	base := strings.TrimSuffix(datasetPath, ".json")
	return fmt.Sprintf("%s/%s.json", base, at.Format("20060102T150405Z"))
}
