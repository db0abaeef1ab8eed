// Package blob stores uploaded recordings. Audio always lands on local
// disk, which the pipeline reads from; an optional MinIO mirror keeps a
// durable copy for replay and audit.
package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"github.com/example/meetingpipe/internal/config"
)

type Store struct {
	root   string
	client *minio.Client
	bucket string
	log    *logrus.Entry
}

func NewLocal(root string, log *logrus.Entry) *Store {
	return &Store{root: root, log: log}
}

func New(cfg config.Config, log *logrus.Entry) (*Store, error) {
	s := &Store{root: cfg.AudioRoot, log: log}
	if strings.TrimSpace(cfg.MinIOEndpoint) == "" {
		return s, nil
	}
	client, err := minio.New(cfg.MinIOEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinIOAccessKey, cfg.MinIOSecretKey, ""),
		Secure: cfg.MinIOUseSSL,
	})
	if err != nil {
		return nil, err
	}
	bucket := strings.TrimSpace(cfg.MinIOBucket)
	if bucket == "" {
		bucket = "meetpipe-audio"
	}
	exists, err := client.BucketExists(context.Background(), bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(context.Background(), bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
	}
	s.client = client
	s.bucket = bucket
	return s, nil
}

// Save writes the upload under the job's directory and returns the local
// path with the byte count. A configured mirror upload happens after the
// local write; mirror failures are logged, not fatal, since the local
// copy drives processing.
func (s *Store) Save(ctx context.Context, jobID, filename string, r io.Reader) (string, int64, error) {
	dir := filepath.Join(s.root, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, err
	}
	name := filepath.Base(filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "recording"
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("write upload: %w", err)
	}
	if s.client != nil {
		object := jobID + "/" + name
		if _, err := s.client.FPutObject(ctx, s.bucket, object, path, minio.PutObjectOptions{ContentType: "application/octet-stream"}); err != nil {
			s.log.WithField("object", object).WithError(err).Warn("minio mirror failed")
		}
	}
	return path, n, nil
}

// Remove drops the job's local audio directory once processing is done.
func (s *Store) Remove(jobID string) {
	if jobID == "" {
		return
	}
	if err := os.RemoveAll(filepath.Join(s.root, jobID)); err != nil {
		s.log.WithField("job_id", jobID).WithError(err).Warn("audio cleanup failed")
	}
}
