package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"cv-copilot/domain"

	"cloud.google.com/go/storage"
	"github.com/spf13/afero"
	"google.golang.org/api/option"
)

// GCSStore keeps uploaded files in a Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCSStore(ctx context.Context, bucket, prefix, credentialsFile string) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) Save(ctx context.Context, p string, data []byte) error {
	w := s.client.Bucket(s.bucket).Object(s.key(p)).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", s.bucket, s.key(p), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("write gs://%s/%s: %w", s.bucket, s.key(p), err)
	}
	return nil
}

func (s *GCSStore) Read(ctx context.Context, p string) ([]byte, error) {
	rc, err := s.client.Bucket(s.bucket).Object(s.key(p)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, domain.NotFoundf("read object", "object %s not found", p)
		}
		return nil, fmt.Errorf("read gs://%s/%s: %w", s.bucket, s.key(p), err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *GCSStore) key(p string) string {
	if s.prefix == "" {
		return p
	}
	return path.Join(s.prefix, p)
}

// FileStore keeps uploaded files under a root directory of an afero filesystem.
type FileStore struct {
	fs afero.Fs
}

func NewFileStore(fsys afero.Fs, root string) *FileStore {
	if root == "" {
		return &FileStore{fs: fsys}
	}
	return &FileStore{fs: afero.NewBasePathFs(fsys, root)}
}

func (s *FileStore) Save(_ context.Context, p string, data []byte) error {
	name := filepath.FromSlash(p)
	if err := s.fs.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", p, err)
	}
	if err := afero.WriteFile(s.fs, name, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

func (s *FileStore) Read(_ context.Context, p string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, filepath.FromSlash(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.NotFoundf("read object", "object %s not found", p)
		}
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return data, nil
}
