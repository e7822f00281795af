package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalStore keeps blobs on the local filesystem, one directory per bucket.
// It is the default backend when no GCS bucket is configured.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

func (s *LocalStore) path(bucket, object string) string {
	return filepath.Join(s.root, bucket, filepath.FromSlash(object))
}

func (s *LocalStore) Write(ctx context.Context, bucket, object string, data []byte) error {
	p := s.path(bucket, object)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	return nil
}

func (s *LocalStore) Read(ctx context.Context, bucket, object string) ([]byte, error) {
	data, err := os.ReadFile(s.path(bucket, object))
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

func (s *LocalStore) Delete(ctx context.Context, bucket, object string) error {
	err := os.Remove(s.path(bucket, object))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}
