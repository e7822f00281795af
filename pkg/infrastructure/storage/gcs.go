package storage

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore provides blob storage operations using Google Cloud Storage
type GCSStore struct {
	Client *storage.Client
}

func (s *GCSStore) Write(ctx context.Context, bucketName, objectName string, data []byte) error {
	wc := s.Client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	if _, err := wc.Write(data); err != nil {
		return err
	}
	return wc.Close()
}

func (s *GCSStore) Read(ctx context.Context, bucketName, objectName string) ([]byte, error) {
	rc, err := s.Client.Bucket(bucketName).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *GCSStore) Delete(ctx context.Context, bucketName, objectName string) error {
	err := s.Client.Bucket(bucketName).Object(objectName).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}
