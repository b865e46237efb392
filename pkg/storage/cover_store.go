package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const coverKeyPrefix = "covers/"

// ErrUnsupportedCoverType reports a cover upload whose content type is not
// an image.
var ErrUnsupportedCoverType = errors.New("storage: cover must be an image")

// CoverKey returns the object key for a book's cover. One cover per book;
// re-uploading replaces the previous object.
func CoverKey(bookID string) string {
	return coverKeyPrefix + bookID
}

// CoverStore persists book cover images, keyed by book id.
type CoverStore interface {
	PutCover(ctx context.Context, bookID string, r io.Reader, size int64, contentType string) error
	PresignCover(ctx context.Context, bookID string, expiry time.Duration) (string, error)
	DeleteCover(ctx context.Context, bookID string) error
}

// MinioCoverStore keeps covers in a MinIO/S3 compatible bucket.
type MinioCoverStore struct {
	client *minio.Client
	bucket string
}

// NewMinioCoverStore connects to MinIO and ensures the cover bucket exists.
func NewMinioCoverStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioCoverStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check cover bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create cover bucket: %w", err)
		}
	}
	return &MinioCoverStore{client: client, bucket: bucket}, nil
}

// PutCover uploads the image under the book's cover key. Only image content
// types are accepted.
func (m *MinioCoverStore) PutCover(ctx context.Context, bookID string, r io.Reader, size int64, contentType string) error {
	if !strings.HasPrefix(contentType, "image/") {
		return fmt.Errorf("%w, got %q", ErrUnsupportedCoverType, contentType)
	}
	_, err := m.client.PutObject(ctx, m.bucket, CoverKey(bookID), r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put cover: %w", err)
	}
	return nil
}

// PresignCover returns a short-lived GET URL for the book's cover.
func (m *MinioCoverStore) PresignCover(ctx context.Context, bookID string, expiry time.Duration) (string, error) {
	url, err := m.client.PresignedGetObject(ctx, m.bucket, CoverKey(bookID), expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign cover: %w", err)
	}
	return url.String(), nil
}

// DeleteCover removes the book's cover object.
func (m *MinioCoverStore) DeleteCover(ctx context.Context, bookID string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, CoverKey(bookID), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete cover: %w", err)
	}
	return nil
}
