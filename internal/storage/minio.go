// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioOptions configures an S3-compatible backend.
type MinioOptions struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// MinioStorage keeps blobs as objects in a MinIO or S3 bucket.
type MinioStorage struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioStorage connects to opts.Endpoint. The bucket must exist.
func NewMinioStorage(opts MinioOptions) (*MinioStorage, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return NewMinioStorageWithClient(client, opts.Bucket, opts.Prefix), nil
}

// NewMinioStorageWithClient uses an existing client.
func NewMinioStorageWithClient(client *minio.Client, bucket, prefix string) *MinioStorage {
	return &MinioStorage{client: client, bucket: bucket, prefix: prefix}
}

func (s *MinioStorage) key(handle Handle) (string, error) {
	if _, err := ParseHandle(string(handle)); err != nil {
		return "", err
	}
	h := string(handle)
	return path.Join(s.prefix, h[:2], h), nil
}

func notFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (s *MinioStorage) Store(ctx context.Context, data []byte) (Handle, error) {
	h := ComputeHandle(data)
	if err := s.put(ctx, h, data); err != nil {
		return "", err
	}
	return h, nil
}

func (s *MinioStorage) put(ctx context.Context, h Handle, data []byte) error {
	key, err := s.key(h)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *MinioStorage) Load(ctx context.Context, handle Handle) ([]byte, error) {
	key, err := s.key(handle)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer obj.Close()

	// GetObject is lazy, a missing key surfaces on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func (s *MinioStorage) Delete(ctx context.Context, handle Handle) error {
	ok, err := s.Exists(ctx, handle)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	key, _ := s.key(handle)
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func (s *MinioStorage) Exists(ctx context.Context, handle Handle) (bool, error) {
	key, err := s.key(handle)
	if err != nil {
		return false, err
	}
	_, err = s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if notFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return true, nil
}

func (s *MinioStorage) Close() error { return nil }
