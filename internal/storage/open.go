// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package storage

import (
	"fmt"

	"github.com/luxfi/biofhe"
)

// Open builds the backend named by s.Backend, wrapped with compression when
// s.Compress is set.
func Open(s biofhe.StorageSettings) (Storage, error) {
	var (
		st  Storage
		err error
	)
	switch s.Backend {
	case "", "memory":
		st = NewMemoryStorage(int64(s.Capacity))
	case "file":
		if s.Dir == "" {
			return nil, fmt.Errorf("%w: file storage needs a directory", biofhe.ErrInvalidConfig)
		}
		st, err = NewFileStorage(s.Dir)
	case "minio":
		st, err = NewMinioStorage(MinioOptions{
			Endpoint:  s.Endpoint,
			Bucket:    s.Bucket,
			Prefix:    s.Prefix,
			AccessKey: s.AccessKey,
			SecretKey: s.SecretKey,
			UseSSL:    s.UseSSL,
		})
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", biofhe.ErrInvalidConfig, s.Backend)
	}
	if err != nil {
		return nil, err
	}
	if !s.Compress {
		return st, nil
	}
	return NewCompressed(st)
}
