// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package storage

import (
	"context"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Compressed wraps a Storage and zstd-compresses blobs at rest. Handles are
// computed over the uncompressed bytes, so they match the plain backends.
type Compressed struct {
	inner keyedStorage
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

// NewCompressed wraps one of the backends of this package.
func NewCompressed(inner Storage) (*Compressed, error) {
	ks, ok := inner.(keyedStorage)
	if !ok {
		return nil, fmt.Errorf("storage: %T cannot hold compressed blobs", inner)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create compressor: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create decompressor: %w", err)
	}
	return &Compressed{inner: ks, enc: enc, dec: dec}, nil
}

// Store compresses data before storing it under the handle of the original
// bytes.
func (c *Compressed) Store(ctx context.Context, data []byte) (Handle, error) {
	h := ComputeHandle(data)
	if ok, err := c.inner.Exists(ctx, h); err != nil {
		return "", err
	} else if ok {
		return h, nil
	}
	// EncodeAll and DecodeAll are safe for concurrent use.
	packed := c.enc.EncodeAll(data, nil)
	if err := c.inner.put(ctx, h, packed); err != nil {
		return "", err
	}
	return h, nil
}

func (c *Compressed) Load(ctx context.Context, handle Handle) ([]byte, error) {
	packed, err := c.inner.Load(ctx, handle)
	if err != nil {
		return nil, err
	}
	data, err := c.dec.DecodeAll(packed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", handle, err)
	}
	return data, nil
}

func (c *Compressed) Delete(ctx context.Context, handle Handle) error {
	return c.inner.Delete(ctx, handle)
}

func (c *Compressed) Exists(ctx context.Context, handle Handle) (bool, error) {
	return c.inner.Exists(ctx, handle)
}

func (c *Compressed) Close() error {
	c.enc.Close()
	c.dec.Close()
	return c.inner.Close()
}

// keyedStorage is implemented by backends that can store bytes under a
// handle other than their own digest.
type keyedStorage interface {
	Storage
	put(ctx context.Context, handle Handle, data []byte) error
}
