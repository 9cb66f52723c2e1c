// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

// Package storage keeps serialized ciphertexts and enrolled templates under
// content-derived handles.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Common errors.
var (
	ErrNotFound      = errors.New("blob not found")
	ErrStorageFull   = errors.New("storage capacity exceeded")
	ErrInvalidHandle = errors.New("invalid blob handle")
	ErrClosed        = errors.New("storage closed")
)

// Handle identifies a blob by the SHA-256 of its uncompressed bytes.
type Handle string

// ComputeHandle derives the handle of data.
func ComputeHandle(data []byte) Handle {
	sum := sha256.Sum256(data)
	return Handle(hex.EncodeToString(sum[:]))
}

// ParseHandle checks that s is a well formed handle.
func ParseHandle(s string) (Handle, error) {
	if len(s) != 2*sha256.Size {
		return "", fmt.Errorf("%w: %q", ErrInvalidHandle, s)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidHandle, s)
	}
	return Handle(s), nil
}

// Storage is a content-addressed blob store. Storing the same bytes twice
// returns the same handle.
type Storage interface {
	Store(ctx context.Context, data []byte) (Handle, error)
	Load(ctx context.Context, handle Handle) ([]byte, error)
	Delete(ctx context.Context, handle Handle) error
	Exists(ctx context.Context, handle Handle) (bool, error)
	Close() error
}

// MemoryStorage keeps blobs in a map bounded by a byte capacity.
type MemoryStorage struct {
	mu       sync.RWMutex
	blobs    map[Handle][]byte
	capacity int64
	size     int64
}

// NewMemoryStorage returns a store holding at most capacityMB megabytes.
func NewMemoryStorage(capacityMB int64) *MemoryStorage {
	return &MemoryStorage{
		blobs:    make(map[Handle][]byte),
		capacity: capacityMB << 20,
	}
}

// Size returns the number of stored bytes.
func (s *MemoryStorage) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

func (s *MemoryStorage) Store(ctx context.Context, data []byte) (Handle, error) {
	h := ComputeHandle(data)
	if err := s.put(ctx, h, data); err != nil {
		return "", err
	}
	return h, nil
}

func (s *MemoryStorage) put(ctx context.Context, h Handle, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blobs == nil {
		return ErrClosed
	}
	if _, ok := s.blobs[h]; ok {
		return nil
	}
	if s.size+int64(len(data)) > s.capacity {
		return ErrStorageFull
	}
	s.blobs[h] = append([]byte(nil), data...)
	s.size += int64(len(data))
	return nil
}

func (s *MemoryStorage) Load(ctx context.Context, handle Handle) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.blobs == nil {
		return nil, ErrClosed
	}
	data, ok := s.blobs[handle]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStorage) Delete(ctx context.Context, handle Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blobs == nil {
		return ErrClosed
	}
	data, ok := s.blobs[handle]
	if !ok {
		return ErrNotFound
	}
	s.size -= int64(len(data))
	delete(s.blobs, handle)
	return nil
}

func (s *MemoryStorage) Exists(ctx context.Context, handle Handle) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.blobs == nil {
		return false, ErrClosed
	}
	_, ok := s.blobs[handle]
	return ok, nil
}

func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs = nil
	s.size = 0
	return nil
}

// FileStorage keeps one file per blob, sharded by handle prefix.
type FileStorage struct {
	dir string
}

// NewFileStorage creates dir if needed.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStorage{dir: dir}, nil
}

func (s *FileStorage) path(handle Handle) (string, error) {
	if _, err := ParseHandle(string(handle)); err != nil {
		return "", err
	}
	h := string(handle)
	return filepath.Join(s.dir, h[:2], h), nil
}

func (s *FileStorage) Store(ctx context.Context, data []byte) (Handle, error) {
	h := ComputeHandle(data)
	if err := s.put(ctx, h, data); err != nil {
		return "", err
	}
	return h, nil
}

func (s *FileStorage) put(ctx context.Context, h Handle, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(h)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}

	// Write to a temp file and rename so readers never see a partial blob.
	f, err := os.CreateTemp(filepath.Dir(path), string(h[:8])+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func (s *FileStorage) Load(ctx context.Context, handle Handle) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(handle)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

func (s *FileStorage) Delete(ctx context.Context, handle Handle) error {
	path, err := s.path(handle)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}

func (s *FileStorage) Exists(ctx context.Context, handle Handle) (bool, error) {
	path, err := s.path(handle)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat blob: %w", err)
	}
}

func (s *FileStorage) Close() error { return nil }
