// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package server

import (
	"errors"
	"fmt"
	"os"

	"github.com/luxfi/biofhe"
	"github.com/luxfi/biofhe/cleartext"
	"github.com/luxfi/biofhe/internal/storage"
	"github.com/luxfi/biofhe/internal/tables"
	"github.com/luxfi/biofhe/tfhe"
)

// Engine names accepted by NewEngine.
const (
	EngineTFHE      = "tfhe"
	EngineCleartext = "cleartext"
)

// NewEngine builds the named engine for cfg. For tfhe, keyPath holds the
// secret key: it is loaded when present and written after generation
// otherwise. An empty keyPath keeps the key in memory.
func NewEngine(name string, cfg biofhe.Config, keyPath string) (biofhe.Engine, error) {
	switch name {
	case EngineCleartext:
		return cleartext.New(cfg.Radix()), nil
	case EngineTFHE, "":
	default:
		return nil, fmt.Errorf("%w: unknown engine %q", biofhe.ErrInvalidConfig, name)
	}

	var opts []tfhe.Option
	sk, err := loadKey(keyPath)
	if err != nil {
		return nil, err
	}
	if sk != nil {
		opts = append(opts, tfhe.WithSecretKey(sk))
	}
	e, err := tfhe.New(cfg.Radix(), opts...)
	if err != nil {
		return nil, err
	}
	if sk == nil && keyPath != "" {
		if err := saveKey(keyPath, e.SecretKey()); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func loadKey(path string) (*tfhe.SecretKey, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read secret key: %w", err)
	}
	sk := new(tfhe.SecretKey)
	if err := sk.UnmarshalBinary(data); err != nil {
		return nil, &biofhe.MalformedInputError{Source: path, Err: err}
	}
	return sk, nil
}

func saveKey(path string, sk *tfhe.SecretKey) error {
	data, err := sk.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal secret key: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write secret key: %w", err)
	}
	return nil
}

// Open loads the dataset tables named by settings, opens storage and builds
// a Verifier around engine. The returned provider serves dataset samples.
func Open(settings biofhe.Settings, engine biofhe.Engine, logger *biofhe.Logger) (*Verifier, *tables.Provider, error) {
	cfg, err := settings.Config()
	if err != nil {
		return nil, nil, err
	}
	provider := tables.NewProvider(settings.DataDir, cfg)
	scoreTables, err := provider.ScoreTables()
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.Open(settings.Storage)
	if err != nil {
		return nil, nil, err
	}
	v, err := NewVerifier(settings, engine, scoreTables, store, logger)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return v, provider, nil
}

// Close releases the verifier's storage.
func (v *Verifier) Close() error {
	return v.store.Close()
}
