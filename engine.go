// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package biofhe

import (
	"context"
	"encoding"
)

// Ciphertext is an engine-specific encrypted digit. It is opaque to the
// pipeline but can be serialized for storage.
type Ciphertext interface {
	encoding.BinaryMarshaler
}

// RadixCiphertext is an encrypted integer as little-endian digits.
type RadixCiphertext struct {
	Blocks []Ciphertext
}

// Width returns the number of digits.
func (r *RadixCiphertext) Width() int { return len(r.Blocks) }

// Engine is the homomorphic evaluation backend.
//
// Encrypt produces a ciphertext that decrypts to the message under the active
// secret key. EvaluateLookup keyswitches and bootstraps one ciphertext on the
// host device. Add sums two radix ciphertexts of equal width with carry
// propagation, modulo base^width. CompareGreaterOrEqual returns an encrypted
// boolean.
type Engine interface {
	Encrypt(ctx context.Context, message uint64) (Ciphertext, error)
	EvaluateLookup(ctx context.Context, ct Ciphertext, lookup *Lookup, mode DigitMode) (Ciphertext, error)
	TrivialZero(width int) (*RadixCiphertext, error)
	Add(ctx context.Context, a, b *RadixCiphertext) (*RadixCiphertext, error)
	CompareGreaterOrEqual(ctx context.Context, value *RadixCiphertext, scalar uint64) (Ciphertext, error)
	Decrypt(ct Ciphertext) (uint64, error)
	DecryptBool(ct Ciphertext) (bool, error)

	// Host returns the device backing the host worker pool.
	Host() Device
	// Accelerator returns the batch device, or ErrNoAccelerator.
	Accelerator() (Device, error)
}

// Device runs the two halves of a table evaluation over a batch.
// Outputs are positional: result i belongs to input i.
type Device interface {
	Name() string
	KeySwitch(ctx context.Context, cts []Ciphertext) ([]Ciphertext, error)
	Bootstrap(ctx context.Context, cts []Ciphertext, lookups []*Lookup, mode DigitMode) ([]Ciphertext, error)
}
