// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package tfhe

import (
	"bytes"
	"encoding/gob"

	"github.com/luxfi/lattice/v7/core/rgsw/blindrot"
	"github.com/luxfi/lattice/v7/core/rlwe"
)

// SecretKey is the LWE secret. LWE samples and blind rotation share one ring,
// so one key serves both.
type SecretKey struct {
	SK *rlwe.SecretKey
}

// BootstrapKey holds the blind rotation key. It is public.
type BootstrapKey struct {
	BRK blindrot.BlindRotationEvaluationKeySet
}

// KeyGenerator generates keys.
type KeyGenerator struct {
	params Parameters
	kgen   *rlwe.KeyGenerator
}

// NewKeyGenerator creates a new key generator.
func NewKeyGenerator(params Parameters) *KeyGenerator {
	return &KeyGenerator{
		params: params,
		kgen:   rlwe.NewKeyGenerator(params.paramsBR),
	}
}

// GenSecretKey generates a new secret key.
func (kg *KeyGenerator) GenSecretKey() *SecretKey {
	return &SecretKey{SK: kg.kgen.GenSecretKeyNew()}
}

// GenBootstrapKey generates the blind rotation key for sk.
func (kg *KeyGenerator) GenBootstrapKey(sk *SecretKey) *BootstrapKey {
	return &BootstrapKey{
		BRK: blindrot.GenEvaluationKeyNew(kg.params.paramsBR, sk.SK, kg.params.paramsLWE, sk.SK, kg.params.evkParams),
	}
}

// MarshalBinary serializes the secret key.
func (sk *SecretKey) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(sk.SK); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary deserializes a secret key.
func (sk *SecretKey) UnmarshalBinary(data []byte) error {
	sk.SK = new(rlwe.SecretKey)
	return gob.NewDecoder(bytes.NewReader(data)).Decode(sk.SK)
}
