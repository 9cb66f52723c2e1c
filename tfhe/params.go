// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

// Package tfhe is a biofhe.Engine built on luxfi/lattice blind rotations.
//
// Digits are LWE samples encoding m in [0, 2^(2*BlockLength)) as m*Q/(2M),
// one padding bit above the message and carry. Every table evaluation is a
// programmable bootstrap whose test polynomial tabulates the lookup; the
// input is shifted by Q/(4M) first so noise on either side of m stays in
// m's rotation window.
package tfhe

import (
	"fmt"
	"math"

	"github.com/luxfi/lattice/v7/core/rlwe"
	"github.com/luxfi/lattice/v7/ring"
	"github.com/luxfi/lattice/v7/utils"

	"github.com/luxfi/biofhe"
)

// Parameters defines the lattice parameter set.
type Parameters struct {
	paramsLWE     rlwe.Parameters
	paramsBR      rlwe.Parameters
	evkParams     rlwe.EvaluationKeyParameters
	hammingWeight int
}

// ParametersLiteral is a user-facing parameter set.
type ParametersLiteral struct {
	// LogN is log2 of the ring dimension shared by LWE samples and blind rotation.
	LogN int
	// Q is the ciphertext modulus, an NTT-friendly prime for 2^(LogN+1).
	Q uint64
	// BaseTwoDecomposition of the blind rotation key gadget.
	BaseTwoDecomposition int
	// HammingWeight of the ternary secret. Zero samples a uniform ternary key.
	HammingWeight int
}

// Standard parameter sets. Blind rotation reads the phase modulo 2N, and
// switching the key's mask to that modulus adds noise that grows with the
// square root of the secret's Hamming weight. Sparse keys keep that noise
// small enough to decode every message. The sets target correctness of
// the protocol, not a production security level.
var (
	// PN10QP60 uses N=1024 and a 60-bit modulus for digits of up to 2 bits.
	PN10QP60 = ParametersLiteral{
		LogN:                 10,
		Q:                    0x1fffffffffe00001,
		BaseTwoDecomposition: 16,
		HammingWeight:        32,
	}

	// PN12QP60 uses N=4096 for 3-bit digits.
	PN12QP60 = ParametersLiteral{
		LogN:                 12,
		Q:                    0x1fffffffffe00001,
		BaseTwoDecomposition: 16,
		HammingWeight:        32,
	}
)

// DefaultParameters returns the smallest standard set whose message space
// holds a digit of radix and its carry.
func DefaultParameters(radix biofhe.Radix) ParametersLiteral {
	if 2*radix.BlockLength <= 4 {
		return PN10QP60
	}
	return PN12QP60
}

// NewParametersFromLiteral creates Parameters from a literal.
func NewParametersFromLiteral(lit ParametersLiteral) (params Parameters, err error) {
	var xs ring.DistributionParameters = rlwe.DefaultXs
	if lit.HammingWeight > 0 {
		xs = ring.Ternary{H: lit.HammingWeight}
	}
	params.paramsLWE, err = rlwe.NewParametersFromLiteral(rlwe.ParametersLiteral{
		LogN:    lit.LogN,
		Q:       []uint64{lit.Q},
		Xs:      xs,
		NTTFlag: true,
	})
	if err != nil {
		return params, fmt.Errorf("lwe parameters: %w", err)
	}

	params.paramsBR, err = rlwe.NewParametersFromLiteral(rlwe.ParametersLiteral{
		LogN:    lit.LogN,
		Q:       []uint64{lit.Q},
		Xs:      xs,
		NTTFlag: true,
	})
	if err != nil {
		return params, fmt.Errorf("blind rotation parameters: %w", err)
	}

	params.evkParams = rlwe.EvaluationKeyParameters{
		BaseTwoDecomposition: utils.Pointy(lit.BaseTwoDecomposition),
	}
	params.hammingWeight = lit.HammingWeight
	if params.hammingWeight == 0 {
		params.hammingWeight = 2 * params.N() / 3
	}
	return params, nil
}

// N returns the ring dimension.
func (p Parameters) N() int { return p.paramsLWE.N() }

// Q returns the ciphertext modulus.
func (p Parameters) Q() uint64 { return p.paramsLWE.Q()[0] }

// HammingWeight returns the expected number of non-zero secret coefficients.
func (p Parameters) HammingWeight() int { return p.hammingWeight }

// RotationNoise is the standard deviation, in units of the 2N rotation
// modulus, that switching a fresh or bootstrapped sample to 2N adds. Each
// non-zero secret coefficient meets a rounding error and, for half the mask,
// the increment that makes it odd.
func (p Parameters) RotationNoise() float64 {
	return math.Sqrt((0.5 + 1.0/12) * float64(p.hammingWeight))
}

// MaxMessageBits is the widest message (digit plus carry) whose rotation
// window of N/(2M) on each side stays six standard deviations of
// RotationNoise wide.
func (p Parameters) MaxMessageBits() int {
	maxMsg := float64(p.N()) / (12 * p.RotationNoise())
	if maxMsg < 2 {
		return 0
	}
	return int(math.Floor(math.Log2(maxMsg)))
}
