// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

// Package biofhe implements biometric verification over homomorphically
// encrypted feature codes.
//
// A run loads per-feature classifier score tables once and compiles them with
// a Compiler: every table is shifted to nonnegative values and decomposed into
// little-endian digits of BlockLength bits. For a stored template, Compile
// yields a LookupSet holding, per feature, one Lookup per digit.
//
// A Pipeline then matches a quantized probe against the LookupSet:
//
//  1. repeat each probe code once per lookup of its feature and flatten
//  2. encrypt every code
//  3. evaluate each lookup on its ciphertext
//  4. zero-extend each feature's digits to the sum width
//  5. add the features with carry propagation
//  6. compare the total against the offset-shifted threshold
//  7. decrypt the resulting boolean
//
// Step 3 runs on the host worker pool, in one accelerator batch, or split
// between the two, as selected by a Strategy. The Engine interface abstracts
// the homomorphic scheme; package cleartext provides an insecure reference
// engine and package tfhe a lattice-based one.
package biofhe
