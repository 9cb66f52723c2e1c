// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package biofhe

import "fmt"

// MaxBins is the largest bin count whose codes still fit a Code.
const MaxBins = 255

// Code is a quantized feature value.
type Code = uint8

// Bins are ascending quantization boundaries. Ordering is not checked.
type Bins []float64

// Quantize returns the smallest i with value <= bins[i], or len(bins) when the
// value is above every boundary.
func Quantize(value float64, bins Bins) int {
	for i, b := range bins {
		if value <= b {
			return i
		}
	}
	return len(bins)
}

// QuantizeVector quantizes every element against the same bins.
func QuantizeVector(vector []float64, bins Bins) []Code {
	codes := make([]Code, len(vector))
	for i, v := range vector {
		codes[i] = Code(Quantize(v, bins))
	}
	return codes
}

// QuantizeFeatures quantizes element i against perFeature[i].
func QuantizeFeatures(vector []float64, perFeature []Bins) ([]Code, error) {
	if len(vector) != len(perFeature) {
		return nil, &MalformedInputError{
			Source: "feature vector",
			Err:    fmt.Errorf("%d values for %d bin sets", len(vector), len(perFeature)),
		}
	}
	codes := make([]Code, len(vector))
	for i, v := range vector {
		codes[i] = Code(Quantize(v, perFeature[i]))
	}
	return codes, nil
}
