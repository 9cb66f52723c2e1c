// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package biofhe_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/biofhe"
)

func TestQuantize(t *testing.T) {
	bins := biofhe.Bins{-1.5, -0.5, 0, 0.5, 1.5}

	tests := []struct {
		value float64
		want  int
	}{
		{-10, 0},
		{-1.5, 0},
		{-1.49, 1},
		{-0.5, 1},
		{-0.1, 2},
		{0, 2},
		{0.25, 3},
		{1.5, 4},
		{1.51, 5},
		{math.Inf(1), 5},
		{math.Inf(-1), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, biofhe.Quantize(tt.value, bins), "value %v", tt.value)
	}
}

func TestQuantizeEmptyBins(t *testing.T) {
	assert.Equal(t, 0, biofhe.Quantize(3.2, nil))
	assert.Equal(t, 0, biofhe.Quantize(-3.2, biofhe.Bins{}))
}

func TestQuantizeIsPure(t *testing.T) {
	bins := biofhe.Bins{0.1, 0.2, 0.3}
	snapshot := append(biofhe.Bins(nil), bins...)
	for i := 0; i < 3; i++ {
		assert.Equal(t, 2, biofhe.Quantize(0.25, bins))
	}
	assert.Equal(t, snapshot, bins)
}

func TestQuantizeNaN(t *testing.T) {
	// NaN compares false against every boundary.
	assert.Equal(t, 3, biofhe.Quantize(math.NaN(), biofhe.Bins{0, 1, 2}))
}

func TestQuantizeVector(t *testing.T) {
	bins := biofhe.Bins{0, 1, 2}
	got := biofhe.QuantizeVector([]float64{-1, 0.5, 1, 7}, bins)
	assert.Equal(t, []biofhe.Code{0, 1, 1, 3}, got)
	assert.Empty(t, biofhe.QuantizeVector(nil, bins))
}

func TestQuantizeFeatures(t *testing.T) {
	per := []biofhe.Bins{{0}, {10, 20}}
	got, err := biofhe.QuantizeFeatures([]float64{1, 15}, per)
	require.NoError(t, err)
	assert.Equal(t, []biofhe.Code{1, 1}, got)

	_, err = biofhe.QuantizeFeatures([]float64{1}, per)
	require.ErrorIs(t, err, biofhe.ErrMalformedInput)
}
