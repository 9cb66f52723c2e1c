// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package biofhe_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/biofhe"
)

func TestNormalizeOffset(t *testing.T) {
	table := biofhe.ScoreTable{
		{4, -1, -6},
		{-2, 5, -3},
		{-6, -3, 5},
	}
	n, err := biofhe.Normalize(table)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n.Offset)
	for i, row := range n.Values {
		for j, v := range row {
			assert.Equal(t, int64(table[i][j])+6, v)
			assert.GreaterOrEqual(t, v, int64(0))
		}
	}
}

func TestNormalizePositiveCorner(t *testing.T) {
	// A positive [0][last] still offsets by its magnitude.
	n, err := biofhe.Normalize(biofhe.ScoreTable{{1, 2}, {3, 4}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n.Offset)
	assert.Equal(t, [][]int64{{3, 4}, {5, 6}}, n.Values)
}

func TestNormalizeDoesNotRevalidateOffset(t *testing.T) {
	// [1][0] is more negative than [0][last]; the table is accepted and the
	// entry stays negative.
	table := biofhe.ScoreTable{
		{5, -1},
		{-9, 0},
	}
	n, err := biofhe.Normalize(table)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n.Offset)
	assert.Equal(t, int64(-8), n.Values[1][0])

	radix := biofhe.Radix{BlockLength: 2, BlockCount: 4}
	dt := biofhe.Decompose(n, radix)
	// The negative entry survives as its residue modulo 4^4.
	assert.Equal(t, uint64(256-8), dt.Value(1, 0))
}

func TestNormalizeMalformed(t *testing.T) {
	_, err := biofhe.Normalize(nil)
	require.ErrorIs(t, err, biofhe.ErrMalformedInput)

	_, err = biofhe.Normalize(biofhe.ScoreTable{{1, 2}, {3}})
	require.ErrorIs(t, err, biofhe.ErrMalformedInput)
}

func TestRadixRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for l := 1; l <= 4; l++ {
		for n := 1; n <= 8; n++ {
			r := biofhe.Radix{BlockLength: l, BlockCount: n}
			mod := r.Modulus(n)
			for i := 0; i < 200; i++ {
				v := uint64(rng.Int63n(int64(mod)))
				digits := r.Digits(int64(v))
				require.Len(t, digits, n)
				for _, d := range digits {
					require.Less(t, d, r.Base())
				}
				require.Equal(t, v, r.Compose(digits), "L=%d n=%d v=%d", l, n, v)
			}
			// Edge values.
			require.Equal(t, uint64(0), r.Compose(r.Digits(0)))
			require.Equal(t, mod-1, r.Compose(r.Digits(int64(mod-1))))
			require.Equal(t, uint64(0), r.Compose(r.Digits(int64(mod))))
		}
	}
}

func TestRadixNegativeResidue(t *testing.T) {
	for l := 1; l <= 4; l++ {
		for n := 1; n <= 8; n++ {
			r := biofhe.Radix{BlockLength: l, BlockCount: n}
			mod := r.Modulus(n)
			for _, v := range []int64{-1, -3, -17} {
				want := uint64(v) % mod
				assert.Equal(t, want, r.Compose(r.Digits(v)), "L=%d n=%d v=%d", l, n, v)
			}
		}
	}
}

func TestRadixLittleEndian(t *testing.T) {
	r := biofhe.Radix{BlockLength: 2, BlockCount: 4}
	assert.Equal(t, []uint64{3, 2, 1, 0}, r.Digits(3+2*4+1*16))
}

func TestDecompose(t *testing.T) {
	n, err := biofhe.Normalize(diagonalTable(8, 3))
	require.NoError(t, err)
	radix := biofhe.Radix{BlockLength: 2, BlockCount: 6}
	dt := biofhe.Decompose(n, radix)

	assert.Equal(t, 8, dt.Rows())
	assert.Equal(t, 8, dt.Cols())
	assert.Equal(t, int64(7), dt.Offset())
	for i := 0; i < 8; i++ {
		for j := 0; j < 8; j++ {
			assert.Equal(t, uint64(n.Values[i][j]), dt.Value(i, j))
			var digits []uint64
			for b := 0; b < radix.BlockCount; b++ {
				digits = append(digits, dt.Digit(i, j, b))
			}
			assert.Equal(t, radix.Digits(n.Values[i][j]), digits)
		}
	}
}

func TestSignificantBlocks(t *testing.T) {
	radix := biofhe.Radix{BlockLength: 2, BlockCount: 6}
	tests := []struct {
		top  int32
		want int
	}{
		{0, 0},
		{1, 1},
		{3, 1},
		{4, 2},
		{15, 2},
		{16, 3},
		{4095, 6},
	}
	for _, tt := range tests {
		// Offset is zero: [0][last] is 0.
		n, err := biofhe.Normalize(biofhe.ScoreTable{{tt.top, 0}})
		require.NoError(t, err)
		assert.Equal(t, tt.want, biofhe.Decompose(n, radix).SignificantBlocks(), "max %d", tt.top)
	}
}

func TestLookupDigit(t *testing.T) {
	n, err := biofhe.Normalize(diagonalTable(4, 9))
	require.NoError(t, err)
	radix := biofhe.Radix{BlockLength: 2, BlockCount: 3}
	dt := biofhe.Decompose(n, radix)

	for b := 0; b < radix.BlockCount; b++ {
		l := &biofhe.Lookup{Feature: 0, Template: 2, Block: b, Table: dt}
		for p := 0; p < 4; p++ {
			assert.Equal(t, dt.Digit(2, p, b), l.Digit(uint64(p)))
		}
		// Outside the table every digit is zero.
		assert.Equal(t, uint64(0), l.Digit(4))
		assert.Equal(t, uint64(0), l.Digit(1<<40))

		tab := l.Tabulate(16)
		require.Len(t, tab, 16)
		for p := range tab {
			assert.Equal(t, l.Digit(uint64(p)), tab[p])
		}
	}
}

func TestCompileLookups(t *testing.T) {
	radix := biofhe.Radix{BlockLength: 2, BlockCount: 6}
	var tables []*biofhe.DigitTable
	for _, top := range []int32{3, 20, 0} {
		n, err := biofhe.Normalize(biofhe.ScoreTable{{top, 0}, {0, 0}})
		require.NoError(t, err)
		tables = append(tables, biofhe.Decompose(n, radix))
	}

	full, err := biofhe.CompileLookups([]biofhe.Code{1, 0, 1}, tables, radix, false)
	require.NoError(t, err)
	for f, ls := range full {
		require.Len(t, ls, 6)
		for b, l := range ls {
			assert.Equal(t, f, l.Feature)
			assert.Equal(t, b, l.Block)
			assert.Same(t, tables[f], l.Table)
		}
	}
	assert.Equal(t, 1, full[0][0].Template)

	short, err := biofhe.CompileLookups([]biofhe.Code{1, 0, 1}, tables, radix, true)
	require.NoError(t, err)
	assert.Len(t, short[0], 1)
	assert.Len(t, short[1], 3)
	assert.Len(t, short[2], 0)

	_, err = biofhe.CompileLookups([]biofhe.Code{2, 0, 0}, tables, radix, false)
	require.ErrorIs(t, err, biofhe.ErrDomainViolation)

	_, err = biofhe.CompileLookups([]biofhe.Code{0}, tables, radix, false)
	require.ErrorIs(t, err, biofhe.ErrMalformedInput)
}
