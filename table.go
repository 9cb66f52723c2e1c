// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package biofhe

import (
	"errors"
	"fmt"
)

// ScoreTable holds one feature's classifier scores indexed
// [templateCode][probeCode].
type ScoreTable [][]int32

// Validate checks the table is non-empty with uniform row length.
func (t ScoreTable) Validate() error {
	if len(t) == 0 || len(t[0]) == 0 {
		return &MalformedInputError{Source: "score table", Err: errors.New("empty table")}
	}
	cols := len(t[0])
	for i, row := range t {
		if len(row) != cols {
			return &MalformedInputError{
				Source: "score table",
				Err:    fmt.Errorf("row %d has %d entries, want %d", i, len(row), cols),
			}
		}
	}
	return nil
}

// NormalizedTable is a ScoreTable shifted by Offset.
type NormalizedTable struct {
	Values [][]int64
	Offset int64
}

// Normalize shifts every entry by |table[0][last]|.
//
// The offset is assumed to be at least the magnitude of the most negative
// entry. That bound is not checked; a table violating it keeps negative
// entries, which Decompose encodes as residues modulo radix^BlockCount.
func Normalize(table ScoreTable) (NormalizedTable, error) {
	if err := table.Validate(); err != nil {
		return NormalizedTable{}, err
	}
	offset := int64(table[0][len(table[0])-1])
	if offset < 0 {
		offset = -offset
	}
	values := make([][]int64, len(table))
	for i, row := range table {
		values[i] = make([]int64, len(row))
		for j, v := range row {
			values[i][j] = int64(v) + offset
		}
	}
	return NormalizedTable{Values: values, Offset: offset}, nil
}

// Rows returns the number of template codes.
func (n NormalizedTable) Rows() int { return len(n.Values) }

// Cols returns the number of probe codes.
func (n NormalizedTable) Cols() int {
	if len(n.Values) == 0 {
		return 0
	}
	return len(n.Values[0])
}

// Radix describes a fixed little-endian digit decomposition.
type Radix struct {
	BlockLength int
	BlockCount  int
}

// Base returns 2^BlockLength.
func (r Radix) Base() uint64 { return 1 << uint(r.BlockLength) }

// Modulus returns Base()^width.
func (r Radix) Modulus(width int) uint64 {
	if r.BlockLength*width >= 64 {
		return 0
	}
	return 1 << uint(r.BlockLength*width)
}

// Digits splits value into BlockCount little-endian digits. Negative values
// decompose as their two's-complement residue.
func (r Radix) Digits(value int64) []uint64 {
	return r.DigitsN(uint64(value), r.BlockCount)
}

// DigitsN splits value into n little-endian digits.
func (r Radix) DigitsN(value uint64, n int) []uint64 {
	base := r.Base()
	digits := make([]uint64, n)
	for i := range digits {
		digits[i] = value % base
		value /= base
	}
	return digits
}

// Compose is the inverse of DigitsN, modulo Base()^len(digits).
func (r Radix) Compose(digits []uint64) uint64 {
	var v uint64
	for i := len(digits) - 1; i >= 0; i-- {
		v = v<<uint(r.BlockLength) | digits[i]
	}
	return v
}

// DigitTable is a decomposed NormalizedTable shared by every Lookup of one
// feature. It is immutable once built.
type DigitTable struct {
	radix  Radix
	rows   int
	cols   int
	max    int64
	offset int64
	digits []uint8 // [row][col][block], row-major
}

// Decompose splits every normalized entry into radix.BlockCount digits.
func Decompose(table NormalizedTable, radix Radix) *DigitTable {
	rows, cols, blocks := table.Rows(), table.Cols(), radix.BlockCount
	dt := &DigitTable{
		radix:  radix,
		rows:   rows,
		cols:   cols,
		offset: table.Offset,
		digits: make([]uint8, rows*cols*blocks),
	}
	if rows > 0 && cols > 0 {
		dt.max = table.Values[0][0]
	}
	for i, row := range table.Values {
		for j, v := range row {
			base := (i*cols + j) * blocks
			for b, d := range radix.Digits(v) {
				dt.digits[base+b] = uint8(d)
			}
		}
	}
	return dt
}

// Digit returns digit block of entry [row][col]. Callers keep indices in range.
func (dt *DigitTable) Digit(row, col, block int) uint64 {
	return uint64(dt.digits[(row*dt.cols+col)*dt.radix.BlockCount+block])
}

// Value recomposes entry [row][col] modulo radix^BlockCount.
func (dt *DigitTable) Value(row, col int) uint64 {
	base := (row*dt.cols + col) * dt.radix.BlockCount
	d := make([]uint64, dt.radix.BlockCount)
	for b := range d {
		d[b] = uint64(dt.digits[base+b])
	}
	return dt.radix.Compose(d)
}

// Rows returns the number of template codes.
func (dt *DigitTable) Rows() int { return dt.rows }

// Cols returns the number of probe codes.
func (dt *DigitTable) Cols() int { return dt.cols }

// Offset returns the normalization offset of the source table.
func (dt *DigitTable) Offset() int64 { return dt.offset }

// Radix returns the decomposition parameters.
func (dt *DigitTable) Radix() Radix { return dt.radix }

// SignificantBlocks is the early-stop block count: blocks are kept from index
// 0 until the normalized [0][0] entry shifted right by block*BlockLength is
// zero. It is exact only when [0][0] holds the table maximum.
func (dt *DigitTable) SignificantBlocks() int {
	top := uint64(dt.max)
	n := 0
	for n < dt.radix.BlockCount && top>>uint(n*dt.radix.BlockLength) != 0 {
		n++
	}
	return n
}
