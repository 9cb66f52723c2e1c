// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package biofhe_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/biofhe"
	"github.com/luxfi/biofhe/cleartext"
)

// diagonalTable scores genuine pairs with match and penalizes every other pair
// by its code distance. [0][size-1] is the most negative entry and [0][0] the
// largest, so the offset and early-stop heuristics are exact.
func diagonalTable(size int, match int32) biofhe.ScoreTable {
	t := make(biofhe.ScoreTable, size)
	for i := range t {
		t[i] = make([]int32, size)
		for j := range t[i] {
			if i == j {
				t[i][j] = match
				continue
			}
			d := i - j
			if d < 0 {
				d = -d
			}
			t[i][j] = -int32(d)
		}
	}
	return t
}

func diagonalTables(features, size int, match int32) []biofhe.ScoreTable {
	out := make([]biofhe.ScoreTable, features)
	for i := range out {
		out[i] = diagonalTable(size, match)
	}
	return out
}

// cleartextScore is Σ_f table[f][template_f][probe_f].
func cleartextScore(tables []biofhe.ScoreTable, template, probe []biofhe.Code) int64 {
	var s int64
	for f, t := range tables {
		s += int64(t[template[f]][probe[f]])
	}
	return s
}

func codes(n int, c biofhe.Code) []biofhe.Code {
	out := make([]biofhe.Code, n)
	for i := range out {
		out[i] = c
	}
	return out
}

// sumRecorder captures intermediate values through an engine that can
// decrypt them.
type sumRecorder struct {
	engine *cleartext.Engine

	mu       sync.Mutex
	features map[int]uint64
	widths   map[int]int
	total    uint64
	sums     int
	err      error
}

func newSumRecorder(e *cleartext.Engine) *sumRecorder {
	return &sumRecorder{engine: e, features: map[int]uint64{}, widths: map[int]int{}}
}

func (r *sumRecorder) FeatureAssembled(feature int, digits *biofhe.RadixCiphertext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.engine.DecryptRadix(digits)
	if err != nil {
		r.err = err
		return
	}
	r.features[feature] = v
	r.widths[feature] = digits.Width()
}

func (r *sumRecorder) SumComputed(total *biofhe.RadixCiphertext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.engine.DecryptRadix(total)
	if err != nil {
		r.err = err
		return
	}
	r.total = v
	r.sums++
}

func mustCompiler(t *testing.T, cfg biofhe.Config, tables []biofhe.ScoreTable, opts ...biofhe.CompilerOption) *biofhe.Compiler {
	t.Helper()
	c, err := biofhe.NewCompiler(cfg, tables, opts...)
	require.NoError(t, err)
	return c
}

func allStrategies() []biofhe.Strategy {
	var out []biofhe.Strategy
	for _, name := range biofhe.StrategyNames() {
		s, err := biofhe.ParseStrategy(name)
		if err != nil {
			panic(err)
		}
		s.Workers = 4
		out = append(out, s)
	}
	return out
}
