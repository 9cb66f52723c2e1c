// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package biofhe

import "fmt"

// Compiler normalizes and decomposes a run's score tables once and builds a
// LookupSet per template.
type Compiler struct {
	cfg         Config
	tables      []*DigitTable
	totalOffset int64
	threshold   uint64
	earlyStop   bool
	logger      *Logger
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithEarlyStop drops trailing digit lookups that are always zero.
func WithEarlyStop() CompilerOption {
	return func(c *Compiler) { c.earlyStop = true }
}

// WithCompilerLogger sets the logger.
func WithCompilerLogger(l *Logger) CompilerOption {
	return func(c *Compiler) { c.logger = l }
}

// NewCompiler prepares the tables for cfg.
func NewCompiler(cfg Config, tables []ScoreTable, opts ...CompilerOption) (*Compiler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(tables) != cfg.Features() {
		return nil, &MalformedInputError{
			Source: "score tables",
			Err:    fmt.Errorf("%d tables for %d features", len(tables), cfg.Features()),
		}
	}
	c := &Compiler{cfg: cfg, logger: NoopLogger()}
	for _, opt := range opts {
		opt(c)
	}

	radix := cfg.Radix()
	c.tables = make([]*DigitTable, len(tables))
	for f, t := range tables {
		n, err := Normalize(t)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", f, err)
		}
		c.totalOffset += n.Offset
		c.tables[f] = Decompose(n, radix)
	}

	threshold := cfg.Threshold() + c.totalOffset
	if m := radix.Modulus(cfg.SumWidth()); m != 0 && uint64(threshold) >= m {
		return nil, fmt.Errorf("%w: shifted threshold %d does not fit %d digits of base %d",
			ErrInvalidConfig, threshold, cfg.SumWidth(), radix.Base())
	}
	c.threshold = uint64(threshold)

	c.logger.LogCompile(cfg, len(c.tables), c.totalOffset, c.earlyStop)
	return c, nil
}

// Config returns the configuration the compiler was built for.
func (c *Compiler) Config() Config { return c.cfg }

// TotalOffset returns the sum of the per-feature offsets.
func (c *Compiler) TotalOffset() int64 { return c.totalOffset }

// Tables returns the decomposed tables, one per feature.
func (c *Compiler) Tables() []*DigitTable { return c.tables }

// Compile builds the lookups for one template.
func (c *Compiler) Compile(template []Code) (*LookupSet, error) {
	features, err := CompileLookups(template, c.tables, c.cfg.Radix(), c.earlyStop)
	if err != nil {
		return nil, err
	}
	ranges := make([]int, len(c.tables))
	for f, dt := range c.tables {
		ranges[f] = dt.Cols()
		if len(features[f]) > c.cfg.SumWidth() {
			return nil, fmt.Errorf("%w: feature %d has %d digits, sum width is %d",
				ErrInvalidConfig, f, len(features[f]), c.cfg.SumWidth())
		}
	}
	return &LookupSet{
		Features:    features,
		ProbeRanges: ranges,
		Threshold:   c.threshold,
		TotalOffset: c.totalOffset,
		SumWidth:    c.cfg.SumWidth(),
		Radix:       c.cfg.Radix(),
	}, nil
}
