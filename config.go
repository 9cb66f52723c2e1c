// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package biofhe

import (
	"fmt"
	"sort"
	"strings"
)

// MaxBlockLength bounds the digit width so that a digit plus its carry fits
// the engines' small-integer message space.
const MaxBlockLength = 8

// Config is an immutable match configuration. The zero value is invalid; use
// a preset or NewConfig.
type Config struct {
	dataset     string
	blockLength int
	blockCount  int
	sumWidth    int
	features    int
	threshold   int64
}

// NewConfig builds and validates a match configuration.
//
// blockCount is the number of digits each per-feature score is decomposed into,
// sumWidth the digit width of the encrypted total.
func NewConfig(dataset string, blockLength, blockCount, sumWidth, features int, threshold int64) (Config, error) {
	c := Config{
		dataset:     dataset,
		blockLength: blockLength,
		blockCount:  blockCount,
		sumWidth:    sumWidth,
		features:    features,
		threshold:   threshold,
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the configuration is internally consistent.
func (c Config) Validate() error {
	switch {
	case c.blockLength < 1 || c.blockLength > MaxBlockLength:
		return fmt.Errorf("%w: block length %d outside [1, %d]", ErrInvalidConfig, c.blockLength, MaxBlockLength)
	case c.blockCount < 1:
		return fmt.Errorf("%w: block count %d", ErrInvalidConfig, c.blockCount)
	case c.sumWidth < c.blockCount:
		return fmt.Errorf("%w: sum width %d smaller than block count %d", ErrInvalidConfig, c.sumWidth, c.blockCount)
	case c.blockLength*c.sumWidth > 63:
		return fmt.Errorf("%w: %d-bit total does not fit a uint64", ErrInvalidConfig, c.blockLength*c.sumWidth)
	case c.features < 1:
		return fmt.Errorf("%w: feature count %d", ErrInvalidConfig, c.features)
	case c.threshold < 0:
		return fmt.Errorf("%w: negative threshold %d", ErrInvalidConfig, c.threshold)
	}
	return nil
}

// Dataset returns the dataset name.
func (c Config) Dataset() string { return c.dataset }

// BlockLength returns the number of bits per digit.
func (c Config) BlockLength() int { return c.blockLength }

// BlockCount returns the number of digits per decomposed score.
func (c Config) BlockCount() int { return c.blockCount }

// SumWidth returns the digit width of the encrypted total.
func (c Config) SumWidth() int { return c.sumWidth }

// Features returns the number of features per vector.
func (c Config) Features() int { return c.features }

// Threshold returns the unshifted decision threshold.
func (c Config) Threshold() int64 { return c.threshold }

// Radix returns the decomposition parameters.
func (c Config) Radix() Radix {
	return Radix{BlockLength: c.blockLength, BlockCount: c.blockCount}
}

func (c Config) String() string {
	return fmt.Sprintf("%s{L=%d n=%d W=%d features=%d threshold=%d}",
		c.dataset, c.blockLength, c.blockCount, c.sumWidth, c.features, c.threshold)
}

// Presets matching the published datasets. Each call returns a fresh value.
func PUT() Config {
	return Config{dataset: "PUT", blockLength: 3, blockCount: 4, sumWidth: 4, features: 49, threshold: 14}
}

func BMDB() Config {
	return Config{dataset: "BMDB", blockLength: 3, blockCount: 4, sumWidth: 4, features: 36, threshold: 14}
}

func BMDB2() Config {
	return Config{dataset: "BMDB2", blockLength: 2, blockCount: 6, sumWidth: 6, features: 36, threshold: 14}
}

func FRGC() Config {
	return Config{dataset: "FRGC", blockLength: 3, blockCount: 4, sumWidth: 4, features: 94, threshold: 14}
}

var presets = map[string]func() Config{
	"PUT":   PUT,
	"BMDB":  BMDB,
	"BMDB2": BMDB2,
	"FRGC":  FRGC,
}

// Preset returns the named preset. Names are case-insensitive.
func Preset(name string) (Config, error) {
	preset, ok := presets[strings.ToUpper(name)]
	if !ok {
		return Config{}, fmt.Errorf("%w: unknown preset %q", ErrInvalidConfig, name)
	}
	return preset(), nil
}

// Presets lists the preset names in sorted order.
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
