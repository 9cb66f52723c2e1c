// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package biofhe

import "fmt"

// Lookup maps a probe code to one digit of a feature's score for a fixed
// template code. Lookups share their DigitTable.
type Lookup struct {
	Feature  int
	Template int
	Block    int
	Table    *DigitTable
}

// Digit returns the digit for probe, or 0 when probe is outside the table.
func (l *Lookup) Digit(probe uint64) uint64 {
	if probe >= uint64(l.Table.Cols()) {
		return 0
	}
	return l.Table.Digit(l.Template, int(probe), l.Block)
}

// Tabulate evaluates the lookup on every message in [0, modulus).
func (l *Lookup) Tabulate(modulus uint64) []uint64 {
	out := make([]uint64, modulus)
	for m := range out {
		out[m] = l.Digit(uint64(m))
	}
	return out
}

func (l *Lookup) String() string {
	return fmt.Sprintf("lookup{feature=%d template=%d block=%d}", l.Feature, l.Template, l.Block)
}

// LookupSet is everything needed to match probes against one template.
type LookupSet struct {
	// Features holds each feature's lookups ordered by block index.
	Features [][]*Lookup

	// ProbeRanges holds the number of probe codes each feature's table knows.
	ProbeRanges []int

	// Threshold is the configured threshold shifted by TotalOffset.
	Threshold   uint64
	TotalOffset int64
	SumWidth    int
	Radix       Radix
}

// Len returns the total number of lookups.
func (s *LookupSet) Len() int {
	n := 0
	for _, f := range s.Features {
		n += len(f)
	}
	return n
}

// CompileLookups builds each feature's ordered lookups over template[f]. With
// earlyStop, a feature keeps only DigitTable.SignificantBlocks lookups.
func CompileLookups(template []Code, tables []*DigitTable, radix Radix, earlyStop bool) ([][]*Lookup, error) {
	if len(template) != len(tables) {
		return nil, &MalformedInputError{
			Source: "template",
			Err:    fmt.Errorf("%d codes for %d tables", len(template), len(tables)),
		}
	}
	out := make([][]*Lookup, len(tables))
	for f, dt := range tables {
		t := int(template[f])
		if t >= dt.Rows() {
			return nil, &DomainViolation{Feature: f, Code: uint64(t), Limit: uint64(dt.Rows())}
		}
		blocks := radix.BlockCount
		if earlyStop {
			blocks = dt.SignificantBlocks()
		}
		lookups := make([]*Lookup, blocks)
		for b := range lookups {
			lookups[b] = &Lookup{Feature: f, Template: t, Block: b, Table: dt}
		}
		out[f] = lookups
	}
	return out, nil
}
