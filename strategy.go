// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package biofhe

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// DigitMode selects the bootstrapping primitive used for table evaluation.
type DigitMode int

const (
	// Classic bootstraps one digit per blind rotation.
	Classic DigitMode = iota
	// MultiBit groups secret key bits per rotation step. Faster, but its
	// parameters carry less security margin for small digits.
	MultiBit
)

func (m DigitMode) String() string {
	switch m {
	case Classic:
		return "classic"
	case MultiBit:
		return "multibit"
	}
	return fmt.Sprintf("DigitMode(%d)", int(m))
}

// Placement selects where keyswitching and bootstrapping run.
type Placement int

const (
	// Host evaluates every lookup on a pool of host workers.
	Host Placement = iota
	// Accelerator evaluates every lookup in one accelerator batch.
	Accelerator
	// Mixed keyswitches on host workers and bootstraps on the accelerator.
	Mixed
)

func (p Placement) String() string {
	switch p {
	case Host:
		return "cpu"
	case Accelerator:
		return "gpu"
	case Mixed:
		return "cpu-gpu"
	}
	return fmt.Sprintf("Placement(%d)", int(p))
}

// Assurance grades the security margin of a strategy.
type Assurance int

const (
	AssuranceFull Assurance = iota
	AssuranceReduced
)

func (a Assurance) String() string {
	if a == AssuranceReduced {
		return "reduced"
	}
	return "full"
}

// Strategy is a digit mode and device placement. Workers bounds the host pool;
// zero means GOMAXPROCS.
type Strategy struct {
	Mode      DigitMode
	Placement Placement
	Workers   int
}

// Assurance reports AssuranceReduced for MultiBit with digits of two bits or
// fewer.
func (s Strategy) Assurance(cfg Config) Assurance {
	if s.Mode == MultiBit && cfg.BlockLength() <= 2 {
		return AssuranceReduced
	}
	return AssuranceFull
}

// NeedsAccelerator reports whether the strategy uses the accelerator device.
func (s Strategy) NeedsAccelerator() bool {
	return s.Placement != Host
}

func (s Strategy) workers() int {
	if s.Workers > 0 {
		return s.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// String returns the strategy name, e.g. "classic-cpu-gpu".
func (s Strategy) String() string {
	return s.Mode.String() + "-" + s.Placement.String()
}

var strategies = map[string]Strategy{
	"classic-cpu":      {Mode: Classic, Placement: Host},
	"multibit-cpu":     {Mode: MultiBit, Placement: Host},
	"classic-cpu-gpu":  {Mode: Classic, Placement: Mixed},
	"classic-gpu":      {Mode: Classic, Placement: Accelerator},
	"multibit-cpu-gpu": {Mode: MultiBit, Placement: Mixed},
	"multibit-gpu":     {Mode: MultiBit, Placement: Accelerator},
}

var strategyAliases = map[string]string{
	"multibit-gpu-cpu": "multibit-cpu-gpu",
}

// ParseStrategy resolves a strategy name.
func ParseStrategy(name string) (Strategy, error) {
	name = strings.ReplaceAll(strings.ToLower(name), "_", "-")
	if alias, ok := strategyAliases[name]; ok {
		name = alias
	}
	s, ok := strategies[name]
	if !ok {
		return Strategy{}, fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, name)
	}
	return s, nil
}

// StrategyNames lists the named strategies in sorted order.
func StrategyNames() []string {
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
