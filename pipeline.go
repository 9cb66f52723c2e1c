// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package biofhe

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Slot identifies the feature and digit a flat position belongs to.
type Slot struct {
	Feature int
	Block   int
}

// Layout maps the flat evaluation list back to features. Positions of feature
// f are [Offsets[f], Offsets[f]+Counts[f]) in block order.
type Layout struct {
	Slots   []Slot
	Offsets []int
	Counts  []int
}

// Len returns the number of flat positions.
func (l Layout) Len() int { return len(l.Slots) }

// Span returns the flat range of feature f.
func (l Layout) Span(f int) (lo, hi int) {
	return l.Offsets[f], l.Offsets[f] + l.Counts[f]
}

// Flatten repeats each probe code once per lookup of its feature and
// concatenates the features in order.
func Flatten(probe []Code, set *LookupSet) (Layout, []uint64, []*Lookup) {
	n := set.Len()
	layout := Layout{
		Slots:   make([]Slot, 0, n),
		Offsets: make([]int, len(set.Features)),
		Counts:  make([]int, len(set.Features)),
	}
	codes := make([]uint64, 0, n)
	lookups := make([]*Lookup, 0, n)
	for f, fl := range set.Features {
		layout.Offsets[f] = len(layout.Slots)
		layout.Counts[f] = len(fl)
		for b, l := range fl {
			layout.Slots = append(layout.Slots, Slot{Feature: f, Block: b})
			codes = append(codes, uint64(probe[f]))
			lookups = append(lookups, l)
		}
	}
	return layout, codes, lookups
}

// Observer receives intermediate encrypted values of an authentication.
// Calls come from a single goroutine.
type Observer interface {
	// FeatureAssembled is called with a feature's zero-extended digits.
	FeatureAssembled(feature int, digits *RadixCiphertext)
	// SumComputed is called with the encrypted total before comparison.
	SumComputed(total *RadixCiphertext)
}

// Pipeline runs authentications with one engine and strategy. It is safe for
// concurrent use.
type Pipeline struct {
	engine      Engine
	strategy    Strategy
	accelerator Device
	lenient     bool
	requireFull bool
	observer    Observer
	logger      *Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLenientDomain evaluates out-of-range probe codes to zero digits instead
// of rejecting them.
func WithLenientDomain() Option {
	return func(p *Pipeline) { p.lenient = true }
}

// WithRequireFullAssurance rejects strategies with reduced assurance.
func WithRequireFullAssurance() Option {
	return func(p *Pipeline) { p.requireFull = true }
}

// WithObserver installs an observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline binds engine and strategy for configurations like cfg.
func NewPipeline(engine Engine, cfg Config, strategy Strategy, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		engine:   engine,
		strategy: strategy,
		logger:   NoopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithStrategy(strategy)

	if strategy.NeedsAccelerator() {
		dev, err := engine.Accelerator()
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", strategy, err)
		}
		p.accelerator = dev
	}
	if strategy.Assurance(cfg) == AssuranceReduced {
		if p.requireFull {
			return nil, fmt.Errorf("strategy %s with %d-bit digits: %w", strategy, cfg.BlockLength(), ErrReducedAssurance)
		}
		p.logger.Warn("strategy offers reduced security assurance",
			"block_length", cfg.BlockLength())
	}
	return p, nil
}

// Strategy returns the pipeline's strategy.
func (p *Pipeline) Strategy() Strategy { return p.strategy }

// Verify authenticates and decrypts the decision.
func (p *Pipeline) Verify(ctx context.Context, probe []Code, set *LookupSet) (bool, error) {
	ct, err := p.Authenticate(ctx, probe, set)
	if err != nil {
		return false, err
	}
	ok, err := p.engine.DecryptBool(ct)
	if err != nil {
		return false, engineFailure("decrypt", err)
	}
	return ok, nil
}

// Authenticate returns an encryption of
// Σ_f table[f][template_f][probe_f] + TotalOffset >= set.Threshold.
func (p *Pipeline) Authenticate(ctx context.Context, probe []Code, set *LookupSet) (Ciphertext, error) {
	start := time.Now()
	ct, err := p.authenticate(ctx, probe, set)
	p.logger.LogAuthenticate(ctx, set.Len(), time.Since(start), err)
	return ct, err
}

type featureDigits struct {
	feature int
	digits  []Ciphertext
}

func (p *Pipeline) authenticate(ctx context.Context, probe []Code, set *LookupSet) (Ciphertext, error) {
	if err := p.checkProbe(probe, set); err != nil {
		return nil, err
	}
	layout, codes, lookups := Flatten(probe, set)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cts, err := p.encrypt(ctx, codes)
	if err != nil {
		return nil, engineFailure("encrypt", err)
	}

	results := make(chan featureDigits, len(set.Features))
	evalErr := make(chan error, 1)
	go func() {
		evalErr <- p.evaluate(ctx, layout, cts, lookups, results)
		close(results)
	}()

	total, sumErr := p.sum(ctx, set, results)
	if sumErr != nil {
		cancel()
		for range results {
		}
	}
	if err := <-evalErr; err != nil && sumErr == nil {
		return nil, engineFailure("evaluate", err)
	}
	if sumErr != nil {
		return nil, sumErr
	}

	if p.observer != nil {
		p.observer.SumComputed(total)
	}
	out, err := p.engine.CompareGreaterOrEqual(ctx, total, set.Threshold)
	if err != nil {
		return nil, engineFailure("compare", err)
	}
	return out, nil
}

func (p *Pipeline) checkProbe(probe []Code, set *LookupSet) error {
	if len(probe) != len(set.Features) {
		return &MalformedInputError{
			Source: "probe",
			Err:    fmt.Errorf("%d codes for %d features", len(probe), len(set.Features)),
		}
	}
	if p.lenient {
		return nil
	}
	for f, c := range probe {
		if limit := set.ProbeRanges[f]; int(c) >= limit {
			return &DomainViolation{Feature: f, Code: uint64(c), Limit: uint64(limit)}
		}
	}
	return nil
}

func (p *Pipeline) encrypt(ctx context.Context, codes []uint64) ([]Ciphertext, error) {
	cts := make([]Ciphertext, len(codes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.strategy.workers())
	for i, c := range codes {
		g.Go(func() error {
			ct, err := p.engine.Encrypt(gctx, c)
			if err != nil {
				return fmt.Errorf("position %d: %w", i, err)
			}
			cts[i] = ct
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return cts, nil
}

// evaluate applies every lookup and delivers each feature's digits on results
// as soon as the feature is complete.
func (p *Pipeline) evaluate(ctx context.Context, layout Layout, cts []Ciphertext, lookups []*Lookup, results chan<- featureDigits) error {
	switch p.strategy.Placement {
	case Host:
		return p.evaluateHost(ctx, layout, cts, lookups, results)
	case Accelerator:
		ks, err := p.accelerator.KeySwitch(ctx, cts)
		if err != nil {
			return fmt.Errorf("%s keyswitch: %w", p.accelerator.Name(), err)
		}
		return p.bootstrapBatch(ctx, layout, ks, lookups, results)
	case Mixed:
		ks, err := p.keySwitchHost(ctx, layout, cts)
		if err != nil {
			return err
		}
		return p.bootstrapBatch(ctx, layout, ks, lookups, results)
	}
	return fmt.Errorf("%w: placement %s", ErrInvalidConfig, p.strategy.Placement)
}

func (p *Pipeline) evaluateHost(ctx context.Context, layout Layout, cts []Ciphertext, lookups []*Lookup, results chan<- featureDigits) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.strategy.workers())
	for f := range layout.Counts {
		g.Go(func() error {
			lo, hi := layout.Span(f)
			digits := make([]Ciphertext, 0, hi-lo)
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				ct, err := p.engine.EvaluateLookup(gctx, cts[i], lookups[i], p.strategy.Mode)
				if err != nil {
					return fmt.Errorf("feature %d block %d: %w", f, layout.Slots[i].Block, err)
				}
				digits = append(digits, ct)
			}
			results <- featureDigits{feature: f, digits: digits}
			return nil
		})
	}
	return g.Wait()
}

// keySwitchHost keyswitches each feature's span on the host pool, writing
// results back to their flat positions.
func (p *Pipeline) keySwitchHost(ctx context.Context, layout Layout, cts []Ciphertext) ([]Ciphertext, error) {
	host := p.engine.Host()
	out := make([]Ciphertext, len(cts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.strategy.workers())
	for f := range layout.Counts {
		lo, hi := layout.Span(f)
		if lo == hi {
			continue
		}
		g.Go(func() error {
			ks, err := host.KeySwitch(gctx, cts[lo:hi])
			if err != nil {
				return fmt.Errorf("%s keyswitch feature %d: %w", host.Name(), f, err)
			}
			if len(ks) != hi-lo {
				return fmt.Errorf("%s keyswitch feature %d: %d outputs for %d inputs", host.Name(), f, len(ks), hi-lo)
			}
			copy(out[lo:hi], ks)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// bootstrapBatch bootstraps the whole flat list in one accelerator call and
// reslices the positional output by layout.
func (p *Pipeline) bootstrapBatch(ctx context.Context, layout Layout, cts []Ciphertext, lookups []*Lookup, results chan<- featureDigits) error {
	out, err := p.accelerator.Bootstrap(ctx, cts, lookups, p.strategy.Mode)
	if err != nil {
		return fmt.Errorf("%s bootstrap: %w", p.accelerator.Name(), err)
	}
	if len(out) != layout.Len() {
		return fmt.Errorf("%s bootstrap: %d outputs for %d inputs", p.accelerator.Name(), len(out), layout.Len())
	}
	for f := range layout.Counts {
		lo, hi := layout.Span(f)
		results <- featureDigits{feature: f, digits: out[lo:hi:hi]}
	}
	return nil
}

// sum zero-extends each feature to the sum width and accumulates.
func (p *Pipeline) sum(ctx context.Context, set *LookupSet, results <-chan featureDigits) (*RadixCiphertext, error) {
	var total *RadixCiphertext
	for fd := range results {
		padded, err := p.pad(fd.digits, set.SumWidth)
		if err != nil {
			return nil, engineFailure("pad", err)
		}
		if p.observer != nil {
			p.observer.FeatureAssembled(fd.feature, padded)
		}
		if total == nil {
			total = padded
			continue
		}
		if total, err = p.engine.Add(ctx, total, padded); err != nil {
			return nil, engineFailure("sum", fmt.Errorf("feature %d: %w", fd.feature, err))
		}
	}
	if total == nil {
		zero, err := p.engine.TrivialZero(set.SumWidth)
		if err != nil {
			return nil, engineFailure("pad", err)
		}
		total = zero
	}
	return total, nil
}

func (p *Pipeline) pad(digits []Ciphertext, width int) (*RadixCiphertext, error) {
	if len(digits) > width {
		return nil, fmt.Errorf("%d digits exceed sum width %d", len(digits), width)
	}
	blocks := make([]Ciphertext, len(digits), width)
	copy(blocks, digits)
	if len(digits) < width {
		zero, err := p.engine.TrivialZero(width - len(digits))
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, zero.Blocks...)
	}
	return &RadixCiphertext{Blocks: blocks}, nil
}
