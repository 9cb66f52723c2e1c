// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package cleartext

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/luxfi/biofhe"
)

// device simulates a batch device. With shuffle set, a batch is evaluated
// concurrently in a random order.
type device struct {
	name    string
	engine  *Engine
	shuffle bool
}

func (d *device) Name() string { return d.name }

func (d *device) KeySwitch(ctx context.Context, cts []biofhe.Ciphertext) ([]biofhe.Ciphertext, error) {
	if err := d.engine.hit(StepKeySwitch); err != nil {
		return nil, err
	}
	out := make([]biofhe.Ciphertext, len(cts))
	for i, ct := range cts {
		c, err := d.engine.cast(ct)
		if err != nil {
			return nil, err
		}
		out[i] = &Ciphertext{Value: c.Value, Switched: true}
	}
	return out, ctx.Err()
}

func (d *device) Bootstrap(ctx context.Context, cts []biofhe.Ciphertext, lookups []*biofhe.Lookup, mode biofhe.DigitMode) ([]biofhe.Ciphertext, error) {
	if err := d.engine.hit(StepBootstrap); err != nil {
		return nil, err
	}
	if len(cts) != len(lookups) {
		return nil, fmt.Errorf("cleartext: %d ciphertexts for %d lookups", len(cts), len(lookups))
	}
	order := make([]int, len(cts))
	for i := range order {
		order[i] = i
	}
	if d.shuffle {
		d.engine.rngMu.Lock()
		d.engine.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		d.engine.rngMu.Unlock()
	}

	out := make([]biofhe.Ciphertext, len(cts))
	g, gctx := errgroup.WithContext(ctx)
	for _, i := range order {
		g.Go(func() error {
			c, err := d.engine.cast(cts[i])
			if err != nil {
				return err
			}
			if !c.Switched {
				return fmt.Errorf("cleartext: position %d bootstrapped before keyswitch", i)
			}
			if err := d.engine.sleep(gctx); err != nil {
				return err
			}
			r, err := d.engine.apply(c.Value, lookups[i])
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
