// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package tfhe

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/luxfi/biofhe"
)

// hostDevice runs batches on a pool of blind rotation evaluators.
type hostDevice struct {
	engine *Engine
}

func (d *hostDevice) Name() string { return "host" }

func (d *hostDevice) KeySwitch(ctx context.Context, cts []biofhe.Ciphertext) ([]biofhe.Ciphertext, error) {
	out := make([]biofhe.Ciphertext, len(cts))
	for i, ct := range cts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := cast(ct)
		if err != nil {
			return nil, fmt.Errorf("position %d: %w", i, err)
		}
		out[i] = d.engine.keySwitch(c)
	}
	return out, nil
}

func (d *hostDevice) Bootstrap(ctx context.Context, cts []biofhe.Ciphertext, lookups []*biofhe.Lookup, mode biofhe.DigitMode) ([]biofhe.Ciphertext, error) {
	if len(cts) != len(lookups) {
		return nil, fmt.Errorf("tfhe: %d ciphertexts for %d lookups", len(cts), len(lookups))
	}
	out := make([]biofhe.Ciphertext, len(cts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range cts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c, err := cast(cts[i])
			if err != nil {
				return fmt.Errorf("position %d: %w", i, err)
			}
			r, err := d.engine.bootstrap(c, d.engine.lookupPoly(lookups[i]))
			if err != nil {
				return fmt.Errorf("position %d: %w", i, err)
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
