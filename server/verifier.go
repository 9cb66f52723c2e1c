// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/biofhe"
	"github.com/luxfi/biofhe/internal/storage"
)

// Result is the outcome of one authentication.
type Result struct {
	Match bool
	// ResultHandle names the stored encrypted decision.
	ResultHandle storage.Handle
	Strategy     string
}

// Verifier owns the key holder's engine and compiles templates against the
// dataset score tables. It is safe for concurrent use.
type Verifier struct {
	settings biofhe.Settings
	engine   biofhe.Engine
	compiler *biofhe.Compiler
	store    storage.Storage
	logger   *biofhe.Logger

	mu        sync.Mutex
	pipelines map[string]*biofhe.Pipeline
	fallback  biofhe.Strategy
}

// NewVerifier compiles tables for the settings' dataset.
func NewVerifier(settings biofhe.Settings, engine biofhe.Engine, tables []biofhe.ScoreTable, store storage.Storage, logger *biofhe.Logger) (*Verifier, error) {
	cfg, err := settings.Config()
	if err != nil {
		return nil, err
	}
	strategy, err := settings.ParsedStrategy()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = biofhe.NoopLogger()
	}
	opts := []biofhe.CompilerOption{biofhe.WithCompilerLogger(logger)}
	if settings.EarlyStop {
		opts = append(opts, biofhe.WithEarlyStop())
	}
	compiler, err := biofhe.NewCompiler(cfg, tables, opts...)
	if err != nil {
		return nil, err
	}
	v := &Verifier{
		settings:  settings,
		engine:    engine,
		compiler:  compiler,
		store:     store,
		logger:    logger,
		pipelines: make(map[string]*biofhe.Pipeline),
		fallback:  strategy,
	}
	if _, err := v.pipeline(""); err != nil {
		return nil, err
	}
	return v, nil
}

// Config returns the dataset configuration.
func (v *Verifier) Config() biofhe.Config { return v.compiler.Config() }

// Strategy returns the default strategy.
func (v *Verifier) Strategy() biofhe.Strategy { return v.fallback }

// pipeline returns the pipeline for a strategy name, building it on first
// use. The empty name selects the configured default.
func (v *Verifier) pipeline(name string) (*biofhe.Pipeline, error) {
	strategy := v.fallback
	if name != "" {
		s, err := biofhe.ParseStrategy(name)
		if err != nil {
			return nil, err
		}
		s.Workers = v.fallback.Workers
		strategy = s
	}
	key := strategy.String()

	v.mu.Lock()
	defer v.mu.Unlock()
	if p, ok := v.pipelines[key]; ok {
		return p, nil
	}
	var opts []biofhe.Option
	opts = append(opts, biofhe.WithLogger(v.logger))
	if v.settings.Lenient {
		opts = append(opts, biofhe.WithLenientDomain())
	}
	p, err := biofhe.NewPipeline(v.engine, v.Config(), strategy, opts...)
	if err != nil {
		return nil, err
	}
	v.pipelines[key] = p
	return p, nil
}

// Enroll validates a template against the tables and stores it.
func (v *Verifier) Enroll(ctx context.Context, template []biofhe.Code) (storage.Handle, error) {
	if _, err := v.compiler.Compile(template); err != nil {
		return "", err
	}
	return v.store.Store(ctx, template)
}

// Template loads an enrolled template.
func (v *Verifier) Template(ctx context.Context, handle storage.Handle) ([]biofhe.Code, error) {
	data, err := v.store.Load(ctx, handle)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidHandle) {
		return nil, &biofhe.MalformedInputError{Source: "template " + string(handle), Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	return data, nil
}

// Authenticate matches probe against template with the named strategy, stores
// the encrypted decision and decrypts it.
func (v *Verifier) Authenticate(ctx context.Context, template, probe []biofhe.Code, strategy string) (Result, error) {
	p, err := v.pipeline(strategy)
	if err != nil {
		return Result{}, err
	}
	set, err := v.compiler.Compile(template)
	if err != nil {
		return Result{}, err
	}
	ct, err := p.Authenticate(ctx, probe, set)
	if err != nil {
		return Result{}, err
	}
	data, err := ct.MarshalBinary()
	if err != nil {
		return Result{}, &biofhe.EngineFailure{Step: "marshal", Err: err}
	}
	handle, err := v.store.Store(ctx, data)
	if err != nil {
		return Result{}, fmt.Errorf("store result: %w", err)
	}
	match, err := v.engine.DecryptBool(ct)
	if err != nil {
		return Result{}, &biofhe.EngineFailure{Step: "decrypt", Err: err}
	}
	return Result{Match: match, ResultHandle: handle, Strategy: p.Strategy().String()}, nil
}
