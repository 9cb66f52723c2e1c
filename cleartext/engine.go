// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

// Package cleartext is an insecure reference Engine. Ciphertexts carry their
// message in the clear, so it is only suitable for tests and for checking the
// protocol against a real engine.
package cleartext

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/biofhe"
)

// ErrInjected is returned by operations failed through WithFault.
var ErrInjected = errors.New("injected engine fault")

// Step names an engine operation for fault injection.
type Step string

const (
	StepEncrypt   Step = "encrypt"
	StepEvaluate  Step = "evaluate"
	StepKeySwitch Step = "keyswitch"
	StepBootstrap Step = "bootstrap"
	StepAdd       Step = "add"
	StepCompare   Step = "compare"
	StepDecrypt   Step = "decrypt"
)

// Ciphertext is a message in the clear. Switched marks a ciphertext that went
// through a keyswitch and may be bootstrapped.
type Ciphertext struct {
	Value    uint64
	Switched bool
	Trivial  bool
}

// MarshalBinary encodes the value and flags.
func (c *Ciphertext) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 9)
	binary.LittleEndian.PutUint64(buf, c.Value)
	if c.Switched {
		buf[8] |= 1
	}
	if c.Trivial {
		buf[8] |= 2
	}
	return buf, nil
}

// UnmarshalBinary decodes a MarshalBinary encoding.
func (c *Ciphertext) UnmarshalBinary(data []byte) error {
	if len(data) != 9 {
		return fmt.Errorf("cleartext: ciphertext is %d bytes, want 9", len(data))
	}
	c.Value = binary.LittleEndian.Uint64(data)
	c.Switched = data[8]&1 != 0
	c.Trivial = data[8]&2 != 0
	return nil
}

type fault struct {
	step Step
	nth  int64
}

// Engine evaluates the protocol in the clear.
type Engine struct {
	radix    biofhe.Radix
	base     uint64
	msgSpace uint64

	withAccel bool
	faults    []fault
	jitter    time.Duration

	host  *device
	accel *device

	counts sync.Map // Step -> *atomic.Int64

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures an Engine.
type Option func(*Engine)

// WithoutAccelerator makes Accelerator return ErrNoAccelerator.
func WithoutAccelerator() Option {
	return func(e *Engine) { e.withAccel = false }
}

// WithFault fails the nth call (1-based) of step with ErrInjected.
func WithFault(step Step, nth int) Option {
	return func(e *Engine) { e.faults = append(e.faults, fault{step: step, nth: int64(nth)}) }
}

// WithJitter delays every table evaluation by a random duration up to max, so
// that results complete out of order.
func WithJitter(max time.Duration, seed int64) Option {
	return func(e *Engine) {
		e.jitter = max
		e.rng = rand.New(rand.NewSource(seed))
	}
}

// New returns an engine for digits of radix.BlockLength bits. Messages live in
// a space of 2^(2*BlockLength) values, leaving room for one carry digit.
func New(radix biofhe.Radix, opts ...Option) *Engine {
	e := &Engine{
		radix:     radix,
		base:      radix.Base(),
		msgSpace:  radix.Base() * radix.Base(),
		withAccel: true,
		rng:       rand.New(rand.NewSource(1)),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.host = &device{name: "host", engine: e}
	if e.withAccel {
		e.accel = &device{name: "accelerator", engine: e, shuffle: true}
	}
	return e
}

// MessageSpace returns the number of encodable messages.
func (e *Engine) MessageSpace() uint64 { return e.msgSpace }

// Calls returns how many times step was invoked. Device steps count batches.
func (e *Engine) Calls(step Step) int {
	return int(e.counter(step).Load())
}

func (e *Engine) counter(step Step) *atomic.Int64 {
	v, _ := e.counts.LoadOrStore(step, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// hit counts a call and returns the injected fault if one is due.
func (e *Engine) hit(step Step) error {
	n := e.counter(step).Add(1)
	for _, f := range e.faults {
		if f.step == step && f.nth == n {
			return fmt.Errorf("%s call %d: %w", step, n, ErrInjected)
		}
	}
	return nil
}

func (e *Engine) sleep(ctx context.Context) error {
	if e.jitter <= 0 {
		return ctx.Err()
	}
	e.rngMu.Lock()
	d := time.Duration(e.rng.Int63n(int64(e.jitter)))
	e.rngMu.Unlock()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Engine) cast(ct biofhe.Ciphertext) (*Ciphertext, error) {
	c, ok := ct.(*Ciphertext)
	if !ok || c == nil {
		return nil, fmt.Errorf("cleartext: unexpected ciphertext %T", ct)
	}
	return c, nil
}

// Encrypt wraps message.
func (e *Engine) Encrypt(ctx context.Context, message uint64) (biofhe.Ciphertext, error) {
	if err := e.hit(StepEncrypt); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if message >= e.msgSpace {
		return nil, fmt.Errorf("cleartext: message %d outside [0, %d)", message, e.msgSpace)
	}
	return &Ciphertext{Value: message}, nil
}

// EvaluateLookup applies lookup to ct.
func (e *Engine) EvaluateLookup(ctx context.Context, ct biofhe.Ciphertext, lookup *biofhe.Lookup, mode biofhe.DigitMode) (biofhe.Ciphertext, error) {
	if err := e.hit(StepEvaluate); err != nil {
		return nil, err
	}
	c, err := e.cast(ct)
	if err != nil {
		return nil, err
	}
	if err := e.sleep(ctx); err != nil {
		return nil, err
	}
	return e.apply(c.Value, lookup)
}

func (e *Engine) apply(m uint64, lookup *biofhe.Lookup) (*Ciphertext, error) {
	table := lookup.Tabulate(e.msgSpace)
	if m >= uint64(len(table)) {
		return nil, fmt.Errorf("cleartext: message %d outside table of %d", m, len(table))
	}
	d := table[m]
	if d >= e.base {
		return nil, fmt.Errorf("cleartext: %s yields digit %d, base is %d", lookup, d, e.base)
	}
	return &Ciphertext{Value: d}, nil
}

// TrivialZero returns width noiseless zero digits.
func (e *Engine) TrivialZero(width int) (*biofhe.RadixCiphertext, error) {
	if width < 0 {
		return nil, fmt.Errorf("cleartext: negative width %d", width)
	}
	blocks := make([]biofhe.Ciphertext, width)
	for i := range blocks {
		blocks[i] = &Ciphertext{Trivial: true}
	}
	return &biofhe.RadixCiphertext{Blocks: blocks}, nil
}

func (e *Engine) digits(r *biofhe.RadixCiphertext) ([]uint64, error) {
	out := make([]uint64, r.Width())
	for i, b := range r.Blocks {
		c, err := e.cast(b)
		if err != nil {
			return nil, err
		}
		if c.Value >= e.base {
			return nil, fmt.Errorf("cleartext: block %d holds %d, base is %d", i, c.Value, e.base)
		}
		out[i] = c.Value
	}
	return out, nil
}

// Add sums a and b digit by digit, propagating carries. The final carry is
// dropped.
func (e *Engine) Add(ctx context.Context, a, b *biofhe.RadixCiphertext) (*biofhe.RadixCiphertext, error) {
	if err := e.hit(StepAdd); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.Width() != b.Width() {
		return nil, fmt.Errorf("cleartext: adding widths %d and %d", a.Width(), b.Width())
	}
	da, err := e.digits(a)
	if err != nil {
		return nil, err
	}
	db, err := e.digits(b)
	if err != nil {
		return nil, err
	}
	blocks := make([]biofhe.Ciphertext, len(da))
	var carry uint64
	for i := range da {
		s := da[i] + db[i] + carry
		blocks[i] = &Ciphertext{Value: s % e.base}
		carry = s / e.base
	}
	return &biofhe.RadixCiphertext{Blocks: blocks}, nil
}

// CompareGreaterOrEqual returns an encryption of value >= scalar.
func (e *Engine) CompareGreaterOrEqual(ctx context.Context, value *biofhe.RadixCiphertext, scalar uint64) (biofhe.Ciphertext, error) {
	if err := e.hit(StepCompare); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, err := e.digits(value)
	if err != nil {
		return nil, err
	}
	if e.radix.Compose(d) >= scalar {
		return &Ciphertext{Value: 1}, nil
	}
	return &Ciphertext{Value: 0}, nil
}

// Decrypt returns the message.
func (e *Engine) Decrypt(ct biofhe.Ciphertext) (uint64, error) {
	if err := e.hit(StepDecrypt); err != nil {
		return 0, err
	}
	c, err := e.cast(ct)
	if err != nil {
		return 0, err
	}
	return c.Value, nil
}

// DecryptBool returns the message as a boolean.
func (e *Engine) DecryptBool(ct biofhe.Ciphertext) (bool, error) {
	v, err := e.Decrypt(ct)
	if err != nil {
		return false, err
	}
	if v > 1 {
		return false, fmt.Errorf("cleartext: %d is not a boolean", v)
	}
	return v == 1, nil
}

// DecryptRadix recomposes a radix ciphertext.
func (e *Engine) DecryptRadix(r *biofhe.RadixCiphertext) (uint64, error) {
	d, err := e.digits(r)
	if err != nil {
		return 0, err
	}
	return e.radix.Compose(d), nil
}

// Host returns the host device.
func (e *Engine) Host() biofhe.Device { return e.host }

// Accelerator returns the simulated accelerator.
func (e *Engine) Accelerator() (biofhe.Device, error) {
	if e.accel == nil {
		return nil, biofhe.ErrNoAccelerator
	}
	return e.accel, nil
}

var _ biofhe.Engine = (*Engine)(nil)
