// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package tfhe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/luxfi/lattice/v7/core/rgsw/blindrot"
	"github.com/luxfi/lattice/v7/core/rlwe"
	"github.com/luxfi/lattice/v7/ring"

	"github.com/luxfi/biofhe"
)

// ErrMessageRange is returned when a message does not fit the message space.
var ErrMessageRange = errors.New("tfhe: message outside message space")

// Engine evaluates the matching protocol under LWE encryption.
//
// Blind rotation has no grouped-key variant in the lattice library, so
// biofhe.MultiBit lookups run the classic rotation and cost the same as
// biofhe.Classic ones. MultiBit timings measured on this engine therefore
// say nothing about grouped bootstrapping.
type Engine struct {
	params   Parameters
	radix    biofhe.Radix
	base     uint64
	msgSpace uint64
	scale    float64
	halfStep uint64

	sk  *SecretKey
	bsk *BootstrapKey

	ringQ *ring.Ring

	encryptors sync.Pool
	decryptors sync.Pool
	evaluators sync.Pool

	// Arithmetic test polynomials.
	polyMod     *ring.Poly
	polyCarry   *ring.Poly
	polyGE      []*ring.Poly // [t]: x >= t
	polyCmp     []*ring.Poly // [t]: 2 if x > t, 1 if x == t, else 0
	polyCombine *ring.Poly   // y >= 2

	luts sync.Map // string(tabulated digits) -> *ring.Poly

	host *hostDevice
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	lit ParametersLiteral
	sk  *SecretKey
}

// WithParameters selects the parameter set. The default comes from
// DefaultParameters.
func WithParameters(lit ParametersLiteral) Option {
	return func(o *engineOptions) { o.lit = lit }
}

// WithSecretKey reuses an existing secret key instead of generating one.
func WithSecretKey(sk *SecretKey) Option {
	return func(o *engineOptions) { o.sk = sk }
}

// New generates keys and precomputes the arithmetic test polynomials for
// digits of radix.BlockLength bits.
func New(radix biofhe.Radix, opts ...Option) (*Engine, error) {
	o := engineOptions{lit: DefaultParameters(radix)}
	for _, opt := range opts {
		opt(&o)
	}
	params, err := NewParametersFromLiteral(o.lit)
	if err != nil {
		return nil, err
	}
	if bits := 2 * radix.BlockLength; bits > params.MaxMessageBits() {
		return nil, fmt.Errorf("%w: %d-bit messages exceed %d bits for N=%d",
			biofhe.ErrInvalidConfig, bits, params.MaxMessageBits(), params.N())
	}

	kg := NewKeyGenerator(params)
	sk := o.sk
	if sk == nil {
		sk = kg.GenSecretKey()
	}

	base := radix.Base()
	e := &Engine{
		params:   params,
		radix:    radix,
		base:     base,
		msgSpace: base * base,
		scale:    float64(params.Q()) / float64(2*base*base),
		halfStep: params.Q() / (4 * base * base),
		sk:       sk,
		bsk:      kg.GenBootstrapKey(sk),
		ringQ:    params.paramsLWE.RingQ(),
	}
	e.encryptors.New = func() any { return rlwe.NewEncryptor(params.paramsLWE, sk.SK) }
	e.decryptors.New = func() any { return rlwe.NewDecryptor(params.paramsLWE, sk.SK) }
	e.evaluators.New = func() any { return blindrot.NewEvaluator(params.paramsBR, params.paramsLWE) }
	e.precomputeLUTs()
	e.host = &hostDevice{engine: e}
	return e, nil
}

// Parameters returns the parameter set.
func (e *Engine) Parameters() Parameters { return e.params }

// SecretKey returns the key holder's secret key.
func (e *Engine) SecretKey() *SecretKey { return e.sk }

// MessageSpace returns the number of encodable messages.
func (e *Engine) MessageSpace() uint64 { return e.msgSpace }

// newTestPoly tabulates f over the message space.
//
// Blind rotation returns the constant coefficient of F(X)*X^phi, where phi
// is the input phase switched to Z_2N. InitTestPolynomial samples g on
// [-1, 1] so that the result is g(2phi/N) for phi in [0, N/2) and
// -g(2phi/N-2) for phi in [N/2, N). Inputs are shifted by half a step
// before rotation, so message m owns phi in [m*N/M, (m+1)*N/M).
func (e *Engine) newTestPoly(f func(m uint64) uint64) *ring.Poly {
	msgSpace := float64(e.msgSpace)
	message := func(u float64) uint64 {
		m := math.Floor(u * msgSpace)
		if m < 0 {
			m = 0
		}
		if m >= msgSpace {
			m = msgSpace - 1
		}
		return uint64(m)
	}
	poly := blindrot.InitTestPolynomial(func(x float64) float64 {
		if x >= 0 {
			return float64(f(message(x / 2)))
		}
		return -float64(f(message(x/2 + 1)))
	}, rlwe.NewScale(e.scale), e.params.paramsBR.RingQ(), -1, 1)
	return &poly
}

func (e *Engine) precomputeLUTs() {
	base := e.base
	e.polyMod = e.newTestPoly(func(m uint64) uint64 { return m % base })
	e.polyCarry = e.newTestPoly(func(m uint64) uint64 { return m / base })
	e.polyCombine = e.newTestPoly(func(m uint64) uint64 {
		if m >= 2 {
			return 1
		}
		return 0
	})
	e.polyGE = make([]*ring.Poly, base)
	e.polyCmp = make([]*ring.Poly, base)
	for t := uint64(0); t < base; t++ {
		e.polyGE[t] = e.newTestPoly(func(m uint64) uint64 {
			if m >= t {
				return 1
			}
			return 0
		})
		e.polyCmp[t] = e.newTestPoly(func(m uint64) uint64 {
			switch {
			case m > t:
				return 2
			case m == t:
				return 1
			}
			return 0
		})
	}
}

// lookupPoly returns the cached test polynomial for a lookup. Lookups with
// equal tabulations share one polynomial.
func (e *Engine) lookupPoly(l *biofhe.Lookup) *ring.Poly {
	tab := l.Tabulate(e.msgSpace)
	key := make([]byte, len(tab))
	for i, d := range tab {
		key[i] = byte(d)
	}
	if p, ok := e.luts.Load(string(key)); ok {
		return p.(*ring.Poly)
	}
	p := e.newTestPoly(func(m uint64) uint64 { return tab[m] })
	actual, _ := e.luts.LoadOrStore(string(key), p)
	return actual.(*ring.Poly)
}

// Encrypt encrypts one message.
func (e *Engine) Encrypt(ctx context.Context, message uint64) (biofhe.Ciphertext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if message >= e.msgSpace {
		return nil, fmt.Errorf("%w: %d >= %d", ErrMessageRange, message, e.msgSpace)
	}
	p := e.params.paramsLWE
	pt := rlwe.NewPlaintext(p, p.MaxLevel())
	pt.Value.Coeffs[0][0] = uint64(float64(message)*e.scale) % e.params.Q()
	e.ringQ.NTT(pt.Value, pt.Value)

	ct := rlwe.NewCiphertext(p, 1, p.MaxLevel())
	enc := e.encryptors.Get().(*rlwe.Encryptor)
	defer e.encryptors.Put(enc)
	if err := enc.Encrypt(pt, ct); err != nil {
		return nil, fmt.Errorf("tfhe: encrypt: %w", err)
	}
	return &Ciphertext{ct}, nil
}

// trivial is a noiseless encryption of message: b = m*scale, a = 0.
func (e *Engine) trivial(message uint64) *Ciphertext {
	p := e.params.paramsLWE
	ct := rlwe.NewCiphertext(p, 1, p.MaxLevel())
	ct.Value[0].Coeffs[0][0] = uint64(float64(message)*e.scale) % e.params.Q()
	e.ringQ.NTT(ct.Value[0], ct.Value[0])
	ct.IsNTT = true
	return &Ciphertext{ct}
}

// shift adds half a message step to the phase of a copy of ct.
func (e *Engine) shift(ct *Ciphertext) *rlwe.Ciphertext {
	out := ct.CopyNew()
	c0 := out.Value[0]
	if out.IsNTT {
		e.ringQ.INTT(c0, c0)
	}
	c0.Coeffs[0][0] = (c0.Coeffs[0][0] + e.halfStep) % e.params.Q()
	if out.IsNTT {
		e.ringQ.NTT(c0, c0)
	}
	return out
}

// TrivialZero returns width noiseless zero digits.
func (e *Engine) TrivialZero(width int) (*biofhe.RadixCiphertext, error) {
	if width < 0 {
		return nil, fmt.Errorf("tfhe: negative width %d", width)
	}
	blocks := make([]biofhe.Ciphertext, width)
	for i := range blocks {
		blocks[i] = e.trivial(0)
	}
	return &biofhe.RadixCiphertext{Blocks: blocks}, nil
}

func (e *Engine) toNTT(ct *rlwe.Ciphertext) {
	if ct.IsNTT {
		return
	}
	e.ringQ.NTT(ct.Value[0], ct.Value[0])
	e.ringQ.NTT(ct.Value[1], ct.Value[1])
	ct.IsNTT = true
}

// add sums two samples without bootstrapping.
func (e *Engine) add(a, b *Ciphertext) *Ciphertext {
	out := rlwe.NewCiphertext(e.params.paramsLWE, 1, a.Level())
	e.ringQ.Add(a.Value[0], b.Value[0], out.Value[0])
	e.ringQ.Add(a.Value[1], b.Value[1], out.Value[1])
	out.IsNTT = a.IsNTT
	return &Ciphertext{out}
}

// keySwitch maps a sample to the blind rotation input key. Both keys are the
// same here, so it is a copy.
func (e *Engine) keySwitch(ct *Ciphertext) *Ciphertext {
	return &Ciphertext{ct.CopyNew()}
}

// bootstrap blind-rotates poly by ct and extracts slot 0.
func (e *Engine) bootstrap(ct *Ciphertext, poly *ring.Poly) (*Ciphertext, error) {
	ev := e.evaluators.Get().(*blindrot.Evaluator)
	defer e.evaluators.Put(ev)

	results, err := ev.Evaluate(e.shift(ct), map[int]*ring.Poly{0: poly}, e.bsk.BRK)
	if err != nil {
		return nil, fmt.Errorf("tfhe: bootstrap: %w", err)
	}
	ctBR, ok := results[0]
	if !ok {
		return nil, errors.New("tfhe: bootstrap: no result for slot 0")
	}
	out := ctBR.CopyNew()
	e.toNTT(out)
	return &Ciphertext{out}, nil
}

// EvaluateLookup keyswitches and bootstraps ct through lookup. Both digit
// modes run the classic blind rotation.
func (e *Engine) EvaluateLookup(ctx context.Context, ct biofhe.Ciphertext, lookup *biofhe.Lookup, mode biofhe.DigitMode) (biofhe.Ciphertext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := cast(ct)
	if err != nil {
		return nil, err
	}
	return e.bootstrap(e.keySwitch(c), e.lookupPoly(lookup))
}

func (e *Engine) digits(r *biofhe.RadixCiphertext) ([]*Ciphertext, error) {
	out := make([]*Ciphertext, r.Width())
	for i, b := range r.Blocks {
		c, err := cast(b)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		out[i] = c
	}
	return out, nil
}

// Add sums a and b digit by digit. Each position adds the incoming carry and
// bootstraps twice, once for the digit and once for the outgoing carry. The
// final carry is dropped.
func (e *Engine) Add(ctx context.Context, a, b *biofhe.RadixCiphertext) (*biofhe.RadixCiphertext, error) {
	if a.Width() != b.Width() {
		return nil, fmt.Errorf("tfhe: adding widths %d and %d", a.Width(), b.Width())
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
	var carry *Ciphertext
	for i := range da {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s := e.add(da[i], db[i])
		if carry != nil {
			s = e.add(s, carry)
		}
		d, err := e.bootstrap(s, e.polyMod)
		if err != nil {
			return nil, fmt.Errorf("digit %d: %w", i, err)
		}
		blocks[i] = d
		if i+1 < len(da) {
			if carry, err = e.bootstrap(s, e.polyCarry); err != nil {
				return nil, fmt.Errorf("carry %d: %w", i, err)
			}
		}
	}
	return &biofhe.RadixCiphertext{Blocks: blocks}, nil
}

// CompareGreaterOrEqual compares from the least significant digit up. The
// running result r and digit comparison c in {0: less, 1: equal, 2: greater}
// combine as r' = (c + r >= 2).
func (e *Engine) CompareGreaterOrEqual(ctx context.Context, value *biofhe.RadixCiphertext, scalar uint64) (biofhe.Ciphertext, error) {
	d, err := e.digits(value)
	if err != nil {
		return nil, err
	}
	if len(d) == 0 {
		return nil, errors.New("tfhe: comparing an empty radix ciphertext")
	}
	if m := e.radix.Modulus(len(d)); m != 0 && scalar >= m {
		return e.trivial(0), nil
	}
	t := e.radix.DigitsN(scalar, len(d))

	acc, err := e.bootstrap(d[0], e.polyGE[t[0]])
	if err != nil {
		return nil, fmt.Errorf("digit 0: %w", err)
	}
	for i := 1; i < len(d); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := e.bootstrap(d[i], e.polyCmp[t[i]])
		if err != nil {
			return nil, fmt.Errorf("digit %d: %w", i, err)
		}
		if acc, err = e.bootstrap(e.add(c, acc), e.polyCombine); err != nil {
			return nil, fmt.Errorf("combine %d: %w", i, err)
		}
	}
	return acc, nil
}

// Decrypt decodes round(phase*2M/Q) mod M.
func (e *Engine) Decrypt(ct biofhe.Ciphertext) (uint64, error) {
	c, err := cast(ct)
	if err != nil {
		return 0, err
	}
	dec := e.decryptors.Get().(*rlwe.Decryptor)
	defer e.decryptors.Put(dec)

	pt := rlwe.NewPlaintext(e.params.paramsLWE, c.Level())
	dec.Decrypt(c.Ciphertext, pt)
	if pt.IsNTT {
		e.ringQ.INTT(pt.Value, pt.Value)
	}
	phase := pt.Value.Coeffs[0][0]
	scaled := float64(phase) * float64(2*e.msgSpace) / float64(e.params.Q())
	return uint64(scaled+0.5) % e.msgSpace, nil
}

// DecryptBool decrypts a 0/1 message.
func (e *Engine) DecryptBool(ct biofhe.Ciphertext) (bool, error) {
	v, err := e.Decrypt(ct)
	if err != nil {
		return false, err
	}
	if v > 1 {
		return false, fmt.Errorf("tfhe: decrypted %d, want a boolean", v)
	}
	return v == 1, nil
}

// DecryptRadix decrypts and recomposes a radix ciphertext.
func (e *Engine) DecryptRadix(r *biofhe.RadixCiphertext) (uint64, error) {
	out := make([]uint64, r.Width())
	for i, b := range r.Blocks {
		v, err := e.Decrypt(b)
		if err != nil {
			return 0, err
		}
		out[i] = v % e.base
	}
	return e.radix.Compose(out), nil
}

// Host returns the host device.
func (e *Engine) Host() biofhe.Device { return e.host }

// Accelerator reports that no accelerator is available.
func (e *Engine) Accelerator() (biofhe.Device, error) {
	return nil, biofhe.ErrNoAccelerator
}

var _ biofhe.Engine = (*Engine)(nil)
