// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package biofhe

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	// ErrMalformedInput is matched by every MalformedInputError.
	ErrMalformedInput = errors.New("malformed input")

	// ErrDomainViolation is matched by every DomainViolation.
	ErrDomainViolation = errors.New("code outside lookup domain")

	// ErrVerificationFailed is matched by every EngineFailure. Callers report it
	// as a failed verification rather than a mismatch.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrInvalidConfig is returned for inconsistent configurations or strategies.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNoAccelerator is returned by engines without an accelerator device.
	ErrNoAccelerator = errors.New("no accelerator device available")

	// ErrReducedAssurance is returned when a strategy below full assurance is
	// rejected by the pipeline.
	ErrReducedAssurance = errors.New("strategy offers reduced security assurance")
)

// MalformedInputError reports a missing or unparseable classifier table,
// quantization file or dataset.
type MalformedInputError struct {
	Source string
	Err    error
}

func (e *MalformedInputError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("malformed input %s", e.Source)
	}
	return fmt.Sprintf("malformed input %s: %v", e.Source, e.Err)
}

func (e *MalformedInputError) Unwrap() error { return e.Err }

// Is reports ErrMalformedInput as a match.
func (e *MalformedInputError) Is(target error) bool { return target == ErrMalformedInput }

// DomainViolation reports a code outside the range a compiled lookup knows.
type DomainViolation struct {
	Feature int
	Code    uint64
	Limit   uint64
}

func (e *DomainViolation) Error() string {
	return fmt.Sprintf("feature %d: code %d outside [0, %d)", e.Feature, e.Code, e.Limit)
}

// Is reports ErrDomainViolation as a match.
func (e *DomainViolation) Is(target error) bool { return target == ErrDomainViolation }

// EngineFailure wraps an Evaluation Engine fault raised during one
// authentication. The authentication is aborted; nothing is retried.
type EngineFailure struct {
	Step string
	Err  error
}

func (e *EngineFailure) Error() string {
	return fmt.Sprintf("engine failure during %s: %v", e.Step, e.Err)
}

func (e *EngineFailure) Unwrap() error { return e.Err }

// Is reports ErrVerificationFailed as a match.
func (e *EngineFailure) Is(target error) bool { return target == ErrVerificationFailed }

func engineFailure(step string, err error) error {
	var ef *EngineFailure
	if errors.As(err, &ef) {
		return err
	}
	return &EngineFailure{Step: step, Err: err}
}
