// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package tfhe

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/luxfi/lattice/v7/core/rlwe"

	"github.com/luxfi/biofhe"
)

// Ciphertext is one encrypted digit. Slot 0 of the underlying RLWE
// ciphertext carries the LWE sample.
type Ciphertext struct {
	*rlwe.Ciphertext
}

// MarshalBinary serializes a ciphertext.
func (ct *Ciphertext) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ct.Ciphertext); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary deserializes a ciphertext.
func (ct *Ciphertext) UnmarshalBinary(data []byte) error {
	ct.Ciphertext = new(rlwe.Ciphertext)
	return gob.NewDecoder(bytes.NewReader(data)).Decode(ct.Ciphertext)
}

func cast(ct biofhe.Ciphertext) (*Ciphertext, error) {
	c, ok := ct.(*Ciphertext)
	if !ok || c == nil || c.Ciphertext == nil {
		return nil, fmt.Errorf("tfhe: unexpected ciphertext %T", ct)
	}
	return c, nil
}
