// Package types defines core identity types shared across estavm.
//
// A program is identified by the blake3 hash of its binary image, so
// identical programs always resolve to the same ID regardless of where
// they were assembled or loaded.
package types

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

// ProgramIDSize is the size of a program identifier in bytes.
const ProgramIDSize = 32

var (
	// ErrInvalidProgramID is returned when a program ID has invalid length.
	ErrInvalidProgramID = errors.New("invalid program id: must be 32 bytes")
)

// ProgramID is the 32-byte blake3 hash of a program's binary image.
type ProgramID [ProgramIDSize]byte

// HashProgram computes the ProgramID for a binary program image.
func HashProgram(image []byte) ProgramID {
	return ProgramID(blake3.Sum256(image))
}

// ProgramIDFromBase58 parses a base58-encoded program ID.
func ProgramIDFromBase58(s string) (ProgramID, error) {
	var id ProgramID
	data, err := base58.Decode(s)
	if err != nil {
		return id, fmt.Errorf("base58 decode: %w", err)
	}
	if len(data) != ProgramIDSize {
		return id, ErrInvalidProgramID
	}
	copy(id[:], data)
	return id, nil
}

// ProgramIDFromBytes creates a ProgramID from a byte slice.
func ProgramIDFromBytes(b []byte) (ProgramID, error) {
	var id ProgramID
	if len(b) != ProgramIDSize {
		return id, ErrInvalidProgramID
	}
	copy(id[:], b)
	return id, nil
}

// String returns the base58-encoded representation.
func (id ProgramID) String() string {
	return base58.Encode(id[:])
}

// Bytes returns the ID as a byte slice.
func (id ProgramID) Bytes() []byte {
	b := make([]byte, ProgramIDSize)
	copy(b, id[:])
	return b
}

// IsZero returns true if the ID is all zeros.
func (id ProgramID) IsZero() bool {
	for _, b := range id {
		if b != 0 {
			return false
		}
	}
	return true
}

// Equals returns true if two program IDs are equal.
func (id ProgramID) Equals(other ProgramID) bool {
	return id == other
}

// MarshalText implements encoding.TextMarshaler.
func (id ProgramID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ProgramID) UnmarshalText(text []byte) error {
	parsed, err := ProgramIDFromBase58(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
