package types

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestHashProgramIsDeterministic(t *testing.T) {
	image := []byte{1, 2, 3, 4}

	a := HashProgram(image)
	b := HashProgram(image)
	if !a.Equals(b) {
		t.Error("same image produced different IDs")
	}

	c := HashProgram([]byte{1, 2, 3, 5})
	if a.Equals(c) {
		t.Error("different images produced the same ID")
	}

	if a.IsZero() {
		t.Error("hash of a non-empty image should not be zero")
	}
}

func TestBase58RoundTrip(t *testing.T) {
	id := HashProgram([]byte("program"))

	parsed, err := ProgramIDFromBase58(id.String())
	if err != nil {
		t.Fatalf("ProgramIDFromBase58: %v", err)
	}
	if !parsed.Equals(id) {
		t.Errorf("round trip mismatch: %s != %s", parsed, id)
	}
}

func TestProgramIDFromBase58Errors(t *testing.T) {
	if _, err := ProgramIDFromBase58("0OIl"); err == nil {
		t.Error("expected error for invalid base58 characters")
	}

	// Valid base58, wrong length.
	if _, err := ProgramIDFromBase58("abc"); !errors.Is(err, ErrInvalidProgramID) {
		t.Errorf("expected ErrInvalidProgramID, got: %v", err)
	}
}

func TestProgramIDFromBytes(t *testing.T) {
	id := HashProgram([]byte("program"))

	parsed, err := ProgramIDFromBytes(id.Bytes())
	if err != nil {
		t.Fatalf("ProgramIDFromBytes: %v", err)
	}
	if !parsed.Equals(id) {
		t.Error("round trip mismatch")
	}

	if _, err := ProgramIDFromBytes([]byte{1, 2, 3}); !errors.Is(err, ErrInvalidProgramID) {
		t.Errorf("expected ErrInvalidProgramID, got: %v", err)
	}
}

func TestZeroValue(t *testing.T) {
	var id ProgramID
	if !id.IsZero() {
		t.Error("zero value should be zero")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	id := HashProgram([]byte("program"))

	data, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var parsed ProgramID
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !parsed.Equals(id) {
		t.Error("round trip mismatch")
	}
}
