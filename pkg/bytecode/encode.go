package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Binary container layout: a fixed header followed by fixed-width
// little-endian instruction records.
const (
	// containerVersion is the current container format version.
	containerVersion = 1

	// headerSize is magic (4) + version (4) + instruction count (8).
	headerSize = 4 + 4 + 8

	// recordSize is opcode (1) + operand flag (1) + operand (8).
	recordSize = 1 + 1 + 8
)

// containerMagic identifies an estavm binary program image.
var containerMagic = [4]byte{'E', 'S', 'B', 'C'}

var (
	// ErrBadMagic is returned when the image does not start with the
	// container magic.
	ErrBadMagic = errors.New("bad magic: not an estavm program image")

	// ErrBadVersion is returned for unsupported container versions.
	ErrBadVersion = errors.New("unsupported container version")

	// ErrTruncated is returned when the image is shorter than its
	// header or declared instruction count requires.
	ErrTruncated = errors.New("truncated program image")
)

// Encode serializes a program into its binary image. The image is
// deterministic: encoding the same program always yields the same
// bytes, which makes the blake3 content hash a stable identity.
func Encode(prog []Instruction) ([]byte, error) {
	if err := Verify(prog); err != nil {
		return nil, err
	}

	image := make([]byte, headerSize+len(prog)*recordSize)
	copy(image[0:4], containerMagic[:])
	binary.LittleEndian.PutUint32(image[4:8], containerVersion)
	binary.LittleEndian.PutUint64(image[8:16], uint64(len(prog)))

	off := headerSize
	for _, ins := range prog {
		image[off] = byte(ins.Op)
		if ins.HasOperand {
			image[off+1] = 1
			binary.LittleEndian.PutUint64(image[off+2:off+10], uint64(ins.Operand))
		}
		off += recordSize
	}
	return image, nil
}

// Decode parses a binary image back into a program, validating the
// header and every instruction record.
func Decode(image []byte) ([]Instruction, error) {
	if len(image) < headerSize {
		return nil, ErrTruncated
	}
	if [4]byte(image[0:4]) != containerMagic {
		return nil, ErrBadMagic
	}
	if v := binary.LittleEndian.Uint32(image[4:8]); v != containerVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, v)
	}

	// Compare by division: multiplying a hostile count by recordSize
	// could wrap uint64 and slip past the length check.
	count := binary.LittleEndian.Uint64(image[8:16])
	if count > uint64(len(image)-headerSize)/recordSize {
		return nil, fmt.Errorf("%w: %d instructions declared, %d bytes of records",
			ErrTruncated, count, len(image)-headerSize)
	}

	prog := make([]Instruction, count)
	off := headerSize
	for i := range prog {
		prog[i] = Instruction{
			Op:         Opcode(image[off]),
			HasOperand: image[off+1] != 0,
			Operand:    int64(binary.LittleEndian.Uint64(image[off+2 : off+10])),
		}
		if err := prog[i].Validate(); err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		off += recordSize
	}
	return prog, nil
}
