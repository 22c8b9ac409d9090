package bytecode

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownOpcode is returned for opcodes outside the instruction set.
	ErrUnknownOpcode = errors.New("unknown opcode")

	// ErrMissingOperand is returned when an operand-carrying opcode is
	// constructed without one.
	ErrMissingOperand = errors.New("missing operand")

	// ErrUnexpectedOperand is returned when an operand is supplied to an
	// opcode that does not take one.
	ErrUnexpectedOperand = errors.New("unexpected operand")
)

// Instruction is one VM operation: an opcode plus an optional signed
// immediate operand. Instructions never change after construction.
type Instruction struct {
	Op         Opcode
	Operand    int64
	HasOperand bool
}

// New creates an instruction without an operand.
func New(op Opcode) Instruction {
	return Instruction{Op: op}
}

// NewImm creates an instruction with an immediate operand.
func NewImm(op Opcode, imm int64) Instruction {
	return Instruction{Op: op, Operand: imm, HasOperand: true}
}

// Validate checks the instruction against the instruction-set contract:
// the opcode must be known and the operand present exactly when the
// opcode requires one.
func (ins Instruction) Validate() error {
	if !ins.Op.Valid() {
		return fmt.Errorf("%w: 0x%02x", ErrUnknownOpcode, uint8(ins.Op))
	}
	if ins.Op.HasOperand() && !ins.HasOperand {
		return fmt.Errorf("%w: %s", ErrMissingOperand, ins.Op)
	}
	if !ins.Op.HasOperand() && ins.HasOperand {
		return fmt.Errorf("%w: %s", ErrUnexpectedOperand, ins.Op)
	}
	return nil
}

// String returns the instruction in assembler form.
func (ins Instruction) String() string {
	if ins.HasOperand {
		return fmt.Sprintf("%s %d", ins.Op, ins.Operand)
	}
	return ins.Op.String()
}

// Verify validates every instruction in a program, reporting the index
// of the first malformed instruction.
func Verify(prog []Instruction) error {
	for i, ins := range prog {
		if err := ins.Validate(); err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
	}
	return nil
}
