// Package bytecode defines the estavm instruction set and its binary
// program container.
//
// The instruction set is a closed enumeration: every opcode has a fixed
// stack arity, and three of them (loadc, jump, jumpz) carry a signed
// 64-bit immediate operand. Instructions are immutable values; programs
// are ordered sequences of instructions executed from index 0.
package bytecode

// Opcode identifies which operation an instruction performs.
type Opcode uint8

// The instruction set.
const (
	// OpLoadConst pushes the immediate operand.
	OpLoadConst Opcode = iota

	// OpLoad pops an address and pushes the variable-memory word at it.
	OpLoad

	// OpStore pops an address and writes the current stack top (not
	// popped) to variable memory at that address.
	OpStore

	// OpPop discards the top of the stack.
	OpPop

	// OpAlloc pops a length, reserves a zero-filled heap block of that
	// length and pushes the block's base address.
	OpAlloc

	// OpJump sets the program counter to the immediate operand.
	OpJump

	// OpJumpZ pops a value and jumps to the immediate operand when the
	// value is exactly 0.
	OpJumpZ

	// OpHalt terminates the run successfully.
	OpHalt

	// Arithmetic: pop a, pop b, push b op a.
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod

	// Logical: pop a, pop b, coerce each to boolean, push 1 or 0.
	OpAnd
	OpOr

	// Comparison: pop a, pop b, push 1 if b cmp a else 0.
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe

	// OpNeg pops a and pushes -a.
	OpNeg

	// OpNot pops a and pushes its boolean complement.
	OpNot

	opCount
)

// opNames holds the assembler mnemonic for each opcode.
var opNames = [opCount]string{
	OpLoadConst: "loadc",
	OpLoad:      "load",
	OpStore:     "store",
	OpPop:       "pop",
	OpAlloc:     "alloc",
	OpJump:      "jump",
	OpJumpZ:     "jumpz",
	OpHalt:      "halt",
	OpAdd:       "add",
	OpSub:       "sub",
	OpMul:       "mul",
	OpDiv:       "div",
	OpMod:       "mod",
	OpAnd:       "and",
	OpOr:        "or",
	OpEq:        "eq",
	OpNe:        "ne",
	OpLt:        "lt",
	OpLe:        "le",
	OpGt:        "gt",
	OpGe:        "ge",
	OpNeg:       "neg",
	OpNot:       "not",
}

// opMnemonics maps mnemonics back to opcodes for the assembler.
var opMnemonics = func() map[string]Opcode {
	m := make(map[string]Opcode, opCount)
	for op, name := range opNames {
		m[name] = Opcode(op)
	}
	return m
}()

// Valid returns true if op is a member of the instruction set.
func (op Opcode) Valid() bool {
	return op < opCount
}

// HasOperand returns true if op carries an immediate operand.
func (op Opcode) HasOperand() bool {
	return op == OpLoadConst || op == OpJump || op == OpJumpZ
}

// String returns the assembler mnemonic.
func (op Opcode) String() string {
	if !op.Valid() {
		return "invalid"
	}
	return opNames[op]
}

// OpcodeFromMnemonic resolves an assembler mnemonic to its opcode.
func OpcodeFromMnemonic(s string) (Opcode, bool) {
	op, ok := opMnemonics[s]
	return op, ok
}
