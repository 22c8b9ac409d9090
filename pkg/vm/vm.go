// Package vm implements the estavm stack machine.
//
// The machine executes a linear instruction sequence over three state
// containers:
//   - an operand stack of signed 64-bit words,
//   - a variable-memory array addressed by runtime-computed indices,
//     zero-extended on writes past its current length,
//   - a bump-allocated heap that only ever grows.
//
// Each cycle fetches the instruction at the program counter, advances
// the counter, then applies the instruction's effect. Jumps overwrite
// the counter with an absolute target; Halt ends the run. Execution is
// single-threaded and runs to completion, failure, or the optional
// step limit.
package vm

import (
	"errors"
	"fmt"
	"math"

	"github.com/estalang/estavm/pkg/bytecode"
)

// Faults. Any of these aborts the run immediately; there is no
// instruction-level recovery.
var (
	// ErrStackUnderflow indicates an operation required more operand
	// stack elements than were present.
	ErrStackUnderflow = errors.New("stack underflow")

	// ErrSegmentation indicates the program counter addressed a
	// non-existent instruction.
	ErrSegmentation = errors.New("program counter out of range")

	// ErrDivisionByZero indicates division or modulo by zero.
	ErrDivisionByZero = errors.New("division by zero")

	// ErrOverflow indicates arithmetic overflowed the word range.
	ErrOverflow = errors.New("arithmetic overflow")

	// ErrBadAddress indicates a negative memory address or allocation
	// length.
	ErrBadAddress = errors.New("bad address")

	// ErrInvalidInstruction indicates an opcode outside the instruction
	// set reached the dispatch loop.
	ErrInvalidInstruction = errors.New("invalid instruction")
)

// Step describes one fetched instruction for tracing. Stack and Mem
// are live views into machine state and are only valid for the
// duration of the trace call.
type Step struct {
	PC    int
	Ins   bytecode.Instruction
	Stack []int64
	Mem   []int64
}

// TraceFunc receives each step before it executes.
type TraceFunc func(Step)

// Options configures a machine.
type Options struct {
	// MaxSteps bounds the number of executed instructions. Zero means
	// unbounded; a non-terminating program then runs forever.
	MaxSteps uint64

	// Trace, when set, is called once per cycle before the instruction
	// executes.
	Trace TraceFunc
}

// Machine executes one program. All state is instance-local; run a
// second program on a second machine.
type Machine struct {
	stack []int64
	mem   []int64
	heap  []int64
	prog  []bytecode.Instruction
	pc    int

	opts   Options
	meter  *StepMeter
	steps  uint64
	halted bool
}

// New creates a machine for the given program. The program is copied;
// the caller's slice is not referenced afterward.
func New(prog []bytecode.Instruction, opts Options) *Machine {
	m := &Machine{
		prog: append([]bytecode.Instruction(nil), prog...),
		opts: opts,
	}
	if opts.MaxSteps > 0 {
		m.meter = NewStepMeter(opts.MaxSteps)
	}
	return m
}

// Run drives the fetch-decode-execute loop until Halt or a fault.
// It returns nil on successful halt and the fault otherwise.
func (m *Machine) Run() error {
	for {
		if m.pc < 0 || m.pc >= len(m.prog) {
			return fmt.Errorf("%w: pc %d with %d instructions", ErrSegmentation, m.pc, len(m.prog))
		}
		ins := m.prog[m.pc]
		pc := m.pc
		m.pc++

		if m.meter != nil {
			if err := m.meter.Consume(1); err != nil {
				return err
			}
		}
		m.steps++

		if m.opts.Trace != nil {
			m.opts.Trace(Step{PC: pc, Ins: ins, Stack: m.stack, Mem: m.mem})
		}

		switch ins.Op {
		case bytecode.OpLoadConst:
			m.push(ins.Operand)

		case bytecode.OpLoad:
			addr, err := m.pop()
			if err != nil {
				return err
			}
			w, err := m.read(addr)
			if err != nil {
				return err
			}
			m.push(w)

		case bytecode.OpStore:
			addr, err := m.pop()
			if err != nil {
				return err
			}
			w, err := m.top()
			if err != nil {
				return err
			}
			if err := m.write(addr, w); err != nil {
				return err
			}

		case bytecode.OpPop:
			if _, err := m.pop(); err != nil {
				return err
			}

		case bytecode.OpAlloc:
			n, err := m.pop()
			if err != nil {
				return err
			}
			if n < 0 {
				return fmt.Errorf("%w: allocation length %d", ErrBadAddress, n)
			}
			base := len(m.heap)
			m.heap = append(m.heap, make([]int64, n)...)
			m.push(int64(base))

		case bytecode.OpJump:
			m.pc = int(ins.Operand)

		case bytecode.OpJumpZ:
			v, err := m.pop()
			if err != nil {
				return err
			}
			if v == 0 {
				m.pc = int(ins.Operand)
			}

		case bytecode.OpHalt:
			m.halted = true
			return nil

		case bytecode.OpAdd:
			a, b, err := m.pop2()
			if err != nil {
				return err
			}
			m.push(b + a)

		case bytecode.OpSub:
			a, b, err := m.pop2()
			if err != nil {
				return err
			}
			m.push(b - a)

		case bytecode.OpMul:
			a, b, err := m.pop2()
			if err != nil {
				return err
			}
			m.push(b * a)

		case bytecode.OpDiv:
			a, b, err := m.pop2()
			if err != nil {
				return err
			}
			if a == 0 {
				return fmt.Errorf("%w: pc %d", ErrDivisionByZero, pc)
			}
			m.push(b / a)

		case bytecode.OpMod:
			a, b, err := m.pop2()
			if err != nil {
				return err
			}
			if a == 0 {
				return fmt.Errorf("%w: pc %d", ErrDivisionByZero, pc)
			}
			m.push(b % a)

		case bytecode.OpAnd:
			a, b, err := m.pop2()
			if err != nil {
				return err
			}
			m.push(boolWord(Truthy(a) && Truthy(b)))

		case bytecode.OpOr:
			a, b, err := m.pop2()
			if err != nil {
				return err
			}
			m.push(boolWord(Truthy(a) || Truthy(b)))

		case bytecode.OpEq:
			a, b, err := m.pop2()
			if err != nil {
				return err
			}
			m.push(boolWord(b == a))

		case bytecode.OpNe:
			a, b, err := m.pop2()
			if err != nil {
				return err
			}
			m.push(boolWord(b != a))

		case bytecode.OpLt:
			a, b, err := m.pop2()
			if err != nil {
				return err
			}
			m.push(boolWord(b < a))

		case bytecode.OpLe:
			a, b, err := m.pop2()
			if err != nil {
				return err
			}
			m.push(boolWord(b <= a))

		case bytecode.OpGt:
			a, b, err := m.pop2()
			if err != nil {
				return err
			}
			m.push(boolWord(b > a))

		case bytecode.OpGe:
			a, b, err := m.pop2()
			if err != nil {
				return err
			}
			m.push(boolWord(b >= a))

		case bytecode.OpNeg:
			a, err := m.pop()
			if err != nil {
				return err
			}
			if a == math.MinInt64 {
				return fmt.Errorf("%w: negate %d", ErrOverflow, a)
			}
			m.push(-a)

		case bytecode.OpNot:
			a, err := m.pop()
			if err != nil {
				return err
			}
			m.push(boolWord(!Truthy(a)))

		default:
			return fmt.Errorf("%w: opcode 0x%02x at pc %d", ErrInvalidInstruction, uint8(ins.Op), pc)
		}
	}
}

// push appends a word to the operand stack.
func (m *Machine) push(w int64) {
	m.stack = append(m.stack, w)
}

// pop removes and returns the top of the operand stack.
func (m *Machine) pop() (int64, error) {
	if len(m.stack) == 0 {
		return 0, fmt.Errorf("%w: pc %d", ErrStackUnderflow, m.pc-1)
	}
	w := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return w, nil
}

// pop2 pops two words: a was the top, b was below it.
func (m *Machine) pop2() (a, b int64, err error) {
	if a, err = m.pop(); err != nil {
		return 0, 0, err
	}
	if b, err = m.pop(); err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

// top returns the top of the operand stack without removing it.
func (m *Machine) top() (int64, error) {
	if len(m.stack) == 0 {
		return 0, fmt.Errorf("%w: pc %d", ErrStackUnderflow, m.pc-1)
	}
	return m.stack[len(m.stack)-1], nil
}

// read returns the variable-memory word at addr. Addresses at or past
// the current length read as 0 without growing the array, symmetric
// with the zero-extension writes perform.
func (m *Machine) read(addr int64) (int64, error) {
	if addr < 0 {
		return 0, fmt.Errorf("%w: load address %d", ErrBadAddress, addr)
	}
	if addr >= int64(len(m.mem)) {
		return 0, nil
	}
	return m.mem[addr], nil
}

// write stores w at addr, zero-extending variable memory when addr is
// past the current length.
func (m *Machine) write(addr, w int64) error {
	if addr < 0 {
		return fmt.Errorf("%w: store address %d", ErrBadAddress, addr)
	}
	if addr >= int64(len(m.mem)) {
		grown := make([]int64, addr+1)
		copy(grown, m.mem)
		m.mem = grown
	}
	m.mem[addr] = w
	return nil
}

// Truthy reports whether w is the word the machine treats as true.
// Only the exact value 1 is true; any other word, including other
// non-zero values, is false.
func Truthy(w int64) bool {
	return w == 1
}

// boolWord converts a boolean to its word representation.
func boolWord(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Stack returns a copy of the operand stack, bottom first.
func (m *Machine) Stack() []int64 {
	return append([]int64(nil), m.stack...)
}

// Memory returns a copy of variable memory.
func (m *Machine) Memory() []int64 {
	return append([]int64(nil), m.mem...)
}

// Heap returns a copy of the heap.
func (m *Machine) Heap() []int64 {
	return append([]int64(nil), m.heap...)
}

// Steps returns the number of instructions executed so far.
func (m *Machine) Steps() uint64 {
	return m.steps
}

// Halted returns true if the machine reached Halt.
func (m *Machine) Halted() bool {
	return m.halted
}
