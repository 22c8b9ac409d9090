// Package asm implements the estavm text assembler and disassembler.
//
// The source format is line oriented: one instruction per line, an
// optional immediate operand, and optional labels. Labels are defined
// with a trailing colon and may be used as the operand of jump and
// jumpz, where they resolve to absolute instruction indices. Comments
// start with ';' or '#' and run to the end of the line. Mnemonics and
// labels are case-insensitive.
//
//	        loadc 10        ; counter
//	loop:   loadc 1
//	        sub
//	        jumpz done
//	        jump loop
//	done:   halt
package asm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/estalang/estavm/pkg/bytecode"
)

var (
	// ErrUnknownMnemonic is returned for an unrecognized instruction name.
	ErrUnknownMnemonic = errors.New("unknown mnemonic")

	// ErrMissingOperand is returned when an operand-carrying mnemonic
	// has no operand on its line.
	ErrMissingOperand = errors.New("missing operand")

	// ErrUnexpectedOperand is returned when an operand follows a
	// mnemonic that does not take one.
	ErrUnexpectedOperand = errors.New("unexpected operand")

	// ErrBadOperand is returned when an operand is neither an integer
	// nor a known label.
	ErrBadOperand = errors.New("bad operand")

	// ErrDuplicateLabel is returned when a label is defined twice.
	ErrDuplicateLabel = errors.New("duplicate label")

	// ErrUnknownLabel is returned when a jump names an undefined label.
	ErrUnknownLabel = errors.New("unknown label")
)

// line is one parsed source line awaiting label resolution.
type line struct {
	num      int    // 1-based source line number
	op       bytecode.Opcode
	operand  string // raw operand text, empty when absent
	hasLabel bool   // operand is a label reference
}

// Assemble translates assembler source into a program. Labels are
// resolved in a second pass, so forward references are allowed.
func Assemble(src string) ([]bytecode.Instruction, error) {
	labels := make(map[string]int64)
	var lines []line

	// First pass: parse lines, record label definitions at the index
	// of the next emitted instruction.
	for num, raw := range strings.Split(src, "\n") {
		text := stripComment(raw)

		// A line may carry any number of label definitions before its
		// instruction ("loop: loadc 1").
		for {
			text = strings.TrimSpace(text)
			name, rest, ok := splitLabel(text)
			if !ok {
				break
			}
			name = strings.ToLower(name)
			if _, dup := labels[name]; dup {
				return nil, fmt.Errorf("line %d: %w: %s", num+1, ErrDuplicateLabel, name)
			}
			labels[name] = int64(len(lines))
			text = rest
		}
		if text == "" {
			continue
		}

		fields := strings.Fields(text)
		mnemonic := strings.ToLower(fields[0])
		op, ok := bytecode.OpcodeFromMnemonic(mnemonic)
		if !ok {
			return nil, fmt.Errorf("line %d: %w: %s", num+1, ErrUnknownMnemonic, mnemonic)
		}

		ln := line{num: num + 1, op: op}
		switch {
		case op.HasOperand() && len(fields) < 2:
			return nil, fmt.Errorf("line %d: %w: %s", ln.num, ErrMissingOperand, mnemonic)
		case !op.HasOperand() && len(fields) > 1:
			return nil, fmt.Errorf("line %d: %w: %s", ln.num, ErrUnexpectedOperand, mnemonic)
		case len(fields) > 2:
			return nil, fmt.Errorf("line %d: %w: trailing %q", ln.num, ErrBadOperand, fields[2])
		case op.HasOperand():
			ln.operand = fields[1]
		}
		lines = append(lines, ln)
	}

	// Second pass: resolve operands.
	prog := make([]bytecode.Instruction, 0, len(lines))
	for _, ln := range lines {
		if !ln.op.HasOperand() {
			prog = append(prog, bytecode.New(ln.op))
			continue
		}

		imm, err := strconv.ParseInt(ln.operand, 10, 64)
		if err != nil {
			// Not an integer; jumps may name a label instead.
			if ln.op == bytecode.OpLoadConst {
				return nil, fmt.Errorf("line %d: %w: %q", ln.num, ErrBadOperand, ln.operand)
			}
			target, ok := labels[strings.ToLower(ln.operand)]
			if !ok {
				return nil, fmt.Errorf("line %d: %w: %q", ln.num, ErrUnknownLabel, ln.operand)
			}
			imm = target
		}
		prog = append(prog, bytecode.NewImm(ln.op, imm))
	}
	return prog, nil
}

// stripComment removes a trailing ';' or '#' comment.
func stripComment(s string) string {
	if i := strings.IndexAny(s, ";#"); i >= 0 {
		return s[:i]
	}
	return s
}

// splitLabel splits a leading "name:" label definition off text.
// Label names start with a letter or underscore.
func splitLabel(text string) (name, rest string, ok bool) {
	i := strings.IndexByte(text, ':')
	if i <= 0 {
		return "", "", false
	}
	name = text[:i]
	for j, r := range name {
		alpha := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		digit := r >= '0' && r <= '9'
		if !alpha && !(j > 0 && digit) {
			return "", "", false
		}
	}
	return name, text[i+1:], true
}

// Disassemble renders a program in assembler form, one instruction per
// line with its index as a comment.
func Disassemble(prog []bytecode.Instruction) string {
	var b strings.Builder
	for i, ins := range prog {
		fmt.Fprintf(&b, "%-16s ; %d\n", ins.String(), i)
	}
	return b.String()
}
