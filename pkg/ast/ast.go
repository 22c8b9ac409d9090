// Package ast defines the source-level syntax tree that a future
// lowering pass will translate into bytecode.
//
// The execution engine makes no assumptions about how its instruction
// sequence was produced; this package is the contract a code generator
// would consume, not a dependency of the machine.
package ast

// Stmt is a statement node.
type Stmt interface {
	stmtNode()
}

// Expr is an expression node.
type Expr interface {
	exprNode()
}

// Block is a sequence of statements.
type Block struct {
	Stmts []Stmt
}

// While loops over Body while Test holds.
type While struct {
	Test Expr
	Body Stmt
}

// If runs Body when Test holds and Alt (which may be nil) otherwise.
type If struct {
	Test Expr
	Body Stmt
	Alt  Stmt
}

// Return exits the enclosing function; Value may be nil.
type Return struct {
	Value Expr
}

// Declaration introduces a named binding.
type Declaration struct {
	Name  string
	Value Expr
}

// FunDecl declares a function; Params are identifier expressions.
type FunDecl struct {
	Name   string
	Params []Expr
	Body   Stmt
}

// Assignment stores Value into Target.
type Assignment struct {
	Target Expr
	Value  Expr
}

// For is the classic three-clause loop; any clause may be nil.
type For struct {
	Init Stmt
	Test Expr
	Post Stmt
	Body Stmt
}

// Identifier names a binding.
type Identifier struct {
	Name string
}

// Literal is an integer literal.
type Literal struct {
	Value int64
}

// BinaryOp applies Op to two operands.
type BinaryOp struct {
	Left  Expr
	Op    string
	Right Expr
}

// UnaryOp applies Op to one operand.
type UnaryOp struct {
	Op      string
	Operand Expr
}

// Call invokes a named function.
type Call struct {
	Name string
	Args []Expr
}

func (*Block) stmtNode()       {}
func (*While) stmtNode()       {}
func (*If) stmtNode()          {}
func (*Return) stmtNode()      {}
func (*Declaration) stmtNode() {}
func (*FunDecl) stmtNode()     {}
func (*Assignment) stmtNode()  {}
func (*For) stmtNode()         {}

func (*Identifier) exprNode() {}
func (*Literal) exprNode()    {}
func (*BinaryOp) exprNode()   {}
func (*UnaryOp) exprNode()    {}
func (*Call) exprNode()       {}
