package ast

// Visitor is the traversal contract for passes over the tree. A pass
// implements the two visit methods and calls WalkStmt/WalkExpr from
// them for the nodes it does not care about, so only the interesting
// cases need custom behavior.
type Visitor interface {
	VisitStmt(Stmt)
	VisitExpr(Expr)
}

// WalkStmt applies the default structural recursion for a statement:
// it visits each direct child, leaving how to descend further to the
// visitor. Nil children are skipped.
func WalkStmt(v Visitor, s Stmt) {
	switch s := s.(type) {
	case *Block:
		for _, stmt := range s.Stmts {
			v.VisitStmt(stmt)
		}
	case *While:
		v.VisitExpr(s.Test)
		v.VisitStmt(s.Body)
	case *If:
		v.VisitExpr(s.Test)
		v.VisitStmt(s.Body)
		if s.Alt != nil {
			v.VisitStmt(s.Alt)
		}
	case *Return:
		if s.Value != nil {
			v.VisitExpr(s.Value)
		}
	case *Declaration:
		v.VisitExpr(s.Value)
	case *FunDecl:
		for _, param := range s.Params {
			v.VisitExpr(param)
		}
		v.VisitStmt(s.Body)
	case *Assignment:
		v.VisitExpr(s.Target)
		v.VisitExpr(s.Value)
	case *For:
		if s.Init != nil {
			v.VisitStmt(s.Init)
		}
		if s.Test != nil {
			v.VisitExpr(s.Test)
		}
		if s.Post != nil {
			v.VisitStmt(s.Post)
		}
		v.VisitStmt(s.Body)
	}
}

// WalkExpr applies the default structural recursion for an expression.
func WalkExpr(v Visitor, e Expr) {
	switch e := e.(type) {
	case *Identifier, *Literal:
		// Leaves.
	case *BinaryOp:
		v.VisitExpr(e.Left)
		v.VisitExpr(e.Right)
	case *UnaryOp:
		v.VisitExpr(e.Operand)
	case *Call:
		for _, arg := range e.Args {
			v.VisitExpr(arg)
		}
	}
}
