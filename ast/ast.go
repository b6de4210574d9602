// Package ast is the typed syntax tree of the numeric asm.js subset.
//
// Nodes are produced by a parser and type checker and are treated as read only.
// Identity matters: variables, break targets and functions are compared by pointer.
package ast

type (
	Node interface {
		node()
	}

	Statement interface {
		Node
		stmt()
	}

	Expression interface {
		Node
		ExprType() Type
	}

	Declaration interface {
		Node
		decl()
	}

	// Breakable is a statement which can be a break or continue target.
	Breakable interface {
		Statement
		breakable()
	}

	Variable struct {
		Name string
		Kind VarKind
		Type Type
	}
)

// Declarations.
type (
	VariableDeclaration struct {
		Var *Variable
	}

	FunctionDeclaration struct {
		Var *Variable
		Fun *FunctionLiteral
	}

	// ImportDeclaration declares a function provided by the host.
	ImportDeclaration struct {
		Var    *Variable
		Result Type
		Params []Type
	}
)

// Statements.
type (
	Block struct {
		Statements []Statement
	}

	ExpressionStatement struct {
		Expr Expression
	}

	EmptyStatement struct{}

	DebuggerStatement struct{}

	IfStatement struct {
		Cond Expression
		Then Statement // nil if missing
		Else Statement // nil if missing
	}

	ContinueStatement struct {
		Target Breakable
	}

	BreakStatement struct {
		Target Breakable
	}

	ReturnStatement struct {
		Expr Expression // nil for return without a value
	}

	WhileStatement struct {
		Cond Expression
		Body Statement
	}

	DoWhileStatement struct {
		Body Statement
		Cond Expression
	}

	// ForStatement is for (Init; Cond; Next) Body. Any clause may be nil.
	ForStatement struct {
		Init Statement
		Cond Expression
		Next Statement
		Body Statement
	}

	ForInStatement struct {
		Each    Expression
		Subject Expression
		Body    Statement
	}

	ForOfStatement struct {
		Each    Expression
		Subject Expression
		Body    Statement
	}

	SwitchStatement struct {
		Tag   Expression
		Cases []*CaseClause
	}

	CaseClause struct {
		Label      Expression // nil for default
		Statements []Statement
	}

	TryCatchStatement struct {
		Try   *Block
		Catch *Block
	}

	TryFinallyStatement struct {
		Try     *Block
		Finally *Block
	}

	WithStatement struct {
		Expr Expression
		Body Statement
	}
)

// Expressions.
type (
	LiteralKind byte

	Literal struct {
		Kind   LiteralKind
		Number float64
		String string
		Type   Type
	}

	VariableProxy struct {
		Var *Variable
	}

	// Assignment is Target Op Value, Op is Assign or a compound assignment.
	Assignment struct {
		Op     Token
		Target Expression
		Value  Expression
		Type   Type
	}

	BinaryOperation struct {
		Op    Token
		Left  Expression
		Right Expression
		Type  Type
	}

	// CompareOperation always produces Int.
	CompareOperation struct {
		Op    Token
		Left  Expression
		Right Expression
	}

	UnaryOperation struct {
		Op   Token
		Expr Expression
		Type Type
	}

	// CountOperation is ++ or -- in prefix or postfix form.
	CountOperation struct {
		Op     Token
		Prefix bool
		Expr   Expression
		Type   Type
	}

	Call struct {
		Callee Expression
		Args   []Expression
		Type   Type
	}

	CallNew struct {
		Callee Expression
		Args   []Expression
	}

	Conditional struct {
		Cond Expression
		Then Expression
		Else Expression
		Type Type
	}

	Property struct {
		Obj Expression
		Key Expression
	}

	ObjectLiteral struct {
		Properties []ObjectProperty
	}

	ObjectProperty struct {
		Key   string
		Value Expression
	}

	ArrayLiteral struct {
		Values []Expression
	}

	RegExpLiteral struct {
		Pattern string
		Flags   string
	}

	FunctionLiteral struct {
		Name   string
		Params []*Variable
		Result Type

		Declarations []Declaration
		Body         []Statement
	}

	ClassLiteral struct {
		Name string
	}

	ThisFunction struct{}

	Spread struct {
		Expr Expression
	}

	Yield struct {
		Expr Expression
	}

	Throw struct {
		Expr Expression
	}
)

const (
	Number LiteralKind = iota
	String
	Boolean
	Null
	Undefined
)

func (*VariableDeclaration) node() {}
func (*FunctionDeclaration) node() {}
func (*ImportDeclaration) node()   {}

func (*VariableDeclaration) decl() {}
func (*FunctionDeclaration) decl() {}
func (*ImportDeclaration) decl()   {}

func (*Block) node()               {}
func (*ExpressionStatement) node() {}
func (*EmptyStatement) node()      {}
func (*DebuggerStatement) node()   {}
func (*IfStatement) node()         {}
func (*ContinueStatement) node()   {}
func (*BreakStatement) node()      {}
func (*ReturnStatement) node()     {}
func (*WhileStatement) node()      {}
func (*DoWhileStatement) node()    {}
func (*ForStatement) node()        {}
func (*ForInStatement) node()      {}
func (*ForOfStatement) node()      {}
func (*SwitchStatement) node()     {}
func (*CaseClause) node()          {}
func (*TryCatchStatement) node()   {}
func (*TryFinallyStatement) node() {}
func (*WithStatement) node()       {}

func (*Block) stmt()               {}
func (*ExpressionStatement) stmt() {}
func (*EmptyStatement) stmt()      {}
func (*DebuggerStatement) stmt()   {}
func (*IfStatement) stmt()         {}
func (*ContinueStatement) stmt()   {}
func (*BreakStatement) stmt()      {}
func (*ReturnStatement) stmt()     {}
func (*WhileStatement) stmt()      {}
func (*DoWhileStatement) stmt()    {}
func (*ForStatement) stmt()        {}
func (*ForInStatement) stmt()      {}
func (*ForOfStatement) stmt()      {}
func (*SwitchStatement) stmt()     {}
func (*TryCatchStatement) stmt()   {}
func (*TryFinallyStatement) stmt() {}
func (*WithStatement) stmt()       {}

func (*Block) breakable()            {}
func (*WhileStatement) breakable()   {}
func (*DoWhileStatement) breakable() {}
func (*ForStatement) breakable()     {}
func (*ForInStatement) breakable()   {}
func (*ForOfStatement) breakable()   {}
func (*SwitchStatement) breakable()  {}

func (*Literal) node()          {}
func (*VariableProxy) node()    {}
func (*Assignment) node()       {}
func (*BinaryOperation) node()  {}
func (*CompareOperation) node() {}
func (*UnaryOperation) node()   {}
func (*CountOperation) node()   {}
func (*Call) node()             {}
func (*CallNew) node()          {}
func (*Conditional) node()      {}
func (*Property) node()         {}
func (*ObjectLiteral) node()    {}
func (*ArrayLiteral) node()     {}
func (*RegExpLiteral) node()    {}
func (*FunctionLiteral) node()  {}
func (*ClassLiteral) node()     {}
func (*ThisFunction) node()     {}
func (*Spread) node()           {}
func (*Yield) node()            {}
func (*Throw) node()            {}

func (e *Literal) ExprType() Type         { return e.Type }
func (e *VariableProxy) ExprType() Type   { return e.Var.Type }
func (e *Assignment) ExprType() Type      { return e.Type }
func (e *BinaryOperation) ExprType() Type { return e.Type }
func (*CompareOperation) ExprType() Type  { return Int }
func (e *UnaryOperation) ExprType() Type  { return e.Type }
func (e *CountOperation) ExprType() Type  { return e.Type }
func (e *Call) ExprType() Type            { return e.Type }
func (*CallNew) ExprType() Type           { return Object }
func (e *Conditional) ExprType() Type     { return e.Type }
func (*Property) ExprType() Type          { return None }
func (*ObjectLiteral) ExprType() Type     { return Object }
func (*ArrayLiteral) ExprType() Type      { return Object }
func (*RegExpLiteral) ExprType() Type     { return Object }
func (*FunctionLiteral) ExprType() Type   { return Function }
func (*ClassLiteral) ExprType() Type      { return Function }
func (*ThisFunction) ExprType() Type      { return Function }
func (*Spread) ExprType() Type            { return None }
func (*Yield) ExprType() Type             { return None }
func (*Throw) ExprType() Type             { return None }

// IsJump reports whether control never falls through s to the next statement.
func IsJump(s Statement) bool {
	switch s := s.(type) {
	case *BreakStatement, *ContinueStatement, *ReturnStatement:
		return true
	case *ExpressionStatement:
		_, ok := s.Expr.(*Throw)
		return ok
	}

	return false
}

func NewVariable(name string, kind VarKind, t Type) *Variable {
	return &Variable{Name: name, Kind: kind, Type: t}
}

func (v *Variable) IsFunction() bool { return v.Kind == FunctionVar }

func (v *Variable) IsParameter() bool { return v.Kind == Parameter }

func (v *Variable) String() string {
	if v == nil {
		return "<nil>"
	}

	return v.Name
}

// Num is a numeric literal of type t.
func Num(v float64, t Type) *Literal {
	return &Literal{Kind: Number, Number: v, Type: t}
}

// Ref is a reference to v.
func Ref(v *Variable) *VariableProxy {
	return &VariableProxy{Var: v}
}

// Expr wraps e into a statement.
func Expr(e Expression) *ExpressionStatement {
	return &ExpressionStatement{Expr: e}
}

// Set is v = e.
func Set(v *Variable, e Expression) *Assignment {
	return &Assignment{Op: Assign, Target: Ref(v), Value: e, Type: v.Type}
}

func Bin(op Token, l, r Expression, t Type) *BinaryOperation {
	return &BinaryOperation{Op: op, Left: l, Right: r, Type: t}
}

func Cmp(op Token, l, r Expression) *CompareOperation {
	return &CompareOperation{Op: op, Left: l, Right: r}
}

func Return(e Expression) *ReturnStatement {
	return &ReturnStatement{Expr: e}
}
