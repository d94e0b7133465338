// Package ast defines the abstract syntax tree nodes the parser produces
// for a don build script.
//
// Generalised from the teacher's ast.Program/ast.Class/ast.Method/
// ast.MessageSend shape (kristofer/smog, pkg/ast/ast.go) to the statement
// and expression set a small indentation-based imperative language needs:
// field and function/target declarations at the top level, and
// assignment/if/while/call/arithmetic inside a function body. The same
// two-interface (Expression, Statement) design and TokenLiteral contract
// are kept.
package ast

// Node is the interface every AST node implements.
type Node interface {
	TokenLiteral() string
}

// Expression is a node that produces a value.
type Expression interface {
	Node
	expressionNode()
}

// Statement is a node executed for effect.
type Statement interface {
	Node
	statementNode()
}

// Program is the root node: a flat sequence of top-level declarations.
type Program struct {
	Decls []Statement
}

func (p *Program) TokenLiteral() string {
	if len(p.Decls) > 0 {
		return p.Decls[0].TokenLiteral()
	}
	return ""
}

// FieldDecl declares a global field initialised by Value, compiled into
// the synthetic init function.
type FieldDecl struct {
	Name  string
	Value Expression
	Line  int
}

func (f *FieldDecl) TokenLiteral() string { return f.Name }
func (f *FieldDecl) statementNode()       {}

// Param is one declared parameter of a FunctionDecl.
type Param struct {
	Name     string
	Default  Expression // nil if the parameter has no default
	IsVararg bool
}

// FunctionDecl declares a function. A function with no parameter list
// (`name:`) is a zero-argument target; the linker sets `IsTarget` on the
// compiled bytecode.Function to reflect that it is reachable by name from
// the CLI (every top-level
// function is a target in this language -- there is no nested function
// declaration).
type FunctionDecl struct {
	Name      string
	Params    []Param
	Body      []Statement
	HasParens bool // true for `name(...)`, false for the zero-arg `name:` form
	Line      int
}

func (f *FunctionDecl) TokenLiteral() string { return f.Name }
func (f *FunctionDecl) statementNode()       {}

// Assign is `name = value` (also used for the degenerate single-statement
// re-assignment inside a function body; field and local resolution happens
// at link time, not here).
type Assign struct {
	Name  string
	Value Expression
	Line  int
}

func (a *Assign) TokenLiteral() string { return a.Name }
func (a *Assign) statementNode()       {}

// ExprStatement is an expression evaluated for its side effects (almost
// always a Call).
type ExprStatement struct {
	Expr Expression
	Line int
}

func (e *ExprStatement) TokenLiteral() string { return e.Expr.TokenLiteral() }
func (e *ExprStatement) statementNode()       {}

// If is `if cond / then-block [/ else else-block]`.
type If struct {
	Cond Expression
	Then []Statement
	Else []Statement
	Line int
}

func (i *If) TokenLiteral() string { return "if" }
func (i *If) statementNode()       {}

// While is `while cond / body`.
type While struct {
	Cond Expression
	Body []Statement
	Line int
}

func (w *While) TokenLiteral() string { return "while" }
func (w *While) statementNode()       {}

// Identifier is a bare variable reference.
type Identifier struct {
	Name string
	Line int
}

func (i *Identifier) TokenLiteral() string { return i.Name }
func (i *Identifier) expressionNode()      {}

// IntegerLiteral is a base-10 integer literal.
type IntegerLiteral struct {
	Value int64
	Line  int
}

func (i *IntegerLiteral) TokenLiteral() string { return "int" }
func (i *IntegerLiteral) expressionNode()      {}

// StringLiteral is a double-quoted string literal with no escapes.
type StringLiteral struct {
	Value string
	Line  int
}

func (s *StringLiteral) TokenLiteral() string { return "string" }
func (s *StringLiteral) expressionNode()      {}

// BoolLiteral is `true` or `false`.
type BoolLiteral struct {
	Value bool
	Line  int
}

func (b *BoolLiteral) TokenLiteral() string { return "bool" }
func (b *BoolLiteral) expressionNode()      {}

// NullLiteral is `null`.
type NullLiteral struct{ Line int }

func (n *NullLiteral) TokenLiteral() string { return "null" }
func (n *NullLiteral) expressionNode()      {}

// ListLiteral is `[e1, e2, ...]`.
type ListLiteral struct {
	Elements []Expression
	Line     int
}

func (l *ListLiteral) TokenLiteral() string { return "[" }
func (l *ListLiteral) expressionNode()      {}

// UnaryExpr is a prefix operator: `!`, unary `-`.
type UnaryExpr struct {
	Op   string
	Expr Expression
	Line int
}

func (u *UnaryExpr) TokenLiteral() string { return u.Op }
func (u *UnaryExpr) expressionNode()      {}

// BinaryExpr is an infix operator application.
type BinaryExpr struct {
	Op    string
	Left  Expression
	Right Expression
	Line  int
}

func (b *BinaryExpr) TokenLiteral() string { return b.Op }
func (b *BinaryExpr) expressionNode()      {}

// TernaryExpr is `cond ? then : else`.
type TernaryExpr struct {
	Cond Expression
	Then Expression
	Else Expression
	Line int
}

func (t *TernaryExpr) TokenLiteral() string { return "?:" }
func (t *TernaryExpr) expressionNode()      {}

// RangeExpr is `lo..hi`.
type RangeExpr struct {
	Low  Expression
	High Expression
	Line int
}

func (r *RangeExpr) TokenLiteral() string { return ".." }
func (r *RangeExpr) expressionNode()      {}

// IndexExpr is `target[index]`.
type IndexExpr struct {
	Target Expression
	Index  Expression
	Line   int
}

func (i *IndexExpr) TokenLiteral() string { return "[]" }
func (i *IndexExpr) expressionNode()      {}

// Arg is one call argument: positional if Name == "".
type Arg struct {
	Name  string
	Value Expression
}

// CallExpr invokes a function by name, optionally namespace-qualified.
type CallExpr struct {
	Namespace string // "" when unqualified
	Name      string
	Args      []Arg
	Line      int
}

func (c *CallExpr) TokenLiteral() string { return c.Name }
func (c *CallExpr) expressionNode()      {}
