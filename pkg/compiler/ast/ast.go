package ast

import (
	"strconv"
	"strings"

	"github.com/agenthands/nlisp/pkg/compiler/lexer"
)

// Node represents any node in the Abstract Syntax Tree.
type Node interface {
	Pos() lexer.Token
	String() string
}

// Expr represents an expression that yields a value. Every nlisp form is
// an expression.
type Expr interface {
	Node
	exprNode()
}

// Literal values
type IntLiteral struct {
	Token lexer.Token
	Value int64
}

func (n *IntLiteral) Pos() lexer.Token { return n.Token }
func (n *IntLiteral) exprNode()        {}
func (n *IntLiteral) String() string {
	return "IntLiteral(" + strconv.FormatInt(n.Value, 10) + ")"
}

type DoubleLiteral struct {
	Token lexer.Token
	Value float64
}

func (d *DoubleLiteral) Pos() lexer.Token { return d.Token }
func (d *DoubleLiteral) exprNode()        {}
func (d *DoubleLiteral) String() string {
	return "DoubleLiteral(" + strconv.FormatFloat(d.Value, 'g', -1, 64) + ")"
}

// StringLiteral holds the unescaped text.
type StringLiteral struct {
	Token lexer.Token
	Value string
}

func (s *StringLiteral) Pos() lexer.Token { return s.Token }
func (s *StringLiteral) exprNode()        {}
func (s *StringLiteral) String() string {
	return "StringLiteral(" + strconv.Quote(s.Value) + ")"
}

type Identifier struct {
	Token lexer.Token
	Name  string
}

func (i *Identifier) Pos() lexer.Token { return i.Token }
func (i *Identifier) exprNode()        {}
func (i *Identifier) String() string {
	return "Identifier(" + strconv.Quote(i.Name) + ")"
}

// BinaryExpr: (OP LEFT RIGHT)
type BinaryExpr struct {
	Token    lexer.Token
	Operator string
	Left     Expr
	Right    Expr
}

func (b *BinaryExpr) Pos() lexer.Token { return b.Token }
func (b *BinaryExpr) exprNode()        {}
func (b *BinaryExpr) String() string {
	return "BinaryExpr(" + strconv.Quote(b.Operator) + ", " + b.Left.String() + ", " + b.Right.String() + ")"
}

// UnaryExpr: (OP OPERAND)
type UnaryExpr struct {
	Token    lexer.Token
	Operator string
	Operand  Expr
}

func (u *UnaryExpr) Pos() lexer.Token { return u.Token }
func (u *UnaryExpr) exprNode()        {}
func (u *UnaryExpr) String() string {
	return "UnaryExpr(" + strconv.Quote(u.Operator) + ", " + u.Operand.String() + ")"
}

// Binding is one NAME EXPR pair of a let.
type Binding struct {
	Token lexer.Token
	Name  string
	Value Expr
}

// LetExpr: (let ((NAME EXPR)*) BODY)
type LetExpr struct {
	Token    lexer.Token
	Bindings []Binding
	Body     Expr
}

func (l *LetExpr) Pos() lexer.Token { return l.Token }
func (l *LetExpr) exprNode()        {}
func (l *LetExpr) String() string {
	var sb strings.Builder
	sb.WriteString("LetExpr([")
	for i, b := range l.Bindings {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(" + strconv.Quote(b.Name) + ", " + b.Value.String() + ")")
	}
	sb.WriteString("], " + l.Body.String() + ")")
	return sb.String()
}

// SetExpr: (set NAME EXPR)
type SetExpr struct {
	Token lexer.Token
	Name  string
	Value Expr
}

func (s *SetExpr) Pos() lexer.Token { return s.Token }
func (s *SetExpr) exprNode()        {}
func (s *SetExpr) String() string {
	return "SetExpr(" + strconv.Quote(s.Name) + ", " + s.Value.String() + ")"
}

// IfExpr: (if COND THEN ELSE)
type IfExpr struct {
	Token      lexer.Token
	Condition  Expr
	ThenBranch Expr
	ElseBranch Expr
}

func (i *IfExpr) Pos() lexer.Token { return i.Token }
func (i *IfExpr) exprNode()        {}
func (i *IfExpr) String() string {
	return "IfExpr(" + i.Condition.String() + ", " + i.ThenBranch.String() + ", " + i.ElseBranch.String() + ")"
}

// WhileExpr: (while COND BODY)
type WhileExpr struct {
	Token     lexer.Token
	Condition Expr
	Body      Expr
}

func (w *WhileExpr) Pos() lexer.Token { return w.Token }
func (w *WhileExpr) exprNode()        {}
func (w *WhileExpr) String() string {
	return "WhileExpr(" + w.Condition.String() + ", " + w.Body.String() + ")"
}

// CallExpr: (NAME ARGS*)
type CallExpr struct {
	Token  lexer.Token
	Callee string
	Args   []Expr
}

func (c *CallExpr) Pos() lexer.Token { return c.Token }
func (c *CallExpr) exprNode()        {}
func (c *CallExpr) String() string {
	return "CallExpr(" + strconv.Quote(c.Callee) + ", " + joinExprs(c.Args) + ")"
}

// FunctionDef: (fn NAME (PARAMS*) BODY)
type FunctionDef struct {
	Token  lexer.Token
	Name   string
	Params []string
	Body   Expr
}

func (f *FunctionDef) Pos() lexer.Token { return f.Token }
func (f *FunctionDef) exprNode()        {}
func (f *FunctionDef) String() string {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = strconv.Quote(p)
	}
	return "FunctionDef(" + strconv.Quote(f.Name) + ", [" + strings.Join(params, ", ") + "], " + f.Body.String() + ")"
}

// BlockExpr is a non-empty sequence; its value is the value of the last
// expression.
type BlockExpr struct {
	Token lexer.Token
	Exprs []Expr
}

func (b *BlockExpr) Pos() lexer.Token { return b.Token }
func (b *BlockExpr) exprNode()        {}
func (b *BlockExpr) String() string {
	return "BlockExpr(" + joinExprs(b.Exprs) + ")"
}

func joinExprs(exprs []Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
