package ast_test

import (
	"testing"

	"github.com/agenthands/nlisp/pkg/compiler/ast"
)

func TestString(t *testing.T) {
	x := &ast.Identifier{Name: "x"}
	tests := []struct {
		name string
		node ast.Expr
		want string
	}{
		{
			name: "function",
			node: &ast.FunctionDef{Name: "square", Params: []string{"x"}, Body: &ast.BinaryExpr{Operator: "*", Left: x, Right: x}},
			want: `FunctionDef("square", ["x"], BinaryExpr("*", Identifier("x"), Identifier("x")))`,
		},
		{
			name: "let and set",
			node: &ast.LetExpr{
				Bindings: []ast.Binding{{Name: "x", Value: &ast.IntLiteral{Value: 1}}},
				Body:     &ast.SetExpr{Name: "x", Value: &ast.DoubleLiteral{Value: 2.5}},
			},
			want: `LetExpr([("x", IntLiteral(1))], SetExpr("x", DoubleLiteral(2.5)))`,
		},
		{
			name: "control flow",
			node: &ast.BlockExpr{Exprs: []ast.Expr{
				&ast.WhileExpr{Condition: &ast.IntLiteral{Value: 0}, Body: &ast.CallExpr{Callee: "f"}},
				&ast.IfExpr{
					Condition:  &ast.UnaryExpr{Operator: "!", Operand: x},
					ThenBranch: &ast.StringLiteral{Value: "yes"},
					ElseBranch: &ast.CallExpr{Callee: "g", Args: []ast.Expr{x, &ast.IntLiteral{Value: -2}}},
				},
			}},
			want: `BlockExpr([WhileExpr(IntLiteral(0), CallExpr("f", [])), IfExpr(UnaryExpr("!", Identifier("x")), StringLiteral("yes"), CallExpr("g", [Identifier("x"), IntLiteral(-2)])))])`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.node.String(); got != tt.want {
				t.Errorf("String() =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}
