package emitter

import (
	"github.com/agenthands/nlisp/pkg/compiler/ast"
	"github.com/agenthands/nlisp/pkg/core/diag"
	"github.com/agenthands/nlisp/pkg/vm"
)

// maxRoutines is bounded by the 16 bits CALL leaves for the routine index;
// one index is kept for the entry routine.
const maxRoutines = 1<<16 - 1

// Signature is what a call site needs to know about a function before its
// body has been generated.
type Signature struct {
	Name  string
	Arity int
	Index int // routine index in the generated unit
	Def   *ast.FunctionDef
}

// SignatureTable maps function names to signatures in declaration order.
// It is complete before any body is generated and read-only afterwards.
type SignatureTable struct {
	sigs   []*Signature
	byName map[string]*Signature
}

// Lookup returns the signature registered under name.
func (t *SignatureTable) Lookup(name string) (*Signature, bool) {
	sig, ok := t.byName[name]
	return sig, ok
}

// Len returns the number of registered functions.
func (t *SignatureTable) Len() int { return len(t.sigs) }

// All returns the signatures in declaration order. Callers must not modify
// the slice.
func (t *SignatureTable) All() []*Signature { return t.sigs }

// CollectSignatures is the first compilation pass. It registers every
// top-level function definition of root, so bodies generated later may
// call functions defined after them. Definitions nested inside other
// forms are not collected.
func CollectSignatures(root ast.Expr) (*SignatureTable, error) {
	t := &SignatureTable{byName: make(map[string]*Signature)}

	var defs []*ast.FunctionDef
	switch n := root.(type) {
	case *ast.FunctionDef:
		defs = append(defs, n)
	case *ast.BlockExpr:
		for _, expr := range n.Exprs {
			if fn, ok := expr.(*ast.FunctionDef); ok {
				defs = append(defs, fn)
			}
		}
	}

	for _, fn := range defs {
		if prev, ok := t.byName[fn.Name]; ok {
			return nil, diag.Errorf(diag.ErrDuplicateFunction, fn.Pos().Pos(),
				"function %q already defined at %s", fn.Name, prev.Def.Pos().Pos())
		}
		if len(fn.Params) > vm.MaxArgs {
			return nil, diag.Errorf(diag.ErrArityMismatch, fn.Pos().Pos(),
				"function %q declares %d parameters, at most %d are supported", fn.Name, len(fn.Params), vm.MaxArgs)
		}
		if len(t.sigs) == maxRoutines {
			return nil, diag.Errorf(diag.ErrSyntax, fn.Pos().Pos(), "too many functions in one unit (limit %d)", maxRoutines)
		}
		sig := &Signature{Name: fn.Name, Arity: len(fn.Params), Index: len(t.sigs), Def: fn}
		t.sigs = append(t.sigs, sig)
		t.byName[fn.Name] = sig
	}
	return t, nil
}
