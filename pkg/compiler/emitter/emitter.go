package emitter

import (
	"github.com/agenthands/nlisp/pkg/compiler/ast"
	"github.com/agenthands/nlisp/pkg/core/diag"
	"github.com/agenthands/nlisp/pkg/core/value"
	"github.com/agenthands/nlisp/pkg/vm"
)

// Emitter generates one unit. It holds the state of a single Generate call
// and is not reused.
type Emitter struct {
	sigs *SignatureTable

	constants  []value.Value
	constIndex map[value.Value]int
	arena      []byte
	strings    map[string]value.Value

	// current routine
	code  []uint32
	pos   []diag.Pos
	scope *scope
}

// Emit runs both passes over root and returns the compiled unit.
func Emit(root ast.Expr) (*vm.Unit, error) {
	sigs, err := CollectSignatures(root)
	if err != nil {
		return nil, err
	}
	return Generate(root, sigs)
}

// Generate is the second compilation pass. It emits one routine per
// signature, in signature order, followed by the entry routine that
// evaluates root.
func Generate(root ast.Expr, sigs *SignatureTable) (*vm.Unit, error) {
	e := &Emitter{
		sigs:       sigs,
		constIndex: make(map[value.Value]int),
		strings:    make(map[string]value.Value),
	}

	u := &vm.Unit{
		Version:   vm.FormatVersion,
		Routines:  make([]vm.Routine, 0, sigs.Len()+1),
		Functions: make(map[string]int, sigs.Len()),
	}

	for _, sig := range sigs.All() {
		r, err := e.emitRoutine(sig.Name, sig.Def.Params, sig.Def.Body)
		if err != nil {
			return nil, err
		}
		u.Routines = append(u.Routines, r)
		u.Functions[sig.Name] = sig.Index
	}

	entry, err := e.emitRoutine(vm.EntryName, nil, root)
	if err != nil {
		return nil, err
	}
	u.Entry = len(u.Routines)
	u.Routines = append(u.Routines, entry)

	u.Constants = e.constants
	u.Arena = e.arena
	return u, nil
}

func (e *Emitter) emitRoutine(name string, params []string, body ast.Expr) (vm.Routine, error) {
	e.code = nil
	e.pos = nil
	e.scope = newScope(params)

	if err := e.emitExpr(body); err != nil {
		return vm.Routine{}, err
	}
	e.emitOp(vm.OP_RET, 0, body.Pos().Pos())

	if n := e.scope.size(); n > vm.MaxLocals {
		return vm.Routine{}, diag.Errorf(diag.ErrStackOverflow, body.Pos().Pos(),
			"%s needs %d local slots, at most %d are available", name, n, vm.MaxLocals).WithClass(diag.ClassResolve)
	}
	if len(e.code) > vm.ArgMask {
		return vm.Routine{}, diag.Errorf(diag.ErrSyntax, body.Pos().Pos(), "%s is too large to compile", name)
	}

	return vm.Routine{
		Name:      name,
		Arity:     len(params),
		NumLocals: e.scope.size(),
		Code:      e.code,
		Pos:       e.pos,
	}, nil
}

func (e *Emitter) emitExpr(expr ast.Expr) error {
	at := expr.Pos().Pos()

	switch n := expr.(type) {
	case *ast.IntLiteral:
		return e.emitConstant(value.Int(n.Value), at)

	case *ast.DoubleLiteral:
		return e.emitConstant(value.Float(n.Value), at)

	case *ast.StringLiteral:
		return e.emitConstant(e.internString(n.Value), at)

	case *ast.Identifier:
		slot, ok := e.scope.lookup(n.Name)
		if !ok {
			if _, isFn := e.sigs.Lookup(n.Name); isFn {
				return diag.Errorf(diag.ErrUnboundIdentifier, at, "%q is a function, not a variable", n.Name)
			}
			return diag.Errorf(diag.ErrUnboundIdentifier, at, "unbound identifier %q", n.Name)
		}
		e.emitOp(vm.OP_PUSH_L, uint32(slot), at)

	case *ast.BinaryExpr:
		op, ok := binaryOps[n.Operator]
		if !ok {
			return diag.Errorf(diag.ErrUnsupportedOperator, at, "unsupported binary operator %q", n.Operator)
		}
		if err := checkOperand(n.Operator, n.Left); err != nil {
			return err
		}
		if err := checkOperand(n.Operator, n.Right); err != nil {
			return err
		}
		if err := e.emitExpr(n.Left); err != nil {
			return err
		}
		if err := e.emitExpr(n.Right); err != nil {
			return err
		}
		e.emitOp(op, 0, at)

	case *ast.UnaryExpr:
		op, ok := unaryOps[n.Operator]
		if !ok {
			return diag.Errorf(diag.ErrUnsupportedOperator, at, "unsupported unary operator %q", n.Operator)
		}
		if err := checkOperand(n.Operator, n.Operand); err != nil {
			return err
		}
		if err := e.emitExpr(n.Operand); err != nil {
			return err
		}
		e.emitOp(op, 0, at)

	case *ast.LetExpr:
		e.scope.push()
		defer e.scope.pop()
		for _, b := range n.Bindings {
			// The initializer runs before its own name is in scope.
			if err := e.emitExpr(b.Value); err != nil {
				return err
			}
			slot := e.scope.bind(b.Name)
			e.emitOp(vm.OP_POP_L, uint32(slot), b.Token.Pos())
		}
		return e.emitExpr(n.Body)

	case *ast.SetExpr:
		slot, ok := e.scope.lookup(n.Name)
		if !ok {
			return diag.Errorf(diag.ErrUnboundIdentifier, at, "cannot set unbound identifier %q", n.Name)
		}
		if err := e.emitExpr(n.Value); err != nil {
			return err
		}
		e.emitOp(vm.OP_DUP, 0, at)
		e.emitOp(vm.OP_POP_L, uint32(slot), at)

	case *ast.IfExpr:
		if err := checkCondition("if", n.Condition); err != nil {
			return err
		}
		if err := e.emitExpr(n.Condition); err != nil {
			return err
		}
		jumpElse := e.emitJump(vm.OP_JMP_FALSE, at)
		if err := e.emitExpr(n.ThenBranch); err != nil {
			return err
		}
		jumpEnd := e.emitJump(vm.OP_JMP, at)
		e.patchJump(jumpElse)
		if err := e.emitExpr(n.ElseBranch); err != nil {
			return err
		}
		e.patchJump(jumpEnd)

	case *ast.WhileExpr:
		if err := checkCondition("while", n.Condition); err != nil {
			return err
		}
		start := len(e.code)
		if err := e.emitExpr(n.Condition); err != nil {
			return err
		}
		exit := e.emitJump(vm.OP_JMP_FALSE, at)
		if err := e.emitExpr(n.Body); err != nil {
			return err
		}
		e.emitOp(vm.OP_DROP, 0, at)
		e.emitOp(vm.OP_JMP, uint32(start), at)
		e.patchJump(exit)
		return e.emitConstant(value.Unit, at)

	case *ast.CallExpr:
		sig, ok := e.sigs.Lookup(n.Callee)
		if !ok {
			return diag.Errorf(diag.ErrUndefinedFunction, at, "undefined function %q", n.Callee)
		}
		if len(n.Args) != sig.Arity {
			return diag.Errorf(diag.ErrArityMismatch, at, "%s expects %d arguments, got %d", n.Callee, sig.Arity, len(n.Args))
		}
		for _, arg := range n.Args {
			if err := e.emitExpr(arg); err != nil {
				return err
			}
		}
		e.emitOp(vm.OP_CALL, uint32(sig.Index)<<8|uint32(len(n.Args)), at)

	case *ast.FunctionDef:
		// Top-level definitions were compiled into their own routines;
		// nested ones are not callable. Either way the form has no value.
		return e.emitConstant(value.Unit, at)

	case *ast.BlockExpr:
		for i, x := range n.Exprs {
			if err := e.emitExpr(x); err != nil {
				return err
			}
			if i < len(n.Exprs)-1 {
				e.emitOp(vm.OP_DROP, 0, x.Pos().Pos())
			}
		}

	default:
		return diag.Errorf(diag.ErrUnknownForm, at, "cannot compile %T", expr)
	}
	return nil
}

var binaryOps = map[string]uint8{
	"+": vm.OP_ADD,
	"-": vm.OP_SUB,
	"*": vm.OP_MUL,
	"/": vm.OP_DIV,
}

var unaryOps = map[string]uint8{
	"-": vm.OP_NEG,
	"!": vm.OP_NOT,
}

// checkOperand rejects string literals used directly as arithmetic
// operands. Other non-numeric operands are caught by the machine.
func checkOperand(op string, x ast.Expr) error {
	if s, ok := x.(*ast.StringLiteral); ok {
		return diag.Errorf(diag.ErrTypeMismatch, s.Pos().Pos(),
			"operator %s expects numbers, got string literal %q", op, s.Value).WithClass(diag.ClassResolve)
	}
	return nil
}

func checkCondition(form string, x ast.Expr) error {
	if s, ok := x.(*ast.StringLiteral); ok {
		return diag.Errorf(diag.ErrTypeMismatch, s.Pos().Pos(),
			"%s condition must be a number, got string literal %q", form, s.Value).WithClass(diag.ClassResolve)
	}
	return nil
}

func (e *Emitter) emitOp(op uint8, arg uint32, at diag.Pos) {
	e.code = append(e.code, vm.Encode(op, arg))
	e.pos = append(e.pos, at)
}

// emitJump emits a jump with a placeholder target and returns its address
// for patchJump.
func (e *Emitter) emitJump(op uint8, at diag.Pos) int {
	e.emitOp(op, 0, at)
	return len(e.code) - 1
}

// patchJump points the jump at addr to the next instruction emitted.
func (e *Emitter) patchJump(addr int) {
	op, _ := vm.Decode(e.code[addr])
	e.code[addr] = vm.Encode(op, uint32(len(e.code)))
}

func (e *Emitter) emitConstant(v value.Value, at diag.Pos) error {
	idx, ok := e.constIndex[v]
	if !ok {
		if len(e.constants) > vm.ArgMask {
			return diag.Errorf(diag.ErrSyntax, at, "too many constants in one unit")
		}
		idx = len(e.constants)
		e.constants = append(e.constants, v)
		e.constIndex[v] = idx
	}
	e.emitOp(vm.OP_PUSH_C, uint32(idx), at)
	return nil
}

// internString copies s into the arena once and returns its tagged value.
func (e *Emitter) internString(s string) value.Value {
	if v, ok := e.strings[s]; ok {
		return v
	}
	v := value.String(uint32(len(e.arena)), uint32(len(s)))
	e.arena = append(e.arena, s...)
	e.strings[s] = v
	return v
}
