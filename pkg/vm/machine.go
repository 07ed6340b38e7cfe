package vm

import (
	"errors"
	"runtime"

	"github.com/agenthands/nlisp/pkg/core/diag"
	"github.com/agenthands/nlisp/pkg/core/value"
)

var (
	ErrStackOverflow  = diag.ErrStackOverflow
	ErrStackUnderflow = errors.New("vm: stack underflow")
	ErrGasExhausted   = diag.ErrGasExhausted
)

const (
	StackDepth = 8192
	MaxFrames  = 4096
	MaxLocals  = 16384

	// DefaultGas is the instruction budget used by the CLI.
	DefaultGas = 10_000_000
)

// Frame tracks one routine activation. Its locals live in
// Machine.Locals[Base : Base+NumLocals]; its operands sit above
// Machine.Stack[StackBase].
type Frame struct {
	Routine   int
	ReturnIP  int
	Base      int
	StackBase int
}

// Machine executes compiled units.
// It uses fixed-size arrays to ensure a predictable memory footprint.
type Machine struct {
	Stack [StackDepth]value.Value
	SP    int // Stack Pointer

	Frames [MaxFrames]Frame
	FP     int // Frame Pointer

	Locals [MaxLocals]value.Value
	LP     int // first free local slot

	IP   int // Instruction Pointer within the current routine
	Unit *Unit
}

// Reset clears the machine state for reuse (sync.Pool compliant).
func (m *Machine) Reset() {
	m.SP = 0
	m.IP = 0
	m.FP = 0
	m.LP = 0
	m.Unit = nil

	// Zero out the stacks to avoid data leakage between runs
	for i := range m.Stack {
		m.Stack[i] = value.Value{}
	}
	for i := range m.Frames {
		m.Frames[i] = Frame{}
	}
	for i := range m.Locals {
		m.Locals[i] = value.Value{}
	}
}

// Push adds a value to the stack. Panics on overflow.
func (m *Machine) Push(v value.Value) {
	if m.SP >= StackDepth {
		panic(ErrStackOverflow)
	}
	m.Stack[m.SP] = v
	m.SP++
}

// Pop removes and returns the top value from the stack. Panics on underflow.
func (m *Machine) Pop() value.Value {
	if m.SP <= 0 {
		panic(ErrStackUnderflow)
	}
	m.SP--
	return m.Stack[m.SP]
}

// Enter resets the machine and prepares a call of routine idx of u with
// the given argument vector. Run then executes it.
func (m *Machine) Enter(u *Unit, idx int, args []value.Value) error {
	m.Reset()
	if idx < 0 || idx >= len(u.Routines) {
		return diag.Errorf(diag.ErrUndefinedFunction, diag.Pos{}, "routine %d not found", idx)
	}
	r := &u.Routines[idx]
	if len(args) != r.Arity {
		return diag.Errorf(diag.ErrArityMismatch, diag.Pos{}, "%s expects %d arguments, got %d", r.Name, r.Arity, len(args)).WithClass(diag.ClassRuntime)
	}
	m.Unit = u
	m.Frames[0] = Frame{Routine: idx, ReturnIP: -1, Base: 0}
	copy(m.Locals[:], args)
	m.LP = r.NumLocals
	return nil
}

// Run executes instructions until the routine entered last returns, an
// error occurs, or gasLimit instructions have been executed. On success
// the routine's result is on top of the stack.
func (m *Machine) Run(gasLimit int) (err error) {
	// Malformed code surfaces as Go runtime panics; report them as errors.
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok && (e == ErrStackOverflow || e == ErrStackUnderflow) {
				err = m.fault(diag.ErrBadUnit, "%v", e)
				return
			}
			if e, ok := r.(runtime.Error); ok {
				err = m.fault(diag.ErrBadUnit, "malformed unit: %v", e)
				return
			}
			panic(r)
		}
	}()

	if m.Unit == nil {
		return diag.Errorf(diag.ErrBadUnit, diag.Pos{}, "no unit loaded")
	}

	// Cache hot fields in local variables for register allocation
	ip := m.IP
	sp := m.SP
	fp := m.FP
	lp := m.LP
	base := m.Frames[fp].Base
	sb := m.Frames[fp].StackBase
	routines := m.Unit.Routines
	code := routines[m.Frames[fp].Routine].Code
	constants := m.Unit.Constants

	for i := 0; i < gasLimit; i++ {
		// Mandatory state sync so errors report the failing instruction
		m.IP = ip
		m.SP = sp
		m.FP = fp
		m.LP = lp

		op, arg := Decode(code[ip])

		switch op {
		case OP_PUSH_C:
			if sp >= StackDepth {
				return m.fault(diag.ErrStackOverflow, "operand stack exhausted")
			}
			m.Stack[sp] = constants[arg]
			sp++
			ip++

		case OP_PUSH_L:
			if sp >= StackDepth {
				return m.fault(diag.ErrStackOverflow, "operand stack exhausted")
			}
			m.Stack[sp] = m.Locals[base+int(arg)]
			sp++
			ip++

		case OP_POP_L:
			if sp <= sb {
				return m.fault(diag.ErrBadUnit, "operand stack underflow")
			}
			sp--
			m.Locals[base+int(arg)] = m.Stack[sp]
			ip++

		case OP_DUP:
			if sp >= StackDepth {
				return m.fault(diag.ErrStackOverflow, "operand stack exhausted")
			}
			m.Stack[sp] = m.Stack[sp-1]
			sp++
			ip++

		case OP_DROP:
			if sp <= sb {
				return m.fault(diag.ErrBadUnit, "operand stack underflow")
			}
			sp--
			ip++

		case OP_ADD, OP_SUB, OP_MUL, OP_DIV:
			res, err := m.arith(op, m.Stack[sp-2], m.Stack[sp-1])
			if err != nil {
				return err
			}
			m.Stack[sp-2] = res
			sp--
			ip++

		case OP_NEG:
			v := m.Stack[sp-1]
			switch v.Type {
			case value.TypeInt:
				m.Stack[sp-1] = value.Int(-v.Int())
			case value.TypeFloat:
				m.Stack[sp-1] = value.Float(-v.Float())
			default:
				return m.fault(diag.ErrTypeMismatch, "operator - expects a number, got %s", v.Type)
			}
			ip++

		case OP_NOT:
			truth, ok := m.Stack[sp-1].Truthy()
			if !ok {
				return m.fault(diag.ErrTypeMismatch, "operator ! expects a number, got %s", m.Stack[sp-1].Type)
			}
			res := int64(0)
			if !truth {
				res = 1
			}
			m.Stack[sp-1] = value.Int(res)
			ip++

		case OP_JMP:
			ip = int(arg)

		case OP_JMP_FALSE:
			truth, ok := m.Stack[sp-1].Truthy()
			if !ok {
				return m.fault(diag.ErrTypeMismatch, "condition must be a number, got %s", m.Stack[sp-1].Type)
			}
			sp--
			if !truth {
				ip = int(arg)
			} else {
				ip++
			}

		case OP_CALL:
			callee := int(arg >> 8)
			argc := int(arg & MaxArgs)
			r := &routines[callee]
			if fp+1 >= MaxFrames {
				return m.fault(diag.ErrStackOverflow, "call depth exceeds %d frames", MaxFrames)
			}
			if lp+r.NumLocals > MaxLocals {
				return m.fault(diag.ErrStackOverflow, "local storage exhausted calling %s", r.Name)
			}

			if sp-argc < sb {
				return m.fault(diag.ErrBadUnit, "operand stack underflow calling %s", r.Name)
			}

			// The top argc stack slots are the argument vector.
			sp -= argc
			copy(m.Locals[lp:lp+argc], m.Stack[sp:sp+argc])
			for j := lp + argc; j < lp+r.NumLocals; j++ {
				m.Locals[j] = value.Value{}
			}

			fp++
			m.Frames[fp] = Frame{Routine: callee, ReturnIP: ip + 1, Base: lp, StackBase: sp}
			base = lp
			sb = sp
			lp += r.NumLocals
			code = r.Code
			ip = 0

		case OP_RET:
			if sp != sb+1 {
				return m.fault(diag.ErrBadUnit, "%s returned %d values", routines[m.Frames[fp].Routine].Name, sp-sb)
			}
			frame := m.Frames[fp]
			lp = frame.Base
			if fp == 0 {
				m.IP = ip
				m.SP = sp
				m.LP = lp
				return nil
			}
			fp--
			caller := m.Frames[fp]
			base = caller.Base
			sb = caller.StackBase
			code = routines[caller.Routine].Code
			ip = frame.ReturnIP

		default:
			return m.fault(diag.ErrBadUnit, "unknown opcode 0x%02x", op)
		}
	}

	m.IP = ip
	m.SP = sp
	m.FP = fp
	m.LP = lp
	return m.fault(diag.ErrGasExhausted, "gas limit of %d instructions exhausted", gasLimit)
}

// Pos returns the source position of the current instruction, if known.
func (m *Machine) Pos() diag.Pos {
	if m.Unit == nil || m.FP < 0 || m.FP >= MaxFrames {
		return diag.Pos{}
	}
	idx := m.Frames[m.FP].Routine
	if idx < 0 || idx >= len(m.Unit.Routines) {
		return diag.Pos{}
	}
	r := m.Unit.Routines[idx]
	if m.IP < 0 || m.IP >= len(r.Pos) {
		return diag.Pos{}
	}
	return r.Pos[m.IP]
}

func (m *Machine) fault(kind error, format string, args ...any) error {
	return diag.Errorf(kind, m.Pos(), format, args...).WithClass(diag.ClassRuntime)
}

// arith applies a binary arithmetic opcode. Int with Int stays Int; any
// Float operand promotes the result to Float.
func (m *Machine) arith(op uint8, a, b value.Value) (value.Value, error) {
	if !a.IsNumeric() || !b.IsNumeric() {
		return value.Value{}, m.fault(diag.ErrTypeMismatch, "operator %s expects numbers, got %s and %s", opSymbol(op), a.Type, b.Type)
	}

	if a.Type == value.TypeInt && b.Type == value.TypeInt {
		x, y := a.Int(), b.Int()
		switch op {
		case OP_ADD:
			return value.Int(x + y), nil
		case OP_SUB:
			return value.Int(x - y), nil
		case OP_MUL:
			return value.Int(x * y), nil
		default:
			if y == 0 {
				return value.Value{}, m.fault(diag.ErrDivisionByZero, "integer division by zero")
			}
			return value.Int(x / y), nil
		}
	}

	x, y := a.Float(), b.Float()
	switch op {
	case OP_ADD:
		return value.Float(x + y), nil
	case OP_SUB:
		return value.Float(x - y), nil
	case OP_MUL:
		return value.Float(x * y), nil
	default:
		if y == 0 {
			return value.Value{}, m.fault(diag.ErrDivisionByZero, "division by zero")
		}
		return value.Float(x / y), nil
	}
}

func opSymbol(op uint8) string {
	switch op {
	case OP_ADD:
		return "+"
	case OP_SUB:
		return "-"
	case OP_MUL:
		return "*"
	case OP_DIV:
		return "/"
	}
	return OpName(op)
}
