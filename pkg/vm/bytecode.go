package vm

import (
	"fmt"

	"github.com/agenthands/nlisp/pkg/core/diag"
	"github.com/agenthands/nlisp/pkg/core/value"
)

// EntryName names the synthesized routine that evaluates a program's
// top-level expressions.
const EntryName = "<main>"

// Routine is the compiled body of one function. Arguments arrive in the
// first Arity local slots.
type Routine struct {
	Name      string
	Arity     int
	NumLocals int
	Code      []uint32
	Pos       []diag.Pos // source position of each instruction
}

// Unit is the compiled output of a program: one routine per function plus
// the entry routine.
type Unit struct {
	Version   string
	Routines  []Routine
	Entry     int
	Constants []value.Value
	Arena     []byte
	Functions map[string]int
}

// Lookup returns the routine index for a function name. EntryName resolves
// to the entry routine.
func (u *Unit) Lookup(name string) (int, bool) {
	if name == EntryName {
		return u.Entry, true
	}
	idx, ok := u.Functions[name]
	return idx, ok
}

// Format renders v using the unit's string arena.
func (u *Unit) Format(v value.Value) string {
	return v.Format(u.Arena)
}

// Validate checks that every instruction refers to existing constants,
// locals, jump targets and routines, and that every reachable path keeps
// the operand stack balanced: no instruction pops below its frame and
// each RET leaves exactly one value. A decoded unit therefore cannot make
// the machine index out of range.
func (u *Unit) Validate() error {
	bad := func(format string, args ...any) error {
		return diag.Errorf(diag.ErrBadUnit, diag.Pos{}, "invalid unit: "+format, args...)
	}

	if u.Entry < 0 || u.Entry >= len(u.Routines) {
		return bad("entry routine %d out of range", u.Entry)
	}
	if u.Routines[u.Entry].Arity != 0 {
		return bad("entry routine takes %d arguments", u.Routines[u.Entry].Arity)
	}
	for i, c := range u.Constants {
		switch c.Type {
		case value.TypeUnit, value.TypeInt, value.TypeFloat:
		case value.TypeString:
			off, n := c.Data>>32, c.Data&0xFFFFFFFF
			if off+n > uint64(len(u.Arena)) {
				return bad("constant %d points outside the arena", i)
			}
		default:
			return bad("constant %d has unknown type %d", i, c.Type)
		}
	}

	for ri, r := range u.Routines {
		if r.Arity < 0 || r.Arity > MaxArgs || r.NumLocals < r.Arity || r.NumLocals > MaxLocals {
			return bad("routine %d (%s) has arity %d and %d locals", ri, r.Name, r.Arity, r.NumLocals)
		}
		if len(r.Pos) != len(r.Code) {
			return bad("routine %d (%s) has %d positions for %d instructions", ri, r.Name, len(r.Pos), len(r.Code))
		}
		if len(r.Code) == 0 {
			return bad("routine %d (%s) is empty", ri, r.Name)
		}
		if last, _ := Decode(r.Code[len(r.Code)-1]); last != OP_RET && last != OP_JMP {
			return bad("routine %d (%s) can run past its end", ri, r.Name)
		}
		for ip, instr := range r.Code {
			op, arg := Decode(instr)
			switch op {
			case OP_DUP, OP_DROP, OP_ADD, OP_SUB, OP_MUL, OP_DIV, OP_NEG, OP_NOT, OP_RET:
			case OP_PUSH_C:
				if int(arg) >= len(u.Constants) {
					return bad("%s+%d: constant %d out of range", r.Name, ip, arg)
				}
			case OP_PUSH_L, OP_POP_L:
				if int(arg) >= r.NumLocals {
					return bad("%s+%d: local %d out of range", r.Name, ip, arg)
				}
			case OP_JMP, OP_JMP_FALSE:
				if int(arg) >= len(r.Code) {
					return bad("%s+%d: jump target %d out of range", r.Name, ip, arg)
				}
			case OP_CALL:
				callee, argc := int(arg>>8), int(arg&MaxArgs)
				if callee >= len(u.Routines) {
					return bad("%s+%d: routine %d out of range", r.Name, ip, callee)
				}
				if u.Routines[callee].Arity != argc {
					return bad("%s+%d: %s called with %d arguments", r.Name, ip, u.Routines[callee].Name, argc)
				}
			default:
				return bad("%s+%d: unknown opcode 0x%02x", r.Name, ip, op)
			}
		}
		if err := checkStack(&r); err != nil {
			return bad("%v", err)
		}
	}
	return nil
}

// checkStack walks every reachable instruction of r, tracking the operand
// depth relative to the frame. Each instruction must be reached with the
// same depth on every path. Jump targets are assumed in range.
func checkStack(r *Routine) error {
	depth := make([]int, len(r.Code))
	for i := range depth {
		depth[i] = -1
	}
	depth[0] = 0
	work := []int{0}

	for len(work) > 0 {
		ip := work[len(work)-1]
		work = work[:len(work)-1]

		op, arg := Decode(r.Code[ip])
		d := depth[ip]
		in, out := stackEffect(op, arg)
		if d < in {
			return fmt.Errorf("%s+%d: %s needs %d operands, stack holds %d", r.Name, ip, OpName(op), in, d)
		}
		if op == OP_RET {
			if d != 1 {
				return fmt.Errorf("%s+%d: RET with %d values on the stack", r.Name, ip, d)
			}
			continue
		}
		next := d - in + out
		if next > StackDepth {
			return fmt.Errorf("%s+%d: operand stack deeper than %d", r.Name, ip, StackDepth)
		}

		var succ [2]int
		targets := succ[:0]
		switch op {
		case OP_JMP:
			targets = append(targets, int(arg))
		case OP_JMP_FALSE:
			targets = append(targets, ip+1, int(arg))
		default:
			targets = append(targets, ip+1)
		}
		for _, t := range targets {
			if t >= len(r.Code) {
				return fmt.Errorf("%s+%d: runs past its end", r.Name, ip)
			}
			switch depth[t] {
			case -1:
				depth[t] = next
				work = append(work, t)
			case next:
			default:
				return fmt.Errorf("%s+%d: reached with stack depth %d and %d", r.Name, t, depth[t], next)
			}
		}
	}
	return nil
}
