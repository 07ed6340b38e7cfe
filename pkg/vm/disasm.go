package vm

import (
	"fmt"
	"strings"
)

// Disassemble renders the unit as a readable listing, one routine after
// another in index order.
func (u *Unit) Disassemble() string {
	var sb strings.Builder
	for i, r := range u.Routines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		marker := ""
		if i == u.Entry {
			marker = " entry"
		}
		fmt.Fprintf(&sb, "routine %d %s/%d locals=%d%s\n", i, r.Name, r.Arity, r.NumLocals, marker)
		for ip, instr := range r.Code {
			op, arg := Decode(instr)
			pos := ""
			if ip < len(r.Pos) && r.Pos[ip].IsValid() {
				pos = r.Pos[ip].String()
			}
			line := fmt.Sprintf("  %04d %-7s %-9s %s", ip, pos, OpName(op), u.operand(op, arg))
			sb.WriteString(strings.TrimRight(line, " "))
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func (u *Unit) operand(op uint8, arg uint32) string {
	switch op {
	case OP_PUSH_C:
		if int(arg) < len(u.Constants) {
			c := u.Constants[int(arg)]
			return fmt.Sprintf("%d ; %s %q", arg, c.Type, c.Format(u.Arena))
		}
		return fmt.Sprint(arg)
	case OP_PUSH_L, OP_POP_L, OP_JMP, OP_JMP_FALSE:
		return fmt.Sprint(arg)
	case OP_CALL:
		callee, argc := int(arg>>8), int(arg&MaxArgs)
		if callee < len(u.Routines) {
			return fmt.Sprintf("%s/%d", u.Routines[callee].Name, argc)
		}
		return fmt.Sprintf("%d/%d", callee, argc)
	}
	return ""
}
