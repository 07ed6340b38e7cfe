package vm

// Instructions are 32-bit words: the opcode in the top byte and a 24-bit
// argument below it.
// Opcode 0x00 is unassigned so that zeroed code never executes.
const (
	OP_PUSH_C    uint8 = 0x02 // push Constants[arg]
	OP_PUSH_L    uint8 = 0x03 // push local slot arg
	OP_POP_L     uint8 = 0x04 // pop into local slot arg
	OP_DUP       uint8 = 0x05
	OP_DROP      uint8 = 0x06
	OP_ADD       uint8 = 0x10
	OP_SUB       uint8 = 0x11
	OP_MUL       uint8 = 0x12
	OP_DIV       uint8 = 0x13
	OP_NEG       uint8 = 0x14
	OP_NOT       uint8 = 0x15
	OP_JMP       uint8 = 0x20
	OP_JMP_FALSE uint8 = 0x21 // pop condition, jump to arg when it is zero
	OP_CALL      uint8 = 0x22 // arg = routine<<8 | argc
	OP_RET       uint8 = 0x23
)

// ArgMask selects the argument bits of an instruction.
const ArgMask = 0x00FFFFFF

// MaxArgs is the largest argument vector a CALL can carry.
const MaxArgs = 0xFF

// Encode packs an opcode and its argument.
func Encode(op uint8, arg uint32) uint32 {
	return (uint32(op) << 24) | (arg & ArgMask)
}

// Decode splits an instruction into opcode and argument.
func Decode(instr uint32) (op uint8, arg uint32) {
	return uint8(instr >> 24), instr & ArgMask
}

var opNames = map[uint8]string{
	OP_PUSH_C:    "PUSH_C",
	OP_PUSH_L:    "PUSH_L",
	OP_POP_L:     "POP_L",
	OP_DUP:       "DUP",
	OP_DROP:      "DROP",
	OP_ADD:       "ADD",
	OP_SUB:       "SUB",
	OP_MUL:       "MUL",
	OP_DIV:       "DIV",
	OP_NEG:       "NEG",
	OP_NOT:       "NOT",
	OP_JMP:       "JMP",
	OP_JMP_FALSE: "JMP_FALSE",
	OP_CALL:      "CALL",
	OP_RET:       "RET",
}

// stackIn is the number of operands each opcode pops; stackOut the number
// it pushes. CALL pops its argc and pushes one result.
var (
	stackIn = [256]int8{
		OP_POP_L: 1, OP_DUP: 1, OP_DROP: 1,
		OP_ADD: 2, OP_SUB: 2, OP_MUL: 2, OP_DIV: 2,
		OP_NEG: 1, OP_NOT: 1,
		OP_JMP_FALSE: 1, OP_RET: 1,
	}
	stackOut = [256]int8{
		OP_PUSH_C: 1, OP_PUSH_L: 1, OP_DUP: 2,
		OP_ADD: 1, OP_SUB: 1, OP_MUL: 1, OP_DIV: 1,
		OP_NEG: 1, OP_NOT: 1,
	}
)

// stackEffect returns how many operands the instruction pops and pushes.
func stackEffect(op uint8, arg uint32) (in, out int) {
	if op == OP_CALL {
		return int(arg & MaxArgs), 1
	}
	return int(stackIn[op]), int(stackOut[op])
}

// OpName returns the mnemonic of op.
func OpName(op uint8) string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return "UNKNOWN"
}
