package value

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unsafe"
)

// Type represents the tag in the Value tagged union.
type Type uint8

const (
	TypeUnit Type = iota
	TypeInt
	TypeFloat
	TypeString
)

func (t Type) String() string {
	switch t {
	case TypeUnit:
		return "unit"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	}
	return "type(" + strconv.Itoa(int(t)) + ")"
}

// Value is a tagged union. Data holds the int64 bits, the float64 bits or a
// packed arena reference depending on Type. The zero Value is Unit.
type Value struct {
	Type Type
	Data uint64
}

// Unit is the "no value" result of loops and empty definitions.
var Unit = Value{}

// Int tags an int64.
func Int(i int64) Value {
	return Value{Type: TypeInt, Data: uint64(i)}
}

// Float tags a float64.
func Float(f float64) Value {
	return Value{Type: TypeFloat, Data: math.Float64bits(f)}
}

// String tags an arena slice.
func String(offset, length uint32) Value {
	return Value{Type: TypeString, Data: PackString(offset, length)}
}

// PackString encodes offset and length into the Data register.
func PackString(offset, length uint32) uint64 {
	return (uint64(offset) << 32) | uint64(length)
}

// UnpackString retrieves a string view from the arena.
func UnpackString(data uint64, arena []byte) string {
	offset := uint32(data >> 32)
	length := uint32(data)

	if uint64(offset)+uint64(length) > uint64(len(arena)) {
		panic("value: memory access violation")
	}

	if length == 0 {
		return ""
	}
	return unsafe.String(&arena[offset], length)
}

// IsNumeric reports whether v untags to a number.
func (v Value) IsNumeric() bool {
	return v.Type == TypeInt || v.Type == TypeFloat
}

// Int returns the value as int64.
func (v Value) Int() int64 {
	if v.Type == TypeFloat {
		return int64(math.Float64frombits(v.Data))
	}
	return int64(v.Data)
}

// Float returns the value as float64.
func (v Value) Float() float64 {
	if v.Type == TypeFloat {
		return math.Float64frombits(v.Data)
	}
	return float64(int64(v.Data))
}

// Truthy untags v to a condition: zero is false, any other number is true.
// ok is false when v is not numeric.
func (v Value) Truthy() (truth, ok bool) {
	switch v.Type {
	case TypeInt:
		return v.Data != 0, true
	case TypeFloat:
		return math.Float64frombits(v.Data) != 0, true
	}
	return false, false
}

// Equal reports whether two values have the same tag and payload.
func (v Value) Equal(o Value) bool {
	return v.Type == o.Type && v.Data == o.Data
}

// Format returns a string representation of the value.
func (v Value) Format(arena []byte) string {
	switch v.Type {
	case TypeString:
		return UnpackString(v.Data, arena)
	case TypeInt:
		return strconv.FormatInt(int64(v.Data), 10)
	case TypeFloat:
		s := strconv.FormatFloat(math.Float64frombits(v.Data), 'g', -1, 64)
		if !strings.ContainsAny(s, ".eIN") {
			s += ".0"
		}
		return s
	case TypeUnit:
		return "()"
	default:
		return fmt.Sprintf("%v", v.Data)
	}
}
