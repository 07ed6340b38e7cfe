// Package diag defines the structured errors reported while compiling and
// running nlisp programs.
package diag

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Class orders errors by the stage that detects them.
type Class uint8

const (
	ClassSyntax Class = iota
	ClassResolve
	ClassRuntime
)

func (c Class) String() string {
	switch c {
	case ClassSyntax:
		return "syntax"
	case ClassResolve:
		return "resolve"
	case ClassRuntime:
		return "runtime"
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// MarshalText implements encoding.TextMarshaler.
func (c Class) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Error kinds. Match them with errors.Is.
var (
	ErrSyntax              = errors.New("syntax error")
	ErrEmptyProgram        = errors.New("empty program")
	ErrUnknownForm         = errors.New("unknown form")
	ErrDuplicateFunction   = errors.New("duplicate function definition")
	ErrUndefinedFunction   = errors.New("undefined function")
	ErrUnboundIdentifier   = errors.New("unbound identifier")
	ErrUnsupportedOperator = errors.New("unsupported operator")
	ErrArityMismatch       = errors.New("arity mismatch")
	ErrTypeMismatch        = errors.New("type mismatch")
	ErrDivisionByZero      = errors.New("division by zero")
	ErrStackOverflow       = errors.New("stack overflow")
	ErrGasExhausted        = errors.New("gas exhausted")
	ErrBadUnit             = errors.New("bad unit")
)

type kindInfo struct {
	code  string
	class Class
}

var kinds = map[error]kindInfo{
	ErrSyntax:              {"E_SYNTAX", ClassSyntax},
	ErrEmptyProgram:        {"E_EMPTY_PROGRAM", ClassSyntax},
	ErrUnknownForm:         {"E_UNKNOWN_FORM", ClassSyntax},
	ErrDuplicateFunction:   {"E_DUPLICATE_FUNCTION", ClassResolve},
	ErrUndefinedFunction:   {"E_UNDEFINED_FUNCTION", ClassResolve},
	ErrUnboundIdentifier:   {"E_UNBOUND_IDENTIFIER", ClassResolve},
	ErrUnsupportedOperator: {"E_UNSUPPORTED_OPERATOR", ClassResolve},
	ErrArityMismatch:       {"E_ARITY_MISMATCH", ClassResolve},
	ErrTypeMismatch:        {"E_TYPE_MISMATCH", ClassRuntime},
	ErrDivisionByZero:      {"E_DIVISION_BY_ZERO", ClassRuntime},
	ErrStackOverflow:       {"E_STACK_OVERFLOW", ClassRuntime},
	ErrGasExhausted:        {"E_GAS_EXHAUSTED", ClassRuntime},
	ErrBadUnit:             {"E_BAD_UNIT", ClassRuntime},
}

// Pos is a 1-based source position. The zero Pos means "unknown".
type Pos struct {
	Line int `json:"line"`
	Col  int `json:"col"`
}

// IsValid reports whether the position is known.
func (p Pos) IsValid() bool { return p.Line > 0 }

func (p Pos) String() string {
	if !p.IsValid() {
		return "<unknown>"
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

// Error is a diagnostic carrying a stable code, the detecting stage and a
// source position where one is available.
type Error struct {
	Code    string `json:"code"`
	Class   Class  `json:"class"`
	Message string `json:"message"`
	Pos     Pos    `json:"pos"`

	kind error
}

// Errorf builds a diagnostic of the given kind. kind must be one of the
// Err* values of this package.
func Errorf(kind error, pos Pos, format string, args ...any) *Error {
	info, ok := kinds[kind]
	if !ok {
		info = kindInfo{code: "E_INTERNAL", class: ClassRuntime}
	}
	return &Error{
		Code:    info.code,
		Class:   info.class,
		Message: fmt.Sprintf(format, args...),
		Pos:     pos,
		kind:    kind,
	}
}

// WithClass returns a copy of e reported by a different stage. The code
// generator uses it for type errors it can prove before execution.
func (e *Error) WithClass(c Class) *Error {
	cp := *e
	cp.Class = c
	return &cp
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s: %s", e.Pos, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.kind }

// Code returns the diagnostic code of err, or "" when err is not a
// diagnostic.
func Code(err error) string {
	var d *Error
	if errors.As(err, &d) {
		return d.Code
	}
	return ""
}

// Format renders err for display. Pretty output follows the
// error[CODE]: message / --> position layout; otherwise err is rendered as
// a single JSON object.
func Format(err error, pretty bool) string {
	var d *Error
	if !errors.As(err, &d) {
		d = &Error{Code: "E_INTERNAL", Class: ClassRuntime, Message: err.Error()}
	}
	if !pretty {
		b, _ := json.Marshal(d)
		return string(b)
	}
	return fmt.Sprintf("error[%s]: %s\n  --> %s", d.Code, d.Message, d.Pos)
}
