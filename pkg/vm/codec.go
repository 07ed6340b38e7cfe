package vm

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/Masterminds/semver/v3"

	"github.com/agenthands/nlisp/pkg/core/diag"
	"github.com/agenthands/nlisp/pkg/core/value"
)

// FormatVersion is the layout version written by Encode.
const FormatVersion = "1.0.0"

// SupportedFormats is the range of unit layouts this machine can load.
const SupportedFormats = "~1.0"

var unitMagic = [4]byte{'N', 'L', 'C', '1'}

// Size limits of the layout. They cover everything the emitter can
// produce: routine indexes get 16 bits in CALL, constant indexes and jump
// targets 24 bits, and string constants address the arena with 32 bits.
const (
	maxRoutines  = 1 << 16
	maxConstants = ArgMask + 1
	maxCode      = ArgMask
	maxArena     = 1<<32 - 1
	maxString    = 1 << 16
)

// preallocate bounds the capacity reserved from a length prefix before the
// data behind it has been read.
const preallocate = 1 << 12

var supportedFormats = mustConstraint(SupportedFormats)

func mustConstraint(c string) *semver.Constraints {
	cs, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return cs
}

// CheckVersion reports whether a unit layout version can be loaded.
func CheckVersion(v string) error {
	sv, err := semver.NewVersion(v)
	if err != nil {
		return diag.Errorf(diag.ErrBadUnit, diag.Pos{}, "invalid unit format version %q: %v", v, err)
	}
	if !supportedFormats.Check(sv) {
		return diag.Errorf(diag.ErrBadUnit, diag.Pos{}, "unit format %s is not supported (want %s)", sv, SupportedFormats)
	}
	return nil
}

// Encode writes u in the binary .nlc layout. Units too large for the
// layout are refused rather than written in a form DecodeUnit rejects.
func (u *Unit) Encode(w io.Writer) error {
	if err := u.checkLimits(); err != nil {
		return err
	}
	e := &encoder{w: bufio.NewWriter(w)}

	version := u.Version
	if version == "" {
		version = FormatVersion
	}
	e.bytes(unitMagic[:])
	e.string(version)
	e.uvarint(uint64(u.Entry))
	e.blob(u.Arena)

	e.uvarint(uint64(len(u.Constants)))
	for _, c := range u.Constants {
		e.bytes([]byte{byte(c.Type)})
		e.uint64(c.Data)
	}

	e.uvarint(uint64(len(u.Routines)))
	for _, r := range u.Routines {
		e.string(r.Name)
		e.uvarint(uint64(r.Arity))
		e.uvarint(uint64(r.NumLocals))
		e.uvarint(uint64(len(r.Code)))
		for _, instr := range r.Code {
			e.uint32(instr)
		}
		e.uvarint(uint64(len(r.Pos)))
		for _, p := range r.Pos {
			e.uvarint(uint64(p.Line))
			e.uvarint(uint64(p.Col))
		}
	}

	if e.err != nil {
		return e.err
	}
	return e.w.Flush()
}

func (u *Unit) checkLimits() error {
	tooLarge := func(format string, args ...any) error {
		return diag.Errorf(diag.ErrBadUnit, diag.Pos{}, "cannot encode unit: "+format, args...)
	}
	if len(u.Version) > maxString {
		return tooLarge("version string of %d bytes", len(u.Version))
	}
	if uint64(len(u.Arena)) > maxArena {
		return tooLarge("arena of %d bytes exceeds %d", len(u.Arena), uint64(maxArena))
	}
	if len(u.Constants) > maxConstants {
		return tooLarge("%d constants exceed %d", len(u.Constants), maxConstants)
	}
	if len(u.Routines) > maxRoutines {
		return tooLarge("%d routines exceed %d", len(u.Routines), maxRoutines)
	}
	for _, r := range u.Routines {
		if len(r.Name) > maxString {
			return tooLarge("routine name of %d bytes", len(r.Name))
		}
		if len(r.Code) > maxCode || len(r.Pos) > maxCode {
			return tooLarge("routine %s has %d instructions, at most %d fit", r.Name, len(r.Code), maxCode)
		}
	}
	return nil
}

// DecodeUnit reads a unit written by Encode, rejecting unsupported format
// versions and units that fail Validate.
func DecodeUnit(r io.Reader) (*Unit, error) {
	d := &decoder{r: bufio.NewReader(r)}

	var magic [4]byte
	d.full(magic[:])
	if d.err == nil && magic != unitMagic {
		return nil, diag.Errorf(diag.ErrBadUnit, diag.Pos{}, "not an nlisp unit")
	}

	u := &Unit{Functions: make(map[string]int)}
	u.Version = d.string()
	if d.err != nil {
		return nil, d.fail()
	}
	if err := CheckVersion(u.Version); err != nil {
		return nil, err
	}

	u.Entry = int(d.uvarint())
	u.Arena = d.blob(maxArena)

	n := d.count(maxConstants)
	u.Constants = make([]value.Value, 0, min(n, preallocate))
	for i := 0; i < n && d.err == nil; i++ {
		var tag [1]byte
		d.full(tag[:])
		u.Constants = append(u.Constants, value.Value{Type: value.Type(tag[0]), Data: d.uint64()})
	}

	n = d.count(maxRoutines)
	u.Routines = make([]Routine, 0, min(n, preallocate))
	for i := 0; i < n && d.err == nil; i++ {
		var r Routine
		r.Name = d.string()
		r.Arity = int(d.uvarint())
		r.NumLocals = int(d.uvarint())
		code := d.count(maxCode)
		r.Code = make([]uint32, 0, min(code, preallocate))
		for j := 0; j < code && d.err == nil; j++ {
			r.Code = append(r.Code, d.uint32())
		}
		pos := d.count(maxCode)
		r.Pos = make([]diag.Pos, 0, min(pos, preallocate))
		for j := 0; j < pos && d.err == nil; j++ {
			line := int(d.uvarint())
			col := int(d.uvarint())
			r.Pos = append(r.Pos, diag.Pos{Line: line, Col: col})
		}
		u.Routines = append(u.Routines, r)
	}
	if d.err != nil {
		return nil, d.fail()
	}

	if err := u.Validate(); err != nil {
		return nil, err
	}
	for i, r := range u.Routines {
		if i != u.Entry {
			u.Functions[r.Name] = i
		}
	}
	return u, nil
}

type encoder struct {
	w   *bufio.Writer
	err error
	buf [binary.MaxVarintLen64]byte
}

func (e *encoder) bytes(b []byte) {
	if e.err == nil {
		_, e.err = e.w.Write(b)
	}
}

func (e *encoder) uvarint(v uint64) {
	n := binary.PutUvarint(e.buf[:], v)
	e.bytes(e.buf[:n])
}

func (e *encoder) uint32(v uint32) {
	binary.BigEndian.PutUint32(e.buf[:4], v)
	e.bytes(e.buf[:4])
}

func (e *encoder) uint64(v uint64) {
	binary.BigEndian.PutUint64(e.buf[:8], v)
	e.bytes(e.buf[:8])
}

func (e *encoder) blob(b []byte) {
	e.uvarint(uint64(len(b)))
	e.bytes(b)
}

func (e *encoder) string(s string) {
	e.blob([]byte(s))
}

type decoder struct {
	r   *bufio.Reader
	err error
}

func (d *decoder) fail() error {
	if errors.Is(d.err, io.EOF) || errors.Is(d.err, io.ErrUnexpectedEOF) {
		return diag.Errorf(diag.ErrBadUnit, diag.Pos{}, "truncated unit")
	}
	var de *diag.Error
	if errors.As(d.err, &de) {
		return de
	}
	return fmt.Errorf("read unit: %w", d.err)
}

func (d *decoder) full(b []byte) {
	if d.err == nil {
		_, d.err = io.ReadFull(d.r, b)
	}
}

func (d *decoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, err := binary.ReadUvarint(d.r)
	d.err = err
	return v
}

func (d *decoder) count(limit uint64) int {
	n := d.uvarint()
	if d.err == nil && n > limit {
		d.err = diag.Errorf(diag.ErrBadUnit, diag.Pos{}, "length %d exceeds limit", n)
		return 0
	}
	return int(n)
}

func (d *decoder) uint32() uint32 {
	var b [4]byte
	d.full(b[:])
	return binary.BigEndian.Uint32(b[:])
}

func (d *decoder) uint64() uint64 {
	var b [8]byte
	d.full(b[:])
	return binary.BigEndian.Uint64(b[:])
}

// blob reads a length-prefixed byte string. Memory grows with the bytes
// actually read, so a corrupt prefix cannot force a large allocation.
func (d *decoder) blob(limit uint64) []byte {
	n := d.count(limit)
	if d.err != nil {
		return nil
	}
	if n <= preallocate {
		b := make([]byte, n)
		d.full(b)
		return b
	}
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, d.r, int64(n)); err != nil {
		d.err = err
		return nil
	}
	return buf.Bytes()
}

func (d *decoder) string() string {
	n := d.count(maxString)
	if d.err != nil {
		return ""
	}
	b := make([]byte, n)
	d.full(b)
	return string(b)
}
