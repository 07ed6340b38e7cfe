package vm

import (
	"sync"

	"github.com/agenthands/nlisp/pkg/core/diag"
	"github.com/agenthands/nlisp/pkg/core/value"
)

var machinePool = sync.Pool{
	New: func() any { return new(Machine) },
}

// GetMachine takes a reset machine from the pool.
func GetMachine() *Machine {
	return machinePool.Get().(*Machine)
}

// PutMachine resets m and returns it to the pool.
func PutMachine(m *Machine) {
	m.Reset()
	machinePool.Put(m)
}

// Invoke runs the entry routine of u and returns the program's value.
func Invoke(u *Unit, gasLimit int) (value.Value, error) {
	return Call(u, EntryName, gasLimit)
}

// Call runs the named function of u with the given argument vector on a
// pooled machine and returns its value. Units are never modified, so
// several goroutines may call into the same unit.
func Call(u *Unit, name string, gasLimit int, args ...value.Value) (value.Value, error) {
	idx, ok := u.Lookup(name)
	if !ok {
		return value.Unit, diag.Errorf(diag.ErrUndefinedFunction, diag.Pos{}, "undefined function %q", name).WithClass(diag.ClassRuntime)
	}

	m := GetMachine()
	defer PutMachine(m)

	if err := m.Enter(u, idx, args); err != nil {
		return value.Unit, err
	}
	if err := m.Run(gasLimit); err != nil {
		return value.Unit, err
	}
	if m.SP != 1 {
		return value.Unit, diag.Errorf(diag.ErrBadUnit, diag.Pos{}, "%s left %d values on the stack", name, m.SP)
	}
	return m.Pop(), nil
}
