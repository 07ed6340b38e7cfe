//go:build !linux

package main

import "os"

// isTerminal reports whether f is a character device, which is what a
// terminal looks like without platform-specific APIs.
func isTerminal(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice != 0
}
