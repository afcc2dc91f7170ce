//go:build linux || darwin

package crypto

import "golang.org/x/sys/unix"

// LockMemory pins b so long-lived keys are not swapped to disk.
func LockMemory(b []byte) error { return unix.Mlock(b) }

// UnlockMemory zeroes b and releases the pin.
func UnlockMemory(b []byte) error {
	Zero(b)
	return unix.Munlock(b)
}
