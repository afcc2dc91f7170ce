//go:build linux

// Package platform applies process hardening before key material is loaded.
package platform

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Harden disables core dumps and marks the process non-dumpable so derived
// keys and signing keys cannot leak through a crash dump or ptrace attach.
func Harden() error {
	if err := unix.Setrlimit(unix.RLIMIT_CORE, &unix.Rlimit{Cur: 0, Max: 0}); err != nil {
		return fmt.Errorf("platform: disable core dumps: %w", err)
	}
	if err := unix.Prctl(unix.PR_SET_DUMPABLE, 0, 0, 0, 0); err != nil {
		return fmt.Errorf("platform: set non-dumpable: %w", err)
	}
	return nil
}

// CoreDumpLimit reports the current soft core-dump limit.
func CoreDumpLimit() (uint64, error) {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_CORE, &rlim); err != nil {
		return 0, err
	}
	return rlim.Cur, nil
}
