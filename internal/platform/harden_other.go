//go:build !linux

package platform

// Harden is a no-op outside Linux.
func Harden() error { return nil }

// CoreDumpLimit is unknown outside Linux.
func CoreDumpLimit() (uint64, error) { return 0, nil }
