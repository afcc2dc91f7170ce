//go:build !linux && !darwin

package crypto

func LockMemory(b []byte) error { return nil }

func UnlockMemory(b []byte) error {
	Zero(b)
	return nil
}
