//go:build linux || darwin

package crypto

import "golang.org/x/sys/unix"

// LockMemory pins a secret buffer so it cannot be swapped out.
// Best effort: callers ignore the error on platforms that refuse.
func LockMemory(b []byte) error { return unix.Mlock(b) }

// UnlockMemory releases a pin taken by LockMemory.
func UnlockMemory(b []byte) error { return unix.Munlock(b) }
