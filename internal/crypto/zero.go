package crypto

import "runtime"

// Zero overwrites a byte slice in memory with zeros.
// This version works on all operating systems.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}

// Zero32 overwrites a fixed-size key buffer with zeros.
func Zero32(x *[32]byte) {
	for i := range x {
		x[i] = 0
	}
	runtime.KeepAlive(x)
}
