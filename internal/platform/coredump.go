//go:build linux || darwin

package platform

import "golang.org/x/sys/unix"

// DisableCoreDumps prevents key material from landing in a core file.
func DisableCoreDumps() error {
	var rlim unix.Rlimit
	rlim.Cur = 0
	rlim.Max = 0
	return unix.Setrlimit(unix.RLIMIT_CORE, &rlim)
}
