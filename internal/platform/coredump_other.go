//go:build !(linux || darwin || freebsd || netbsd || openbsd)

// Package platform holds OS-specific process hardening.
package platform

// DisableCoreDumps is a no-op where RLIMIT_CORE does not exist.
func DisableCoreDumps() error {
	return nil
}
