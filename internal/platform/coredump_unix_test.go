//go:build linux || darwin || freebsd || netbsd || openbsd

package platform

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestDisableCoreDumps(t *testing.T) {
	if err := DisableCoreDumps(); err != nil {
		t.Fatalf("DisableCoreDumps failed: %v", err)
	}

	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_CORE, &rlim); err != nil {
		t.Fatalf("Getrlimit failed: %v", err)
	}
	if rlim.Cur != 0 || rlim.Max != 0 {
		t.Errorf("expected zero core limit, got cur=%d max=%d", rlim.Cur, rlim.Max)
	}
}
