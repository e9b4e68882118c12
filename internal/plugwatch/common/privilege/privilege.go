// Package privilege verifies up front that the process may rewrite the hosts
// file, so a missing sudo is reported at startup rather than at the first
// state change.
package privilege

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/haukened/plugwatch/internal/plugwatch/domain"
)

// Checker reports whether the current process may replace a file.
type Checker struct {
	// Geteuid and Access are overridable for tests.
	Geteuid func() int
	Access  func(path string, mode uint32) error
}

// New returns a Checker backed by the real system calls.
func New() *Checker {
	return &Checker{Geteuid: unix.Geteuid, Access: unix.Access}
}

// Check succeeds when running as root, or when both the file and its parent
// directory are writable (the atomic replace creates a sibling temp file).
// Failures wrap domain.ErrPrivilege.
func (c *Checker) Check(path string) error {
	if c.Geteuid() == 0 {
		return nil
	}
	target := path
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		target = resolved
	}
	if err := c.Access(target, unix.W_OK); err != nil {
		return fmt.Errorf("%w: cannot write %s (euid %d): %w", domain.ErrPrivilege, target, c.Geteuid(), err)
	}
	dir := filepath.Dir(target)
	if err := c.Access(dir, unix.W_OK); err != nil {
		return fmt.Errorf("%w: cannot create files in %s (euid %d): %w", domain.ErrPrivilege, dir, c.Geteuid(), err)
	}
	return nil
}
