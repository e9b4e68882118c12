package domain

import "errors"

// Sentinel errors. Components wrap these with %w so callers can classify a
// failure with errors.Is regardless of the underlying cause.
var (
	// ErrConfiguration covers a missing or unreadable blocklist and invalid settings.
	ErrConfiguration = errors.New("configuration error")
	// ErrPrivilege is returned when the process cannot write the hosts file.
	ErrPrivilege = errors.New("insufficient privileges")
	// ErrDeviceUnreachable is returned when the plug cannot be queried.
	ErrDeviceUnreachable = errors.New("device unreachable")
	// ErrHostsNotFound is returned when the hosts file does not exist.
	ErrHostsNotFound = errors.New("hosts file not found")
	// ErrHostsPermission is returned when the hosts file cannot be read or replaced.
	ErrHostsPermission = errors.New("hosts file permission denied")
	// ErrHostsIO covers any other read or write failure on the hosts file.
	ErrHostsIO = errors.New("hosts file i/o failure")
	// ErrCacheFlush is returned when the resolver cache could not be invalidated.
	ErrCacheFlush = errors.New("resolver cache flush failed")
)

// IsTransient reports whether err may clear on its own and the monitor
// should keep running. Only hosts-file I/O failures qualify.
func IsTransient(err error) bool {
	return err != nil && errors.Is(err, ErrHostsIO)
}

// Diagnostic returns the operator-facing prefix for err, letting a reader
// tell a device problem from a permissions or cache problem at a glance.
func Diagnostic(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDeviceUnreachable):
		return "device"
	case errors.Is(err, ErrPrivilege):
		return "privilege"
	case errors.Is(err, ErrHostsNotFound), errors.Is(err, ErrHostsPermission), errors.Is(err, ErrHostsIO):
		return "hosts"
	case errors.Is(err, ErrCacheFlush):
		return "dns-cache"
	case errors.Is(err, ErrConfiguration):
		return "config"
	default:
		return "error"
	}
}

// Hint returns remediation advice for err, or "" when there is none.
func Hint(err error) string {
	switch {
	case errors.Is(err, ErrHostsPermission), errors.Is(err, ErrPrivilege):
		return "re-run with elevated privileges (for example with sudo)"
	case errors.Is(err, ErrDeviceUnreachable):
		return "check that the plug is powered and reachable on the local network"
	default:
		return ""
	}
}
