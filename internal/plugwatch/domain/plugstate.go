package domain

import (
	"fmt"
	"strings"
)

// PlugState is the observed power state of the smart plug.
//
// PlugUnknown is only held before the first successful read and is never
// re-entered afterwards.
type PlugState uint8

const (
	PlugUnknown PlugState = iota
	PlugOn
	PlugOff
)

// PlugStateFromBool maps a relay reading onto a PlugState.
func PlugStateFromBool(on bool) PlugState {
	if on {
		return PlugOn
	}
	return PlugOff
}

// String returns a stable string representation of the state.
func (s PlugState) String() string {
	switch s {
	case PlugUnknown:
		return "UNKNOWN"
	case PlugOn:
		return "ON"
	case PlugOff:
		return "OFF"
	default:
		return fmt.Sprintf("PlugState(%d)", s)
	}
}

// ParsePlugState converts "on", "off" or "unknown" (case-insensitive) into a PlugState.
func ParsePlugState(s string) (PlugState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on":
		return PlugOn, nil
	case "off":
		return PlugOff, nil
	case "unknown":
		return PlugUnknown, nil
	default:
		return PlugUnknown, fmt.Errorf("unsupported PlugState: %q", s)
	}
}

// IsKnown reports whether the state came from a successful read.
func (s PlugState) IsKnown() bool { return s == PlugOn || s == PlugOff }

// ShouldBlock reports whether the managed block must be present in this state.
func (s PlugState) ShouldBlock() bool { return s == PlugOn }

// IsTransition reports whether moving from prev to s is an edge worth acting
// on. Leaving PlugUnknown always counts.
func (s PlugState) IsTransition(prev PlugState) bool {
	return s.IsKnown() && s != prev
}
