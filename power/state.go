// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package power

import (
	"regexp"
)

// State is the observed power condition of the printer.
// The integer values are the wire values used by notifications and the API.
type State int

const (
	Off     State = 0
	On      State = 1
	Unknown State = 99
)

func (s State) String() string {
	switch s {
	case Off:
		return "OFF"
	case On:
		return "ON"
	default:
		return "UNKNOWN"
	}
}

// statusPattern matches a single leading digit not followed by another digit.
var statusPattern = regexp.MustCompile(`^(\d)(\D|$)`)

// ParseStatus interprets the output of the hardware status command.
// "0" is OFF, "1" is ON; anything else, including multi-digit values, is UNKNOWN.
func ParseStatus(output string) State {
	m := statusPattern.FindStringSubmatch(output)
	if m == nil {
		return Unknown
	}
	switch m[1] {
	case "0":
		return Off
	case "1":
		return On
	default:
		return Unknown
	}
}
