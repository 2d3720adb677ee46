package types

import (
	"fmt"
	"strings"
)

var knownModes = map[Mode]struct{}{
	ModeStarting:       {},
	ModeJoining:        {},
	ModeNormal:         {},
	ModeLeaving:        {},
	ModeDecommissioned: {},
	ModeMoving:         {},
	ModeDraining:       {},
	ModeDrained:        {},
	ModeUnknown:        {},
}

// ParseMode converts the operation mode string reported by a node
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := knownModes[m]; !ok {
		return ModeUnknown, fmt.Errorf("unrecognized operation mode %q", s)
	}
	return m, nil
}

func (m Mode) String() string {
	return string(m)
}
