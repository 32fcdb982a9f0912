package qc

import (
	"errors"
	"strings"
)

// Mode is the analysis tier selected at submission.
type Mode string

const (
	ModePolisher Mode = "polisher"
	ModeGuardian Mode = "guardian"
)

var ErrInvalidMode = errors.New("qc mode is invalid")

// ParseMode normalizes and validates a mode string.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModePolisher):
		return ModePolisher, nil
	case string(ModeGuardian):
		return ModeGuardian, nil
	case "":
		return "", errors.New("qc mode is required")
	default:
		return "", ErrInvalidMode
	}
}

// Multiplier is the per-second credit cost of the mode.
func (m Mode) Multiplier() int {
	switch m {
	case ModeGuardian:
		return 2
	case ModePolisher:
		return 1
	default:
		return 0
	}
}

// Label is the display name of the mode.
func (m Mode) Label() string {
	switch m {
	case ModeGuardian:
		return "Guardian"
	case ModePolisher:
		return "Polisher"
	default:
		return string(m)
	}
}

// EstimateCost returns the credits a submission of durationSec would consume.
func EstimateCost(durationSec int, mode Mode) int {
	if durationSec <= 0 {
		return 0
	}
	return durationSec * mode.Multiplier()
}
