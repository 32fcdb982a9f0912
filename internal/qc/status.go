package qc

import "time"

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transitions can occur.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsActive reports whether the job is still pending or processing.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusProcessing
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether from -> to is a single permitted step.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Transition records an observed status change.
type Transition struct {
	From Status    `json:"from"`
	To   Status    `json:"to"`
	At   time.Time `json:"at"`
}

// Path returns the permitted steps that lead from -> to, or nil when the
// move is a regression, a no-op or otherwise impossible. A direct
// pending -> terminal jump expands into pending -> processing -> terminal.
func Path(from, to Status) []Status {
	if !from.Valid() || !to.Valid() || to.rank() <= from.rank() {
		return nil
	}
	if CanTransition(from, to) {
		return []Status{to}
	}
	if from == StatusPending && to.IsTerminal() {
		return []Status{StatusProcessing, to}
	}
	return nil
}
