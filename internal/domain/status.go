package domain

import "strings"

// RunStatus represents the lifecycle status of an inspection run.
type RunStatus string

const (
	RunStatusActive        RunStatus = "active"
	RunStatusNeedsReverify RunStatus = "needs_reverify"
	RunStatusOnHold        RunStatus = "on_hold"
	RunStatusCompleted     RunStatus = "completed"
	RunStatusCancelled     RunStatus = "cancelled"
	// RunStatusMerged marks a run retired by a group operation. The run is
	// kept for audit but no longer appears in the collection order.
	RunStatusMerged RunStatus = "merged"
)

// StepOutcome is the pass/fail verdict recorded for a step submission.
type StepOutcome string

const (
	StepOutcomePass StepOutcome = "pass"
	StepOutcomeFail StepOutcome = "fail"
)

// Terminal reports whether the status admits no further commands.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusCancelled, RunStatusMerged:
		return true
	default:
		return false
	}
}

// NormalizeRunStatus maps free-form status values to canonical run statuses.
func NormalizeRunStatus(value string) RunStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(RunStatusActive):
		return RunStatusActive
	case string(RunStatusNeedsReverify):
		return RunStatusNeedsReverify
	case string(RunStatusOnHold):
		return RunStatusOnHold
	case string(RunStatusCompleted):
		return RunStatusCompleted
	case string(RunStatusCancelled):
		return RunStatusCancelled
	case string(RunStatusMerged):
		return RunStatusMerged
	default:
		return ""
	}
}

// NormalizeStepOutcome maps free-form outcome values to canonical outcomes.
func NormalizeStepOutcome(value string) StepOutcome {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(StepOutcomePass):
		return StepOutcomePass
	case string(StepOutcomeFail):
		return StepOutcomeFail
	default:
		return ""
	}
}
