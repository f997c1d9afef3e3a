package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// StepRecord is the last accepted submission for one step of a run.
type StepRecord struct {
	Outcome    StepOutcome     `json:"outcome"`
	Payload    json.RawMessage `json:"payload"`
	Actor      string          `json:"actor"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// HistoryEntry is one accepted command in a run's append-only log.
type HistoryEntry struct {
	Command        string          `json:"command"`
	StepID         StepID          `json:"step_id,omitempty"`
	Outcome        StepOutcome     `json:"outcome,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Actor          string          `json:"actor"`
	OccurredAt     time.Time       `json:"occurred_at"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Note           string          `json:"note,omitempty"`
}

// InspectionRun is one inspectable unit of identical containers moving
// through the step pipeline. History is append-only and never pruned;
// terminal runs are retained for audit.
type InspectionRun struct {
	ID             string                `json:"id"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
	ContainerType  string                `json:"container_type"`
	ContainerCount int                   `json:"container_count"`
	CurrentStepID  StepID                `json:"current_step_id,omitempty"`
	Status         RunStatus             `json:"status"`
	PriorStatus    RunStatus             `json:"prior_status,omitempty"`
	Steps          map[StepID]StepRecord `json:"steps,omitempty"`
	History        []HistoryEntry        `json:"history"`
	HoldReason     string                `json:"hold_reason,omitempty"`
	CancelReason   string                `json:"cancel_reason,omitempty"`
	ParentRunID    string                `json:"parent_run_id,omitempty"`
	ChildRunIDs    []string              `json:"child_run_ids,omitempty"`
	QRBinding      string                `json:"qr_binding,omitempty"`
}

// Terminal reports whether the run accepts no further commands.
func (r InspectionRun) Terminal() bool {
	return r.Status.Terminal()
}

// Clone returns a deep copy so snapshot mutation never aliases a prior
// snapshot's run.
func (r InspectionRun) Clone() InspectionRun {
	out := r
	if r.Steps != nil {
		out.Steps = make(map[StepID]StepRecord, len(r.Steps))
		for step, record := range r.Steps {
			record.Payload = append(json.RawMessage(nil), record.Payload...)
			out.Steps[step] = record
		}
	}
	if r.History != nil {
		out.History = make([]HistoryEntry, len(r.History))
		for i, entry := range r.History {
			entry.Payload = append(json.RawMessage(nil), entry.Payload...)
			out.History[i] = entry
		}
	}
	if r.ChildRunIDs != nil {
		out.ChildRunIDs = append([]string(nil), r.ChildRunIDs...)
	}
	return out
}

func (r InspectionRun) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.ContainerType) == "" {
		return errors.New("container type is required")
	}
	if r.ContainerCount <= 0 {
		return errors.New("container count must be positive")
	}
	if NormalizeRunStatus(string(r.Status)) == "" {
		return fmt.Errorf("unknown status %q", r.Status)
	}
	terminal := r.Terminal()
	if terminal && r.CurrentStepID != "" {
		return errors.New("terminal run must not have a current step")
	}
	if !terminal && r.CurrentStepID == "" {
		return errors.New("non-terminal run requires a current step")
	}
	if r.Status == RunStatusOnHold && NormalizeRunStatus(string(r.PriorStatus)) == "" {
		return errors.New("held run requires a prior status")
	}
	return nil
}
