package collection

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/packline-labs/packline-go/internal/domain"
	"github.com/packline-labs/packline-go/internal/inspection/payloadcheck"
	"github.com/packline-labs/packline-go/internal/inspection/progress"
)

// RecordStep validates and applies one step submission to a run. The
// submission must target the run's current step; a run parked in
// needs_reverify keeps the failed step current, so corrective resubmission
// targets the same step. A matching idempotency key in the run's history
// makes the command a replay: the snapshot is echoed back unchanged.
func (s Snapshot) RecordStep(runID string, stepID domain.StepID, raw json.RawMessage, outcome domain.StepOutcome, idempotencyKey, actor string, now time.Time) (Snapshot, Result, error) {
	run, ok := s.RunsByID[strings.TrimSpace(runID)]
	if !ok {
		return s, Result{}, domain.Reject(domain.RejectNotFound, runID, "run not found")
	}

	key := strings.TrimSpace(idempotencyKey)
	if key != "" {
		for _, entry := range run.History {
			if entry.IdempotencyKey == key {
				return s, Result{MutatedRunIDs: []string{run.ID}, Duplicate: true}, nil
			}
		}
	}

	if run.Terminal() {
		return s, Result{}, domain.Reject(domain.RejectInvalidTransition, run.ID, "run is %s", run.Status)
	}
	if run.Status == domain.RunStatusOnHold {
		return s, Result{}, domain.Reject(domain.RejectInvalidTransition, run.ID, "run is on hold")
	}
	if stepID != run.CurrentStepID {
		return s, Result{}, domain.Reject(domain.RejectInvalidTransition,
			run.ID, "step %s is not the current step (%s)", stepID, run.CurrentStepID)
	}

	payload, err := payloadcheck.Validate(stepID, raw, outcome)
	if err != nil {
		if rej, ok := domain.AsRejection(err); ok {
			rej.RunID = run.ID
		}
		return s, Result{}, err
	}
	normalized, err := json.Marshal(payload)
	if err != nil {
		return s, Result{}, fmt.Errorf("encode payload: %w", err)
	}

	resolution := progress.Resolve(s.Pipeline, stepID, outcome)

	next := s.Clone()
	updated := next.RunsByID[run.ID]
	if updated.Steps == nil {
		updated.Steps = map[domain.StepID]domain.StepRecord{}
	}
	updated.Steps[stepID] = domain.StepRecord{
		Outcome:    outcome,
		Payload:    normalized,
		Actor:      strings.TrimSpace(actor),
		RecordedAt: now.UTC(),
	}
	updated.History = append(updated.History, domain.HistoryEntry{
		Command:        "record_step",
		StepID:         stepID,
		Outcome:        outcome,
		Payload:        normalized,
		Actor:          strings.TrimSpace(actor),
		OccurredAt:     now.UTC(),
		IdempotencyKey: key,
	})
	updated.Status = resolution.NextStatus
	updated.CurrentStepID = resolution.NextStepID
	updated.UpdatedAt = now.UTC()

	next.RunsByID[run.ID] = updated
	return next, Result{MutatedRunIDs: []string{run.ID}}, nil
}

// Hold pauses a run. Legal from active or needs_reverify; the prior status
// is recorded so Release can restore it.
func (s Snapshot) Hold(runID, reason, actor string, now time.Time) (Snapshot, Result, error) {
	run, ok := s.RunsByID[strings.TrimSpace(runID)]
	if !ok {
		return s, Result{}, domain.Reject(domain.RejectNotFound, runID, "run not found")
	}
	if run.Status != domain.RunStatusActive && run.Status != domain.RunStatusNeedsReverify {
		return s, Result{}, domain.Reject(domain.RejectInvalidTransition, run.ID, "cannot hold a %s run", run.Status)
	}

	next := s.Clone()
	updated := next.RunsByID[run.ID]
	updated.PriorStatus = updated.Status
	updated.Status = domain.RunStatusOnHold
	updated.HoldReason = strings.TrimSpace(reason)
	updated.UpdatedAt = now.UTC()
	updated.History = append(updated.History, domain.HistoryEntry{
		Command:    "hold",
		Actor:      strings.TrimSpace(actor),
		OccurredAt: now.UTC(),
		Note:       strings.TrimSpace(reason),
	})
	next.RunsByID[run.ID] = updated
	return next, Result{MutatedRunIDs: []string{run.ID}}, nil
}

// Release restores a held run to the status it had when held.
func (s Snapshot) Release(runID, actor string, now time.Time) (Snapshot, Result, error) {
	run, ok := s.RunsByID[strings.TrimSpace(runID)]
	if !ok {
		return s, Result{}, domain.Reject(domain.RejectNotFound, runID, "run not found")
	}
	if run.Status != domain.RunStatusOnHold {
		return s, Result{}, domain.Reject(domain.RejectInvalidTransition, run.ID, "run is not on hold")
	}

	next := s.Clone()
	updated := next.RunsByID[run.ID]
	updated.Status = updated.PriorStatus
	updated.PriorStatus = ""
	updated.HoldReason = ""
	updated.UpdatedAt = now.UTC()
	updated.History = append(updated.History, domain.HistoryEntry{
		Command:    "release",
		Actor:      strings.TrimSpace(actor),
		OccurredAt: now.UTC(),
	})
	next.RunsByID[run.ID] = updated
	return next, Result{MutatedRunIDs: []string{run.ID}}, nil
}

// Cancel terminates a run irreversibly. Legal from any non-terminal status.
func (s Snapshot) Cancel(runID, reason, actor string, now time.Time) (Snapshot, Result, error) {
	run, ok := s.RunsByID[strings.TrimSpace(runID)]
	if !ok {
		return s, Result{}, domain.Reject(domain.RejectNotFound, runID, "run not found")
	}
	if run.Terminal() {
		return s, Result{}, domain.Reject(domain.RejectInvalidTransition, run.ID, "run is already %s", run.Status)
	}
	if strings.TrimSpace(reason) == "" {
		return s, Result{}, domain.Reject(domain.RejectMalformedPayload, run.ID, "cancel reason is required")
	}

	next := s.Clone()
	updated := next.RunsByID[run.ID]
	updated.Status = domain.RunStatusCancelled
	updated.CurrentStepID = ""
	updated.PriorStatus = ""
	updated.HoldReason = ""
	updated.CancelReason = strings.TrimSpace(reason)
	updated.UpdatedAt = now.UTC()
	updated.History = append(updated.History, domain.HistoryEntry{
		Command:    "cancel",
		Actor:      strings.TrimSpace(actor),
		OccurredAt: now.UTC(),
		Note:       strings.TrimSpace(reason),
	})
	next.RunsByID[run.ID] = updated
	return next, Result{MutatedRunIDs: []string{run.ID}}, nil
}

// BindToCode attaches an externally issued code reference to a run. A code
// may be held by at most one live run in the collection; rebinding the same
// code to the same run is a no-op success.
func (s Snapshot) BindToCode(runID, codeRef, actor string, now time.Time) (Snapshot, Result, error) {
	run, ok := s.RunsByID[strings.TrimSpace(runID)]
	if !ok {
		return s, Result{}, domain.Reject(domain.RejectNotFound, runID, "run not found")
	}
	if run.Terminal() || run.Status == domain.RunStatusOnHold {
		return s, Result{}, domain.Reject(domain.RejectRunNotActive, run.ID, "cannot bind a %s run", run.Status)
	}
	code := strings.TrimSpace(codeRef)
	if code == "" {
		return s, Result{}, domain.Reject(domain.RejectMalformedPayload, run.ID, "code ref is required")
	}
	if run.QRBinding == code {
		return s, Result{MutatedRunIDs: []string{run.ID}, Duplicate: true}, nil
	}
	for _, other := range s.RunsByID {
		if other.ID == run.ID || other.Terminal() {
			continue
		}
		if other.QRBinding == code {
			return s, Result{}, domain.Reject(domain.RejectCodeAlreadyBound,
				run.ID, "code %s is already bound to run %s", code, other.ID)
		}
	}

	next := s.Clone()
	updated := next.RunsByID[run.ID]
	updated.QRBinding = code
	updated.UpdatedAt = now.UTC()
	updated.History = append(updated.History, domain.HistoryEntry{
		Command:    "bind_to_code",
		Actor:      strings.TrimSpace(actor),
		OccurredAt: now.UTC(),
		Note:       "bound to " + code,
	})
	next.RunsByID[run.ID] = updated
	return next, Result{MutatedRunIDs: []string{run.ID}}, nil
}
