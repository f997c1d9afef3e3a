package collection

import (
	"fmt"
	"strings"
	"time"

	"github.com/packline-labs/packline-go/internal/domain"
	"github.com/packline-labs/packline-go/internal/inspection/pipeline"
)

// Snapshot is the immutable run collection for one order. Commands never
// mutate the receiver: each returns a new snapshot, and a rejected command
// returns the input snapshot untouched.
type Snapshot struct {
	OrderID  string
	Pipeline pipeline.Pipeline
	RunsByID map[string]domain.InspectionRun
	// RunOrder is the display/iteration order. New runs append at the end;
	// runs retired by group disappear from the order but stay in RunsByID.
	RunOrder []string
}

// Result reports what a command did.
type Result struct {
	MutatedRunIDs []string
	// Duplicate marks an idempotent replay: the command had already been
	// applied and the prior snapshot is echoed back unchanged.
	Duplicate bool
}

// RunSpec describes one run to create.
type RunSpec struct {
	ContainerType  string
	ContainerCount int
}

// New returns an empty snapshot for one order.
func New(orderID string, p pipeline.Pipeline) Snapshot {
	return Snapshot{
		OrderID:  strings.TrimSpace(orderID),
		Pipeline: p,
		RunsByID: map[string]domain.InspectionRun{},
	}
}

// Clone deep-copies the snapshot so command application never aliases state
// with the snapshot the caller read.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.RunsByID = make(map[string]domain.InspectionRun, len(s.RunsByID))
	for id, run := range s.RunsByID {
		out.RunsByID[id] = run.Clone()
	}
	out.RunOrder = append([]string(nil), s.RunOrder...)
	return out
}

// Run returns a copy of one run.
func (s Snapshot) Run(id string) (domain.InspectionRun, bool) {
	run, ok := s.RunsByID[strings.TrimSpace(id)]
	if !ok {
		return domain.InspectionRun{}, false
	}
	return run.Clone(), true
}

// OrderedRuns returns the non-retired runs in display order.
func (s Snapshot) OrderedRuns() []domain.InspectionRun {
	out := make([]domain.InspectionRun, 0, len(s.RunOrder))
	for _, id := range s.RunOrder {
		if run, ok := s.RunsByID[id]; ok {
			out = append(out, run.Clone())
		}
	}
	return out
}

// CreateRuns appends one new active run per spec, each starting at the
// pipeline's first step.
func (s Snapshot) CreateRuns(specs []RunSpec, actor string, now time.Time, ids IDSource) (Snapshot, Result, error) {
	if len(specs) == 0 {
		return s, Result{}, domain.Reject(domain.RejectMalformedPayload, "", "at least one run spec is required")
	}
	for i, spec := range specs {
		if strings.TrimSpace(spec.ContainerType) == "" {
			return s, Result{}, domain.Reject(domain.RejectMalformedPayload, "", "specs[%d]: container type is required", i)
		}
		if spec.ContainerCount <= 0 {
			return s, Result{}, domain.Reject(domain.RejectInvalidQuantity, "", "specs[%d]: container count must be positive", i)
		}
	}

	next := s.Clone()
	result := Result{}
	for _, spec := range specs {
		run := domain.InspectionRun{
			ID:             ids.NewID(),
			CreatedAt:      now.UTC(),
			UpdatedAt:      now.UTC(),
			ContainerType:  strings.TrimSpace(spec.ContainerType),
			ContainerCount: spec.ContainerCount,
			CurrentStepID:  s.Pipeline.First(),
			Status:         domain.RunStatusActive,
			Steps:          map[domain.StepID]domain.StepRecord{},
			History: []domain.HistoryEntry{{
				Command:    "create_runs",
				Actor:      strings.TrimSpace(actor),
				OccurredAt: now.UTC(),
			}},
		}
		next.RunsByID[run.ID] = run
		next.RunOrder = append(next.RunOrder, run.ID)
		result.MutatedRunIDs = append(result.MutatedRunIDs, run.ID)
	}
	return next, result, nil
}

// Split divides quantity containers off runID into a fresh child run. The
// parent keeps its own progress; the child is inspected independently from
// scratch at the pipeline's first step.
func (s Snapshot) Split(runID string, quantity int, actor string, now time.Time, ids IDSource) (Snapshot, Result, error) {
	run, ok := s.RunsByID[strings.TrimSpace(runID)]
	if !ok {
		return s, Result{}, domain.Reject(domain.RejectNotFound, runID, "run not found")
	}
	if run.Terminal() || run.Status == domain.RunStatusOnHold {
		return s, Result{}, domain.Reject(domain.RejectRunNotActive, run.ID, "cannot split a %s run", run.Status)
	}
	if quantity <= 0 || quantity >= run.ContainerCount {
		return s, Result{}, domain.Reject(domain.RejectInvalidQuantity,
			run.ID, "split quantity must satisfy 0 < quantity < %d (got %d)", run.ContainerCount, quantity)
	}

	next := s.Clone()
	parent := next.RunsByID[run.ID]

	child := domain.InspectionRun{
		ID:             ids.NewID(),
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
		ContainerType:  parent.ContainerType,
		ContainerCount: quantity,
		CurrentStepID:  s.Pipeline.First(),
		Status:         domain.RunStatusActive,
		Steps:          map[domain.StepID]domain.StepRecord{},
		History:        []domain.HistoryEntry{},
		ParentRunID:    parent.ID,
	}

	parent.ContainerCount -= quantity
	parent.ChildRunIDs = append(parent.ChildRunIDs, child.ID)
	parent.UpdatedAt = now.UTC()
	parent.History = append(parent.History, domain.HistoryEntry{
		Command:    "split",
		Actor:      strings.TrimSpace(actor),
		OccurredAt: now.UTC(),
		Note:       fmt.Sprintf("split %d containers into %s", quantity, child.ID),
	})

	next.RunsByID[parent.ID] = parent
	next.RunsByID[child.ID] = child
	next.RunOrder = append(next.RunOrder, child.ID)
	return next, Result{MutatedRunIDs: []string{parent.ID, child.ID}}, nil
}

// Group merges the named runs into one new run holding their combined
// container count. Sources are marked merged and removed from the order but
// stay in the map for audit; the grouped unit is re-inspected from the
// pipeline's first step.
func (s Snapshot) Group(runIDs []string, actor string, now time.Time, ids IDSource) (Snapshot, Result, error) {
	if len(runIDs) < 2 {
		return s, Result{}, domain.Reject(domain.RejectIncompatibleRuns, "", "group requires at least two runs")
	}

	sources := make([]domain.InspectionRun, 0, len(runIDs))
	seen := make(map[string]struct{}, len(runIDs))
	for _, raw := range runIDs {
		id := strings.TrimSpace(raw)
		if _, ok := seen[id]; ok {
			return s, Result{}, domain.Reject(domain.RejectIncompatibleRuns, id, "duplicate run id")
		}
		seen[id] = struct{}{}
		run, ok := s.RunsByID[id]
		if !ok {
			return s, Result{}, domain.Reject(domain.RejectNotFound, id, "run not found")
		}
		sources = append(sources, run)
	}

	containerType := sources[0].ContainerType
	total := 0
	for _, run := range sources {
		if run.ContainerType != containerType {
			return s, Result{}, domain.Reject(domain.RejectIncompatibleRuns,
				run.ID, "container type %q does not match %q", run.ContainerType, containerType)
		}
		if run.Terminal() || run.Status == domain.RunStatusOnHold {
			return s, Result{}, domain.Reject(domain.RejectRunNotActive, run.ID, "cannot group a %s run", run.Status)
		}
		total += run.ContainerCount
	}

	next := s.Clone()
	grouped := domain.InspectionRun{
		ID:             ids.NewID(),
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
		ContainerType:  containerType,
		ContainerCount: total,
		CurrentStepID:  s.Pipeline.First(),
		Status:         domain.RunStatusActive,
		Steps:          map[domain.StepID]domain.StepRecord{},
		History:        []domain.HistoryEntry{},
	}

	mutated := []string{grouped.ID}
	for _, source := range sources {
		retired := next.RunsByID[source.ID]
		retired.Status = domain.RunStatusMerged
		retired.CurrentStepID = ""
		retired.PriorStatus = ""
		retired.CancelReason = fmt.Sprintf("merged into %s", grouped.ID)
		retired.UpdatedAt = now.UTC()
		retired.History = append(retired.History, domain.HistoryEntry{
			Command:    "group",
			Actor:      strings.TrimSpace(actor),
			OccurredAt: now.UTC(),
			Note:       fmt.Sprintf("merged into %s", grouped.ID),
		})
		next.RunsByID[source.ID] = retired
		mutated = append(mutated, source.ID)
	}

	next.RunsByID[grouped.ID] = grouped
	next.RunOrder = removeAll(next.RunOrder, seen)
	next.RunOrder = append(next.RunOrder, grouped.ID)
	return next, Result{MutatedRunIDs: mutated}, nil
}

func removeAll(order []string, drop map[string]struct{}) []string {
	out := order[:0]
	for _, id := range order {
		if _, ok := drop[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
