package collection

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/packline-labs/packline-go/internal/domain"
	"github.com/packline-labs/packline-go/internal/inspection/pipeline"
)

// DocSchemaV1 identifies the persisted collection document format.
const DocSchemaV1 = "packline.collection.v1"

type documentPayload struct {
	Schema   string                          `json:"schema"`
	OrderID  string                          `json:"order_id"`
	Phase    string                          `json:"phase"`
	Steps    []domain.StepID                 `json:"steps"`
	RunOrder []string                        `json:"run_order"`
	Runs     map[string]domain.InspectionRun `json:"runs"`
}

// Encode serializes a snapshot into the document form the workspace record
// store persists per order.
func Encode(s Snapshot) ([]byte, error) {
	if strings.TrimSpace(s.OrderID) == "" {
		return nil, fmt.Errorf("order id is required")
	}
	payload := documentPayload{
		Schema:   DocSchemaV1,
		OrderID:  s.OrderID,
		Phase:    s.Pipeline.Phase,
		Steps:    append([]domain.StepID(nil), s.Pipeline.Steps...),
		RunOrder: append([]string(nil), s.RunOrder...),
		Runs:     s.RunsByID,
	}
	if payload.RunOrder == nil {
		payload.RunOrder = []string{}
	}
	if payload.Runs == nil {
		payload.Runs = map[string]domain.InspectionRun{}
	}
	return json.Marshal(payload)
}

// Decode parses a persisted collection document back into a snapshot.
func Decode(raw []byte) (Snapshot, error) {
	var payload documentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Snapshot{}, fmt.Errorf("decode collection document: %w", err)
	}
	if payload.Schema != DocSchemaV1 {
		return Snapshot{}, fmt.Errorf("unsupported document schema %q", payload.Schema)
	}
	p := pipeline.Pipeline{Phase: payload.Phase, Steps: payload.Steps}
	if err := p.Validate(); err != nil {
		return Snapshot{}, fmt.Errorf("document pipeline invalid: %w", err)
	}

	snapshot := Snapshot{
		OrderID:  strings.TrimSpace(payload.OrderID),
		Pipeline: p,
		RunsByID: payload.Runs,
		RunOrder: payload.RunOrder,
	}
	if snapshot.OrderID == "" {
		return Snapshot{}, fmt.Errorf("document order id is required")
	}
	if snapshot.RunsByID == nil {
		snapshot.RunsByID = map[string]domain.InspectionRun{}
	}
	for id, run := range snapshot.RunsByID {
		if run.ID != id {
			return Snapshot{}, fmt.Errorf("run %s: id mismatch (%q)", id, run.ID)
		}
		if err := run.Validate(); err != nil {
			return Snapshot{}, fmt.Errorf("run %s: %w", id, err)
		}
	}
	for _, id := range snapshot.RunOrder {
		if _, ok := snapshot.RunsByID[id]; !ok {
			return Snapshot{}, fmt.Errorf("run order references unknown run %s", id)
		}
	}
	return snapshot, nil
}
