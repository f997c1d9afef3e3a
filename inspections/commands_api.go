package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/packline-labs/packline-go/internal/domain"
	"github.com/packline-labs/packline-go/internal/inspection/collection"
	"github.com/packline-labs/packline-go/internal/platform/auth"
	"github.com/packline-labs/packline-go/internal/service/orders"
)

func (api *inspectionsAPI) commandInfo(w http.ResponseWriter, r *http.Request) (orders.AuditInfo, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return orders.AuditInfo{}, false
	}
	return orders.AuditInfo{
		Actor:     identity.Subject,
		RequestID: r.Header.Get("X-Request-Id"),
		IP:        requestIP(r.RemoteAddr),
		UserAgent: r.UserAgent(),
		Service:   "inspections",
	}, true
}

func (api *inspectionsAPI) audit(r *http.Request, info orders.AuditInfo, orderID, action string, runIDs []string) {
	if err := api.orders.AppendCommandAudit(r.Context(), api.db, info, orderID, action, runIDs); err != nil {
		api.logger.Error("audit append failed", "action", action, "order_id", orderID, "error", err)
	}
}

type createRunsRequest struct {
	Phase string `json:"phase,omitempty"`
	Runs  []struct {
		ContainerType  string `json:"container_type"`
		ContainerCount int    `json:"container_count"`
	} `json:"runs"`
}

func (api *inspectionsAPI) handleCreateRuns(w http.ResponseWriter, r *http.Request) {
	info, ok := api.commandInfo(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(r.PathValue("order_id"))

	var req createRunsRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	specs := make([]collection.RunSpec, 0, len(req.Runs))
	for _, run := range req.Runs {
		specs = append(specs, collection.RunSpec{
			ContainerType:  run.ContainerType,
			ContainerCount: run.ContainerCount,
		})
	}

	out, err := api.orders.CreateRuns(r.Context(), orderID, req.Phase, specs, info)
	if err != nil {
		api.writeCommandError(w, r, err)
		return
	}
	api.audit(r, info, orderID, "inspection.create_runs", out.MutatedRunIDs)
	api.writeJSON(w, http.StatusCreated, collectionBody(out.Snapshot, out.Version, out.MutatedRunIDs, false))
}

type recordStepRequest struct {
	Outcome        string          `json:"outcome"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
}

func (api *inspectionsAPI) handleRecordStep(w http.ResponseWriter, r *http.Request) {
	info, ok := api.commandInfo(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(r.PathValue("order_id"))
	runID := strings.TrimSpace(r.PathValue("run_id"))
	stepID := domain.NormalizeStepID(r.PathValue("step_id"))
	if stepID == "" {
		api.writeError(w, r, http.StatusNotFound, "unknown_step")
		return
	}

	var req recordStepRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	outcome := domain.NormalizeStepOutcome(req.Outcome)
	if outcome == "" {
		api.writeError(w, r, http.StatusUnprocessableEntity, "unknown_outcome")
		return
	}
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	out, err := api.orders.RecordStep(r.Context(), orderID, runID, stepID, payload, outcome, req.IdempotencyKey, info)
	if err != nil {
		api.writeCommandError(w, r, err)
		return
	}
	if !out.Duplicate {
		api.audit(r, info, orderID, "inspection.record_step", out.MutatedRunIDs)
	}
	api.writeJSON(w, http.StatusOK, collectionBody(out.Snapshot, out.Version, out.MutatedRunIDs, out.Duplicate))
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (api *inspectionsAPI) handleHoldRun(w http.ResponseWriter, r *http.Request) {
	info, ok := api.commandInfo(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(r.PathValue("order_id"))
	runID := strings.TrimSpace(r.PathValue("run_id"))

	var req reasonRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	out, err := api.orders.Hold(r.Context(), orderID, runID, req.Reason, info)
	if err != nil {
		api.writeCommandError(w, r, err)
		return
	}
	api.audit(r, info, orderID, "inspection.hold", out.MutatedRunIDs)
	api.writeJSON(w, http.StatusOK, collectionBody(out.Snapshot, out.Version, out.MutatedRunIDs, false))
}

func (api *inspectionsAPI) handleReleaseRun(w http.ResponseWriter, r *http.Request) {
	info, ok := api.commandInfo(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(r.PathValue("order_id"))
	runID := strings.TrimSpace(r.PathValue("run_id"))

	out, err := api.orders.Release(r.Context(), orderID, runID, info)
	if err != nil {
		api.writeCommandError(w, r, err)
		return
	}
	api.audit(r, info, orderID, "inspection.release", out.MutatedRunIDs)
	api.writeJSON(w, http.StatusOK, collectionBody(out.Snapshot, out.Version, out.MutatedRunIDs, false))
}

func (api *inspectionsAPI) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	info, ok := api.commandInfo(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(r.PathValue("order_id"))
	runID := strings.TrimSpace(r.PathValue("run_id"))

	var req reasonRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	out, err := api.orders.Cancel(r.Context(), orderID, runID, req.Reason, info)
	if err != nil {
		api.writeCommandError(w, r, err)
		return
	}
	api.audit(r, info, orderID, "inspection.cancel", out.MutatedRunIDs)
	api.writeJSON(w, http.StatusOK, collectionBody(out.Snapshot, out.Version, out.MutatedRunIDs, false))
}

type bindRequest struct {
	Code string `json:"code"`
}

func (api *inspectionsAPI) handleBindRun(w http.ResponseWriter, r *http.Request) {
	info, ok := api.commandInfo(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(r.PathValue("order_id"))
	runID := strings.TrimSpace(r.PathValue("run_id"))

	var req bindRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		api.writeError(w, r, http.StatusBadRequest, "code_required")
		return
	}

	out, err := api.orders.BindToCode(r.Context(), orderID, runID, req.Code, info)
	if err != nil {
		api.writeCommandError(w, r, err)
		return
	}
	if !out.Duplicate {
		api.audit(r, info, orderID, "inspection.bind", out.MutatedRunIDs)
	}
	api.writeJSON(w, http.StatusOK, collectionBody(out.Snapshot, out.Version, out.MutatedRunIDs, out.Duplicate))
}

type splitRequest struct {
	Quantity int `json:"quantity"`
}

func (api *inspectionsAPI) handleSplitRun(w http.ResponseWriter, r *http.Request) {
	info, ok := api.commandInfo(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(r.PathValue("order_id"))
	runID := strings.TrimSpace(r.PathValue("run_id"))

	var req splitRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	out, err := api.orders.Split(r.Context(), orderID, runID, req.Quantity, info)
	if err != nil {
		api.writeCommandError(w, r, err)
		return
	}
	api.audit(r, info, orderID, "inspection.split", out.MutatedRunIDs)
	if len(out.MutatedRunIDs) == 2 {
		if err := api.orders.AppendLineageEvents(r.Context(), api.db, info, orderID, "split_into", out.MutatedRunIDs[0], out.MutatedRunIDs[1:]); err != nil {
			api.logger.Error("lineage append failed", "action", "split", "order_id", orderID, "error", err)
		}
	}
	api.writeJSON(w, http.StatusOK, collectionBody(out.Snapshot, out.Version, out.MutatedRunIDs, false))
}

type groupRequest struct {
	RunIDs []string `json:"run_ids"`
}

func (api *inspectionsAPI) handleGroupRuns(w http.ResponseWriter, r *http.Request) {
	info, ok := api.commandInfo(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(r.PathValue("order_id"))

	var req groupRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	out, err := api.orders.Group(r.Context(), orderID, req.RunIDs, info)
	if err != nil {
		api.writeCommandError(w, r, err)
		return
	}
	api.audit(r, info, orderID, "inspection.group", out.MutatedRunIDs)
	if len(out.MutatedRunIDs) > 1 {
		if err := api.orders.AppendLineageEvents(r.Context(), api.db, info, orderID, "merged_from", out.MutatedRunIDs[0], out.MutatedRunIDs[1:]); err != nil {
			api.logger.Error("lineage append failed", "action", "group", "order_id", orderID, "error", err)
		}
	}
	api.writeJSON(w, http.StatusOK, collectionBody(out.Snapshot, out.Version, out.MutatedRunIDs, false))
}
