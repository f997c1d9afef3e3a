package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/packline-labs/packline-go/internal/domain"
	"github.com/packline-labs/packline-go/internal/inspection/collection"
	"github.com/packline-labs/packline-go/internal/platform/objectstore"
	"github.com/packline-labs/packline-go/internal/repo"
	"github.com/packline-labs/packline-go/internal/service/orders"
)

type inspectionsAPI struct {
	logger        *slog.Logger
	db            *sql.DB
	orders        *orders.Service
	evidenceStore objectstore.Store
	storeCfg      objectstore.Config
	presignTTL    time.Duration
}

func newInspectionsAPI(logger *slog.Logger, db *sql.DB, service *orders.Service, evidenceStore objectstore.Store, storeCfg objectstore.Config) *inspectionsAPI {
	return &inspectionsAPI{
		logger:        logger,
		db:            db,
		orders:        service,
		evidenceStore: evidenceStore,
		storeCfg:      storeCfg,
		presignTTL:    15 * time.Minute,
	}
}

func (api *inspectionsAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/orders/{order_id}/runs", api.handleGetRuns)
	mux.HandleFunc("POST /api/v1/orders/{order_id}/runs", api.handleCreateRuns)
	mux.HandleFunc("POST /api/v1/orders/{order_id}/runs/group", api.handleGroupRuns)
	mux.HandleFunc("POST /api/v1/orders/{order_id}/runs/{run_id}/steps/{step_id}", api.handleRecordStep)
	mux.HandleFunc("POST /api/v1/orders/{order_id}/runs/{run_id}/hold", api.handleHoldRun)
	mux.HandleFunc("POST /api/v1/orders/{order_id}/runs/{run_id}/release", api.handleReleaseRun)
	mux.HandleFunc("POST /api/v1/orders/{order_id}/runs/{run_id}/cancel", api.handleCancelRun)
	mux.HandleFunc("POST /api/v1/orders/{order_id}/runs/{run_id}/bind", api.handleBindRun)
	mux.HandleFunc("POST /api/v1/orders/{order_id}/runs/{run_id}/split", api.handleSplitRun)

	mux.HandleFunc("POST /api/v1/orders/{order_id}/evidence", api.handleCreateEvidenceUpload)
	mux.HandleFunc("GET /api/v1/orders/{order_id}/evidence/{key...}", api.handleGetEvidenceDownload)
	mux.HandleFunc("PUT /api/v1/orders/{order_id}/evidence/{key...}", api.handlePutEvidence)
	mux.HandleFunc("DELETE /api/v1/orders/{order_id}/evidence/{key...}", api.handleDeleteEvidence)
}

type collectionResponse struct {
	OrderID   string                 `json:"order_id"`
	Phase     string                 `json:"phase"`
	Steps     []domain.StepID        `json:"steps"`
	Version   int64                  `json:"version"`
	Runs      []domain.InspectionRun `json:"runs"`
	Mutated   []string               `json:"mutated_run_ids,omitempty"`
	Duplicate bool                   `json:"duplicate,omitempty"`
}

func collectionBody(snapshot collection.Snapshot, version int64, mutated []string, duplicate bool) collectionResponse {
	return collectionResponse{
		OrderID:   snapshot.OrderID,
		Phase:     snapshot.Pipeline.Phase,
		Steps:     snapshot.Pipeline.Steps,
		Version:   version,
		Runs:      snapshot.OrderedRuns(),
		Mutated:   mutated,
		Duplicate: duplicate,
	}
}

func (api *inspectionsAPI) handleGetRuns(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimSpace(r.PathValue("order_id"))
	snapshot, version, err := api.orders.Snapshot(r.Context(), orderID)
	if err != nil {
		api.writeCommandError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, collectionBody(snapshot, version, nil, false))
}

// writeCommandError maps service and rejection errors onto HTTP statuses.
func (api *inspectionsAPI) writeCommandError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, repo.ErrNotFound) {
		api.writeError(w, r, http.StatusNotFound, "order_not_found")
		return
	}
	if errors.Is(err, repo.ErrVersionConflict) {
		api.writeError(w, r, http.StatusConflict, "version_conflict")
		return
	}
	if rej, ok := domain.AsRejection(err); ok {
		api.writeRejection(w, r, rej)
		return
	}
	api.logger.Error("command failed", "method", r.Method, "path", r.URL.Path, "error", err)
	api.writeError(w, r, http.StatusInternalServerError, "internal_error")
}

func (api *inspectionsAPI) writeRejection(w http.ResponseWriter, r *http.Request, rej *domain.Rejection) {
	status := http.StatusUnprocessableEntity
	switch rej.Code {
	case domain.RejectNotFound:
		status = http.StatusNotFound
	case domain.RejectInvalidTransition, domain.RejectCodeAlreadyBound, domain.RejectRunNotActive:
		status = http.StatusConflict
	case domain.RejectMalformedPayload, domain.RejectInvalidQuantity, domain.RejectIncompatibleRuns:
		status = http.StatusUnprocessableEntity
	}
	api.writeJSON(w, status, map[string]any{
		"error":      "command_rejected",
		"code":       rej.Code,
		"run_id":     rej.RunID,
		"issues":     rej.Issues,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *inspectionsAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *inspectionsAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func requestIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}
