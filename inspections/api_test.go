package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/packline-labs/packline-go/internal/domain"
	"github.com/packline-labs/packline-go/internal/inspection/collection"
	"github.com/packline-labs/packline-go/internal/inspection/pipeline"
	"github.com/packline-labs/packline-go/internal/repo"
)

func testAPI() *inspectionsAPI {
	return &inspectionsAPI{
		logger:     slog.New(slog.DiscardHandler),
		presignTTL: 15 * time.Minute,
	}
}

func TestWriteCommandErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "order missing", err: repo.ErrNotFound, wantStatus: http.StatusNotFound},
		{name: "version conflict", err: repo.ErrVersionConflict, wantStatus: http.StatusConflict},
		{name: "run missing", err: domain.Reject(domain.RejectNotFound, "run-1", "run not found"), wantStatus: http.StatusNotFound},
		{name: "invalid transition", err: domain.Reject(domain.RejectInvalidTransition, "run-1", "run is completed"), wantStatus: http.StatusConflict},
		{name: "code already bound", err: domain.Reject(domain.RejectCodeAlreadyBound, "run-1", "taken"), wantStatus: http.StatusConflict},
		{name: "run not active", err: domain.Reject(domain.RejectRunNotActive, "run-1", "held"), wantStatus: http.StatusConflict},
		{name: "malformed payload", err: domain.Reject(domain.RejectMalformedPayload, "run-1", "bad"), wantStatus: http.StatusUnprocessableEntity},
		{name: "invalid quantity", err: domain.Reject(domain.RejectInvalidQuantity, "run-1", "too many"), wantStatus: http.StatusUnprocessableEntity},
		{name: "incompatible runs", err: domain.Reject(domain.RejectIncompatibleRuns, "run-1", "mixed types"), wantStatus: http.StatusUnprocessableEntity},
		{name: "wrapped rejection", err: fmt.Errorf("apply: %w", domain.Reject(domain.RejectInvalidQuantity, "run-1", "zero")), wantStatus: http.StatusUnprocessableEntity},
		{name: "plain error", err: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			api := testAPI()
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord-1/runs/run-1/split", nil)
			req.Header.Set("X-Request-Id", "req-1")

			api.writeCommandError(rec, req, tc.err)

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["request_id"] != "req-1" {
				t.Fatalf("request_id = %v", body["request_id"])
			}
		})
	}
}

func TestWriteRejectionBody(t *testing.T) {
	api := testAPI()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord-1/runs/run-1/split", nil)

	api.writeRejection(rec, req, domain.Reject(domain.RejectInvalidQuantity, "run-1", "split quantity must satisfy 0 < quantity < 4 (got 9)"))

	var body struct {
		Error  string   `json:"error"`
		Code   string   `json:"code"`
		RunID  string   `json:"run_id"`
		Issues []string `json:"issues"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "command_rejected" || body.Code != string(domain.RejectInvalidQuantity) || body.RunID != "run-1" {
		t.Fatalf("body = %+v", body)
	}
	if len(body.Issues) != 1 {
		t.Fatalf("issues = %v", body.Issues)
	}
}

func TestCollectionBodyOmitsRetiredRuns(t *testing.T) {
	ids := sequentialIDs()
	snapshot, result, err := collection.New("ord-1", pipeline.Default()).CreateRuns([]collection.RunSpec{
		{ContainerType: "drum", ContainerCount: 2},
		{ContainerType: "drum", ContainerCount: 3},
	}, "qa", time.Now().UTC(), ids)
	if err != nil {
		t.Fatalf("CreateRuns: %v", err)
	}
	snapshot, result, err = snapshot.Group(result.MutatedRunIDs, "qa", time.Now().UTC(), ids)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}

	body := collectionBody(snapshot, 3, result.MutatedRunIDs, false)
	if body.OrderID != "ord-1" || body.Version != 3 {
		t.Fatalf("body = %+v", body)
	}
	if len(body.Runs) != 1 {
		t.Fatalf("runs = %d, want only the merged run", len(body.Runs))
	}
	if body.Runs[0].ContainerCount != 5 {
		t.Fatalf("merged count = %d, want 5", body.Runs[0].ContainerCount)
	}
}

type countingIDs struct{ n int }

func (c *countingIDs) NewID() string {
	c.n++
	return fmt.Sprintf("run-%d", c.n)
}

func sequentialIDs() collection.IDSource { return &countingIDs{} }
