package auditexport

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"
)

func TestNDJSONExporterWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	exporter := NewNDJSONExporter(&buf)

	events := []Event{
		{
			EventID:         1,
			OccurredAt:      time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
			Actor:           "inspector@packline.dev",
			Action:          "inspection.record_step",
			ResourceType:    "inspection_collection",
			ResourceID:      "ord-100",
			RequestID:       "req-1",
			IP:              net.ParseIP("10.0.0.7"),
			UserAgent:       "packline-cli/1.0",
			Payload:         json.RawMessage(`{"run_ids":["run-1"]}`),
			IntegritySHA256: "abc123",
		},
		{
			EventID:      2,
			OccurredAt:   time.Date(2026, 3, 14, 9, 1, 0, 0, time.UTC),
			Actor:        "inspector@packline.dev",
			Action:       "inspection.hold",
			ResourceType: "inspection_collection",
			ResourceID:   "ord-100",
		},
	}
	for _, ev := range events {
		if err := exporter.Export(context.Background(), ev); err != nil {
			t.Fatalf("export: %v", err)
		}
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("first line is not JSON: %v", err)
	}
	if first["event_id"] != float64(1) {
		t.Fatalf("event_id = %v", first["event_id"])
	}
	if first["occurred_at"] != "2026-03-14T09:00:00Z" {
		t.Fatalf("occurred_at = %v", first["occurred_at"])
	}
	if first["ip"] != "10.0.0.7" {
		t.Fatalf("ip = %v", first["ip"])
	}

	var second map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("second line is not JSON: %v", err)
	}
	if _, ok := second["ip"]; ok {
		t.Fatalf("empty ip should be omitted: %v", second)
	}
	if second["payload"] != nil {
		if payload, ok := second["payload"].(map[string]any); !ok || len(payload) != 0 {
			t.Fatalf("empty payload should encode as {}: %v", second["payload"])
		}
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "defaults", cfg: Config{}},
		{name: "explicit", cfg: Config{Format: "ndjson", Destination: "http"}},
		{name: "case insensitive", cfg: Config{Format: "NDJSON", Destination: "HTTP"}},
		{name: "bad format", cfg: Config{Format: "csv"}, wantErr: true},
		{name: "bad destination", cfg: Config{Destination: "s3"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
