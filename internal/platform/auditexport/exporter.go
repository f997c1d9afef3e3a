package auditexport

import (
	"context"
	"encoding/json"
	"net"
	"time"
)

// Event is a stored audit record ready for handoff to an external sink.
type Event struct {
	EventID         int64
	OccurredAt      time.Time
	Actor           string
	Action          string
	ResourceType    string
	ResourceID      string
	RequestID       string
	IP              net.IP
	UserAgent       string
	Payload         json.RawMessage
	IntegritySHA256 string
}

// Exporter sends audit events to external systems.
type Exporter interface {
	Export(ctx context.Context, event Event) error
}

// NoopExporter is a stub exporter for append-only pipelines.
type NoopExporter struct{}

func (NoopExporter) Export(ctx context.Context, event Event) error {
	return nil
}
