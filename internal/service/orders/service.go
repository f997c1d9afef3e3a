package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/packline-labs/packline-go/internal/domain"
	"github.com/packline-labs/packline-go/internal/inspection/collection"
	"github.com/packline-labs/packline-go/internal/inspection/pipeline"
	"github.com/packline-labs/packline-go/internal/platform/auditlog"
	"github.com/packline-labs/packline-go/internal/platform/lineageevent"
	"github.com/packline-labs/packline-go/internal/repo"
)

// Service applies inspection commands to the persisted run collection of one
// order: read the record, apply the command to the decoded snapshot, write
// the new document under the version read. A concurrent writer surfaces as
// repo.ErrVersionConflict; retry policy stays with the caller.
type Service struct {
	collections repo.CollectionRepository
	pipelines   *pipeline.Registry
	ids         collection.IDSource
	clock       func() time.Time
}

// AuditInfo identifies the command issuer for audit and lineage records.
type AuditInfo struct {
	Actor     string
	RequestID string
	IP        net.IP
	UserAgent string
	Service   string
}

// Outcome is the result of one applied command.
type Outcome struct {
	Snapshot      collection.Snapshot
	Version       int64
	MutatedRunIDs []string
	Duplicate     bool
}

func New(collections repo.CollectionRepository, pipelines *pipeline.Registry, ids collection.IDSource) *Service {
	if collections == nil || ids == nil {
		return nil
	}
	if pipelines == nil {
		pipelines = pipeline.NewRegistry()
	}
	return &Service{
		collections: collections,
		pipelines:   pipelines,
		ids:         ids,
		clock:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Tests only.
func (s *Service) WithClock(clock func() time.Time) *Service {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// Snapshot loads the current collection for an order.
func (s *Service) Snapshot(ctx context.Context, orderID string) (collection.Snapshot, int64, error) {
	record, err := s.collections.Get(ctx, orderID)
	if err != nil {
		return collection.Snapshot{}, 0, err
	}
	snapshot, err := collection.Decode(record.Doc)
	if err != nil {
		return collection.Snapshot{}, 0, fmt.Errorf("order %s: %w", orderID, err)
	}
	return snapshot, record.Version, nil
}

// CreateRuns starts inspection for an order: creates the collection document
// if the order has none yet, then appends one run per spec.
func (s *Service) CreateRuns(ctx context.Context, orderID, phase string, specs []collection.RunSpec, info AuditInfo) (Outcome, error) {
	now := s.clock()
	snapshot, version, err := s.Snapshot(ctx, orderID)
	created := false
	if errors.Is(err, repo.ErrNotFound) {
		if strings.TrimSpace(phase) == "" {
			phase = pipeline.DefaultPhase
		}
		resolved, ok := s.pipelines.Resolve(phase)
		if !ok {
			return Outcome{}, fmt.Errorf("unknown workflow phase %q", phase)
		}
		snapshot = collection.New(orderID, resolved)
		created = true
	} else if err != nil {
		return Outcome{}, err
	}

	next, result, err := snapshot.CreateRuns(specs, info.Actor, now, s.ids)
	if err != nil {
		return Outcome{}, err
	}

	doc, err := collection.Encode(next)
	if err != nil {
		return Outcome{}, err
	}
	var newVersion int64
	if created {
		newVersion, err = s.collections.Create(ctx, orderID, next.Pipeline.Phase, doc)
	} else {
		newVersion, err = s.collections.Put(ctx, orderID, doc, version)
	}
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Snapshot: next, Version: newVersion, MutatedRunIDs: result.MutatedRunIDs}, nil
}

// RecordStep applies one step submission. A duplicate idempotency key is a
// success echo: the stored snapshot is returned without a write.
func (s *Service) RecordStep(ctx context.Context, orderID, runID string, stepID domain.StepID, payload json.RawMessage, outcome domain.StepOutcome, idempotencyKey string, info AuditInfo) (Outcome, error) {
	return s.apply(ctx, orderID, func(snapshot collection.Snapshot, now time.Time) (collection.Snapshot, collection.Result, error) {
		return snapshot.RecordStep(runID, stepID, payload, outcome, idempotencyKey, info.Actor, now)
	})
}

func (s *Service) Hold(ctx context.Context, orderID, runID, reason string, info AuditInfo) (Outcome, error) {
	return s.apply(ctx, orderID, func(snapshot collection.Snapshot, now time.Time) (collection.Snapshot, collection.Result, error) {
		return snapshot.Hold(runID, reason, info.Actor, now)
	})
}

func (s *Service) Release(ctx context.Context, orderID, runID string, info AuditInfo) (Outcome, error) {
	return s.apply(ctx, orderID, func(snapshot collection.Snapshot, now time.Time) (collection.Snapshot, collection.Result, error) {
		return snapshot.Release(runID, info.Actor, now)
	})
}

func (s *Service) Cancel(ctx context.Context, orderID, runID, reason string, info AuditInfo) (Outcome, error) {
	return s.apply(ctx, orderID, func(snapshot collection.Snapshot, now time.Time) (collection.Snapshot, collection.Result, error) {
		return snapshot.Cancel(runID, reason, info.Actor, now)
	})
}

func (s *Service) BindToCode(ctx context.Context, orderID, runID, codeRef string, info AuditInfo) (Outcome, error) {
	return s.apply(ctx, orderID, func(snapshot collection.Snapshot, now time.Time) (collection.Snapshot, collection.Result, error) {
		return snapshot.BindToCode(runID, codeRef, info.Actor, now)
	})
}

func (s *Service) Split(ctx context.Context, orderID, runID string, quantity int, info AuditInfo) (Outcome, error) {
	return s.apply(ctx, orderID, func(snapshot collection.Snapshot, now time.Time) (collection.Snapshot, collection.Result, error) {
		return snapshot.Split(runID, quantity, info.Actor, now, s.ids)
	})
}

func (s *Service) Group(ctx context.Context, orderID string, runIDs []string, info AuditInfo) (Outcome, error) {
	return s.apply(ctx, orderID, func(snapshot collection.Snapshot, now time.Time) (collection.Snapshot, collection.Result, error) {
		return snapshot.Group(runIDs, info.Actor, now, s.ids)
	})
}

type commandFunc func(snapshot collection.Snapshot, now time.Time) (collection.Snapshot, collection.Result, error)

func (s *Service) apply(ctx context.Context, orderID string, command commandFunc) (Outcome, error) {
	now := s.clock()
	snapshot, version, err := s.Snapshot(ctx, orderID)
	if err != nil {
		return Outcome{}, err
	}

	next, result, err := command(snapshot, now)
	if err != nil {
		return Outcome{}, err
	}
	if result.Duplicate {
		return Outcome{Snapshot: snapshot, Version: version, MutatedRunIDs: result.MutatedRunIDs, Duplicate: true}, nil
	}

	doc, err := collection.Encode(next)
	if err != nil {
		return Outcome{}, err
	}
	newVersion, err := s.collections.Put(ctx, orderID, doc, version)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Snapshot: next, Version: newVersion, MutatedRunIDs: result.MutatedRunIDs}, nil
}

// AppendCommandAudit records one accepted command in the audit log.
func (s *Service) AppendCommandAudit(ctx context.Context, q auditlog.QueryRower, info AuditInfo, orderID, action string, runIDs []string) error {
	if q == nil {
		return errors.New("audit queryer is required")
	}
	if strings.TrimSpace(info.Actor) == "" {
		return errors.New("audit actor is required")
	}
	_, err := auditlog.Insert(ctx, q, auditlog.Event{
		OccurredAt:   s.clock(),
		Actor:        info.Actor,
		Action:       action,
		ResourceType: "inspection_collection",
		ResourceID:   orderID,
		RequestID:    info.RequestID,
		IP:           info.IP,
		UserAgent:    info.UserAgent,
		Payload: map[string]any{
			"service": info.Service,
			"run_ids": runIDs,
		},
	})
	return err
}

// AppendLineageEvents records split/group ancestry edges. The first mutated
// id of a split is the parent and the second the child; for group the first
// is the merged result and the rest are sources.
func (s *Service) AppendLineageEvents(ctx context.Context, q lineageevent.QueryRower, info AuditInfo, orderID, predicate string, subjectID string, objectIDs []string) error {
	if q == nil {
		return errors.New("lineage queryer is required")
	}
	for _, objectID := range objectIDs {
		_, err := lineageevent.Insert(ctx, q, lineageevent.Event{
			OccurredAt:  s.clock(),
			Actor:       info.Actor,
			RequestID:   info.RequestID,
			SubjectType: "inspection_run",
			SubjectID:   subjectID,
			Predicate:   predicate,
			ObjectType:  "inspection_run",
			ObjectID:    objectID,
			Metadata:    map[string]any{"order_id": orderID},
		})
		if err != nil {
			return err
		}
	}
	return nil
}
