package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/packline-labs/packline-go/internal/platform/auditexport"
)

type auditAPI struct {
	logger    *slog.Logger
	db        *sql.DB
	exportCfg auditexport.Config
}

func newAuditAPI(logger *slog.Logger, db *sql.DB, exportCfg auditexport.Config) *auditAPI {
	return &auditAPI{
		logger:    logger,
		db:        db,
		exportCfg: exportCfg,
	}
}

func (api *auditAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /events", api.handleListEvents)
	mux.HandleFunc("GET /events/{event_id}", api.handleGetEvent)
	mux.HandleFunc("POST /export", api.handleExport)
	mux.HandleFunc("GET /lineage/events", api.handleListLineageEvents)
	mux.HandleFunc("GET /lineage/runs/{run_id}/graph", api.handleRunGraph)
}

type auditEvent struct {
	EventID         int64           `json:"event_id"`
	OccurredAt      time.Time       `json:"occurred_at"`
	Actor           string          `json:"actor"`
	Action          string          `json:"action"`
	ResourceType    string          `json:"resource_type"`
	ResourceID      string          `json:"resource_id"`
	RequestID       string          `json:"request_id,omitempty"`
	IP              string          `json:"ip,omitempty"`
	UserAgent       string          `json:"user_agent,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	IntegritySHA256 string          `json:"integrity_sha256"`
}

func (api *auditAPI) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(parseIntQuery(r, "limit", 100), 1, 500)
	beforeID := parseInt64Query(r, "before_event_id", 0)

	actor := strings.TrimSpace(r.URL.Query().Get("actor"))
	action := strings.TrimSpace(r.URL.Query().Get("action"))
	resourceType := strings.TrimSpace(r.URL.Query().Get("resource_type"))
	resourceID := strings.TrimSpace(r.URL.Query().Get("resource_id"))
	requestID := strings.TrimSpace(r.URL.Query().Get("request_id"))

	where := make([]string, 0, 6)
	args := make([]any, 0, 8)

	if beforeID > 0 {
		args = append(args, beforeID)
		where = append(where, "event_id < $"+strconv.Itoa(len(args)))
	}
	if actor != "" {
		args = append(args, actor)
		where = append(where, "actor = $"+strconv.Itoa(len(args)))
	}
	if action != "" {
		args = append(args, action)
		where = append(where, "action = $"+strconv.Itoa(len(args)))
	}
	if resourceType != "" {
		args = append(args, resourceType)
		where = append(where, "resource_type = $"+strconv.Itoa(len(args)))
	}
	if resourceID != "" {
		args = append(args, resourceID)
		where = append(where, "resource_id = $"+strconv.Itoa(len(args)))
	}
	if requestID != "" {
		args = append(args, requestID)
		where = append(where, "request_id = $"+strconv.Itoa(len(args)))
	}

	args = append(args, limit)
	query := `SELECT event_id, occurred_at, actor, action, resource_type, resource_id, request_id, ip, user_agent, payload, integrity_sha256
		FROM audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY event_id DESC LIMIT $" + strconv.Itoa(len(args))

	rows, err := api.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	defer rows.Close()

	events := make([]auditEvent, 0, limit)
	for rows.Next() {
		ev, err := scanAuditEvent(rows)
		if err != nil {
			api.writeError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	resp := map[string]any{"events": events}
	if len(events) > 0 {
		resp["next_before_event_id"] = events[len(events)-1].EventID
	}
	api.writeJSON(w, http.StatusOK, resp)
}

func (api *auditAPI) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	rawID := strings.TrimSpace(r.PathValue("event_id"))
	if rawID == "" {
		api.writeError(w, r, http.StatusBadRequest, "event_id_required")
		return
	}
	eventID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || eventID <= 0 {
		api.writeError(w, r, http.StatusBadRequest, "event_id_required")
		return
	}

	row := api.db.QueryRowContext(
		r.Context(),
		`SELECT event_id, occurred_at, actor, action, resource_type, resource_id, request_id, ip, user_agent, payload, integrity_sha256
		 FROM audit_events
		 WHERE event_id = $1`,
		eventID,
	)
	ev, err := scanAuditEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.writeJSON(w, http.StatusOK, ev)
}

type exportRequest struct {
	OrderID   string     `json:"order_id"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

func (api *auditAPI) handleExport(w http.ResponseWriter, r *http.Request) {
	if api == nil || api.db == nil {
		api.writeError(w, r, http.StatusServiceUnavailable, "export_unavailable")
		return
	}

	if err := api.exportCfg.Validate(); err != nil {
		api.writeError(w, r, http.StatusNotImplemented, "export_not_configured")
		return
	}
	if strings.ToLower(strings.TrimSpace(api.exportCfg.Destination)) != "http" {
		api.writeError(w, r, http.StatusNotImplemented, "export_destination_unsupported")
		return
	}
	if strings.ToLower(strings.TrimSpace(api.exportCfg.Format)) != "ndjson" {
		api.writeError(w, r, http.StatusNotImplemented, "export_format_unsupported")
		return
	}

	var req exportRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		api.writeError(w, r, http.StatusBadRequest, "order_id_required")
		return
	}
	if req.StartTime != nil && req.EndTime != nil && req.EndTime.Before(*req.StartTime) {
		api.writeError(w, r, http.StatusBadRequest, "invalid_time_range")
		return
	}

	query, args := buildExportQuery(orderID, req.StartTime, req.EndTime)
	rows, err := api.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	defer rows.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	exporter := auditexport.NewNDJSONExporter(w)
	for rows.Next() {
		ev, err := scanAuditEvent(rows)
		if err != nil {
			return
		}
		if err := exporter.Export(r.Context(), exportEventFromResponse(ev)); err != nil {
			return
		}
	}
}

// buildExportQuery scopes the export to one order: collection commands record
// the order as the audit resource id.
func buildExportQuery(orderID string, startTime *time.Time, endTime *time.Time) (string, []any) {
	clauses := []string{"resource_type = 'inspection_collection'", "resource_id = $1"}
	args := []any{orderID}

	if startTime != nil {
		args = append(args, startTime.UTC())
		clauses = append(clauses, "occurred_at >= $"+strconv.Itoa(len(args)))
	}
	if endTime != nil {
		args = append(args, endTime.UTC())
		clauses = append(clauses, "occurred_at <= $"+strconv.Itoa(len(args)))
	}

	query := `SELECT event_id, occurred_at, actor, action, resource_type, resource_id, request_id, ip, user_agent, payload, integrity_sha256
		FROM audit_events
		WHERE ` + strings.Join(clauses, " AND ")
	query += " ORDER BY event_id ASC"
	return query, args
}

type lineageEvent struct {
	EventID     int64           `json:"event_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Actor       string          `json:"actor"`
	RequestID   string          `json:"request_id,omitempty"`
	SubjectType string          `json:"subject_type"`
	SubjectID   string          `json:"subject_id"`
	Predicate   string          `json:"predicate"`
	ObjectType  string          `json:"object_type"`
	ObjectID    string          `json:"object_id"`
	Metadata    json.RawMessage `json:"metadata"`
}

func (api *auditAPI) handleListLineageEvents(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(parseIntQuery(r, "limit", 100), 1, 500)
	beforeID := parseInt64Query(r, "before_event_id", 0)

	subjectType := strings.TrimSpace(r.URL.Query().Get("subject_type"))
	subjectID := strings.TrimSpace(r.URL.Query().Get("subject_id"))
	objectType := strings.TrimSpace(r.URL.Query().Get("object_type"))
	objectID := strings.TrimSpace(r.URL.Query().Get("object_id"))
	predicate := strings.TrimSpace(r.URL.Query().Get("predicate"))

	where := make([]string, 0, 6)
	args := make([]any, 0, 8)

	if beforeID > 0 {
		args = append(args, beforeID)
		where = append(where, "event_id < $"+strconv.Itoa(len(args)))
	}
	if subjectType != "" {
		args = append(args, subjectType)
		where = append(where, "subject_type = $"+strconv.Itoa(len(args)))
	}
	if subjectID != "" {
		args = append(args, subjectID)
		where = append(where, "subject_id = $"+strconv.Itoa(len(args)))
	}
	if objectType != "" {
		args = append(args, objectType)
		where = append(where, "object_type = $"+strconv.Itoa(len(args)))
	}
	if objectID != "" {
		args = append(args, objectID)
		where = append(where, "object_id = $"+strconv.Itoa(len(args)))
	}
	if predicate != "" {
		args = append(args, predicate)
		where = append(where, "predicate = $"+strconv.Itoa(len(args)))
	}

	args = append(args, limit)
	query := `SELECT event_id, occurred_at, actor, request_id, subject_type, subject_id, predicate, object_type, object_id, metadata
		FROM lineage_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY event_id DESC LIMIT $" + strconv.Itoa(len(args))

	rows, err := api.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	defer rows.Close()

	events := make([]lineageEvent, 0, limit)
	for rows.Next() {
		var (
			ev          lineageEvent
			requestID   sql.NullString
			metadataRaw []byte
		)
		if err := rows.Scan(&ev.EventID, &ev.OccurredAt, &ev.Actor, &requestID, &ev.SubjectType, &ev.SubjectID, &ev.Predicate, &ev.ObjectType, &ev.ObjectID, &metadataRaw); err != nil {
			api.writeError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}
		ev.RequestID = strings.TrimSpace(requestID.String)
		ev.Metadata = normalizeJSON(metadataRaw)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	resp := map[string]any{"events": events}
	if len(events) > 0 {
		resp["next_before_event_id"] = events[len(events)-1].EventID
	}
	api.writeJSON(w, http.StatusOK, resp)
}

type lineageNode struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// handleRunGraph walks split/group ancestry around one inspection run.
func (api *auditAPI) handleRunGraph(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}

	depth := clampInt(parseIntQuery(r, "depth", 3), 1, 5)
	maxEdges := clampInt(parseIntQuery(r, "max_edges", 2000), 1, 5000)

	graph, err := api.buildRunGraph(r.Context(), lineageNode{Type: "inspection_run", ID: runID}, depth, maxEdges)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, graph)
}

type graphResponse struct {
	Root  lineageNode    `json:"root"`
	Nodes []lineageNode  `json:"nodes"`
	Edges []lineageEvent `json:"edges"`
}

type nodeKey struct {
	Type string
	ID   string
}

func (api *auditAPI) buildRunGraph(ctx context.Context, root lineageNode, depth int, maxEdges int) (graphResponse, error) {
	rootKey := nodeKey{Type: strings.TrimSpace(root.Type), ID: strings.TrimSpace(root.ID)}
	if rootKey.Type == "" || rootKey.ID == "" {
		return graphResponse{}, errors.New("root is required")
	}

	type queueItem struct {
		Node  nodeKey
		Depth int
	}

	nodes := map[nodeKey]struct{}{rootKey: {}}
	visited := map[nodeKey]struct{}{rootKey: {}}
	edgesByID := make(map[int64]struct{})
	edges := make([]lineageEvent, 0, 64)

	queue := []queueItem{{Node: rootKey, Depth: 0}}
	for len(queue) > 0 && len(edges) < maxEdges {
		item := queue[0]
		queue = queue[1:]

		if item.Depth >= depth {
			continue
		}

		remaining := maxEdges - len(edges)
		perNodeLimit := remaining
		if perNodeLimit > 500 {
			perNodeLimit = 500
		}

		rows, err := api.db.QueryContext(
			ctx,
			`SELECT event_id, occurred_at, actor, request_id, subject_type, subject_id, predicate, object_type, object_id, metadata
			 FROM lineage_events
			 WHERE (subject_type = $1 AND subject_id = $2) OR (object_type = $1 AND object_id = $2)
			 ORDER BY event_id DESC
			 LIMIT $3`,
			item.Node.Type,
			item.Node.ID,
			perNodeLimit,
		)
		if err != nil {
			return graphResponse{}, err
		}

		for rows.Next() {
			var (
				ev          lineageEvent
				requestID   sql.NullString
				metadataRaw []byte
			)
			if err := rows.Scan(&ev.EventID, &ev.OccurredAt, &ev.Actor, &requestID, &ev.SubjectType, &ev.SubjectID, &ev.Predicate, &ev.ObjectType, &ev.ObjectID, &metadataRaw); err != nil {
				rows.Close()
				return graphResponse{}, err
			}

			if _, ok := edgesByID[ev.EventID]; ok {
				continue
			}
			edgesByID[ev.EventID] = struct{}{}
			ev.RequestID = strings.TrimSpace(requestID.String)
			ev.Metadata = normalizeJSON(metadataRaw)
			edges = append(edges, ev)

			subj := nodeKey{Type: strings.TrimSpace(ev.SubjectType), ID: strings.TrimSpace(ev.SubjectID)}
			obj := nodeKey{Type: strings.TrimSpace(ev.ObjectType), ID: strings.TrimSpace(ev.ObjectID)}

			if subj.Type != "" && subj.ID != "" {
				nodes[subj] = struct{}{}
				if _, ok := visited[subj]; !ok {
					visited[subj] = struct{}{}
					queue = append(queue, queueItem{Node: subj, Depth: item.Depth + 1})
				}
			}
			if obj.Type != "" && obj.ID != "" {
				nodes[obj] = struct{}{}
				if _, ok := visited[obj]; !ok {
					visited[obj] = struct{}{}
					queue = append(queue, queueItem{Node: obj, Depth: item.Depth + 1})
				}
			}

			if len(edges) >= maxEdges {
				break
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return graphResponse{}, err
		}
		rows.Close()
	}

	nodeList := make([]lineageNode, 0, len(nodes))
	for nk := range nodes {
		nodeList = append(nodeList, lineageNode{Type: nk.Type, ID: nk.ID})
	}
	sort.Slice(nodeList, func(i, j int) bool {
		if nodeList[i].Type == nodeList[j].Type {
			return nodeList[i].ID < nodeList[j].ID
		}
		return nodeList[i].Type < nodeList[j].Type
	})
	sort.Slice(edges, func(i, j int) bool { return edges[i].EventID > edges[j].EventID })

	return graphResponse{
		Root:  root,
		Nodes: nodeList,
		Edges: edges,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuditEvent(row rowScanner) (auditEvent, error) {
	var (
		ev         auditEvent
		reqID      sql.NullString
		ip         sql.NullString
		userAgent  sql.NullString
		payloadRaw []byte
	)
	err := row.Scan(
		&ev.EventID,
		&ev.OccurredAt,
		&ev.Actor,
		&ev.Action,
		&ev.ResourceType,
		&ev.ResourceID,
		&reqID,
		&ip,
		&userAgent,
		&payloadRaw,
		&ev.IntegritySHA256,
	)
	if err != nil {
		return auditEvent{}, err
	}
	ev.RequestID = strings.TrimSpace(reqID.String)
	ev.IP = strings.TrimSpace(ip.String)
	ev.UserAgent = strings.TrimSpace(userAgent.String)
	ev.Payload = normalizeJSON(payloadRaw)
	return ev, nil
}

func exportEventFromResponse(ev auditEvent) auditexport.Event {
	return auditexport.Event{
		EventID:         ev.EventID,
		OccurredAt:      ev.OccurredAt,
		Actor:           ev.Actor,
		Action:          ev.Action,
		ResourceType:    ev.ResourceType,
		ResourceID:      ev.ResourceID,
		RequestID:       ev.RequestID,
		IP:              net.ParseIP(ev.IP),
		UserAgent:       ev.UserAgent,
		Payload:         ev.Payload,
		IntegritySHA256: ev.IntegritySHA256,
	}
}

func (api *auditAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *auditAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err == nil {
		return errors.New("multiple JSON values")
	}
	return nil
}

func normalizeJSON(raw []byte) json.RawMessage {
	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) == 0 || string(raw) == "null" {
		return []byte("{}")
	}
	return raw
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func parseInt64Query(r *http.Request, key string, def int64) int64 {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func clampInt(v int, min int, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
