package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	clustererrors "github.com/espulse/espulse/internal/errors"
	"github.com/espulse/espulse/internal/models"
	"github.com/espulse/espulse/internal/monitoring"
)

// ConnectionHandlers manages cluster connection CRUD and polling control.
type ConnectionHandlers struct {
	monitor *monitoring.Monitor
}

// NewConnectionHandlers creates connection handlers.
func NewConnectionHandlers(monitor *monitoring.Monitor) *ConnectionHandlers {
	return &ConnectionHandlers{monitor: monitor}
}

// HandleList returns all configured connections with credentials redacted.
func (h *ConnectionHandlers) HandleList(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.GetConnections())
}

// HandleAdd registers a new cluster connection.
func (h *ConnectionHandlers) HandleAdd(w http.ResponseWriter, req *http.Request) {
	var conn models.ClusterConnection
	if err := json.NewDecoder(req.Body).Decode(&conn); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	added, err := h.monitor.AddConnection(conn)
	if err != nil {
		writeMonitorError(w, err)
		return
	}
	log.Info().Str("id", added.ID).Str("name", added.Name).Msg("Connection added")
	writeJSON(w, http.StatusCreated, added)
}

// HandleUpdate modifies an existing connection. An empty password keeps
// the stored one.
func (h *ConnectionHandlers) HandleUpdate(w http.ResponseWriter, req *http.Request) {
	id := connectionID(req.URL.Path)
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing connection id")
		return
	}

	var conn models.ClusterConnection
	if err := json.NewDecoder(req.Body).Decode(&conn); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	conn.ID = id

	if err := h.monitor.UpdateConnection(conn); err != nil {
		writeMonitorError(w, err)
		return
	}
	log.Info().Str("id", id).Msg("Connection updated")
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// HandleDelete removes a connection. The last remaining one is refused.
func (h *ConnectionHandlers) HandleDelete(w http.ResponseWriter, req *http.Request) {
	id := connectionID(req.URL.Path)
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing connection id")
		return
	}

	if err := h.monitor.DeleteConnection(id); err != nil {
		writeMonitorError(w, err)
		return
	}
	log.Info().Str("id", id).Msg("Connection deleted")
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// HandleActivate switches monitoring to the given connection.
func (h *ConnectionHandlers) HandleActivate(w http.ResponseWriter, req *http.Request) {
	id := connectionID(strings.TrimSuffix(req.URL.Path, "/activate"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing connection id")
		return
	}

	if err := h.monitor.SetActiveConnection(id); err != nil {
		writeMonitorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "activated"})
}

// HandleRetry restarts the health check for a failed connection.
func (h *ConnectionHandlers) HandleRetry(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.monitor.RetryConnection(); err != nil {
		writeMonitorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "retrying"})
}

// HandlePollInterval updates the polling interval. Out-of-range values are
// clamped; the effective value is returned.
func (h *ConnectionHandlers) HandlePollInterval(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		IntervalMs int `json:"interval_ms"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	effective := h.monitor.SetPollInterval(body.IntervalMs)
	writeJSON(w, http.StatusOK, map[string]int{"interval_ms": effective})
}

// CommandHandlers exposes cluster maintenance operations.
type CommandHandlers struct {
	monitor *monitoring.Monitor
}

// NewCommandHandlers creates command handlers.
func NewCommandHandlers(monitor *monitoring.Monitor) *CommandHandlers {
	return &CommandHandlers{monitor: monitor}
}

// HandleFlush issues a synced flush across the cluster.
func (h *CommandHandlers) HandleFlush(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.monitor.Flush(req.Context()); err != nil {
		writeMonitorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleShardAllocation toggles cluster-wide shard allocation.
func (h *CommandHandlers) HandleShardAllocation(w http.ResponseWriter, req *http.Request) {
	h.runToggle(w, req, h.monitor.SetShardAllocation)
}

// HandleShardRebalance toggles cluster-wide shard rebalancing.
func (h *CommandHandlers) HandleShardRebalance(w http.ResponseWriter, req *http.Request) {
	h.runToggle(w, req, h.monitor.SetShardRebalance)
}

// HandleRecoveryThrottle sets the recovery bandwidth cap. An empty value
// resets it to the cluster default.
func (h *CommandHandlers) HandleRecoveryThrottle(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.monitor.SetRecoveryThrottle(req.Context(), body.Value); err != nil {
		writeMonitorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *CommandHandlers) runToggle(w http.ResponseWriter, req *http.Request, fn func(ctx context.Context, enabled bool) error) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := fn(req.Context(), body.Enabled); err != nil {
		writeMonitorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// connectionID extracts the id segment from /api/connections/{id} paths.
func connectionID(path string) string {
	id := strings.TrimPrefix(path, "/api/connections/")
	id = strings.Trim(id, "/")
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeMonitorError maps monitor and cluster errors onto HTTP statuses.
func writeMonitorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, monitoring.ErrConnectionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, monitoring.ErrDuplicateName), errors.Is(err, monitoring.ErrLastConnection):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, clustererrors.ErrNoConnection):
		writeError(w, http.StatusConflict, err.Error())
	case clustererrors.IsConfig(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case clustererrors.IsConnectivity(err), clustererrors.IsTimeout(err):
		writeError(w, http.StatusBadGateway, err.Error())
	case clustererrors.TypeOf(err) == clustererrors.ErrorTypeAPI:
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}
