// Package api exposes the monitor over HTTP: cluster state, connection
// management, and maintenance commands.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/espulse/espulse/internal/config"
	"github.com/espulse/espulse/internal/monitoring"
	"github.com/espulse/espulse/internal/websocket"
)

// Version is set by the main package at startup (build-time ldflags).
var Version = "dev"

// Router handles HTTP routing.
type Router struct {
	mux     *http.ServeMux
	config  *config.Config
	monitor *monitoring.Monitor
	wsHub   *websocket.Hub
}

// NewRouter creates a new router instance.
func NewRouter(cfg *config.Config, monitor *monitoring.Monitor, wsHub *websocket.Hub) http.Handler {
	r := &Router{
		mux:     http.NewServeMux(),
		config:  cfg,
		monitor: monitor,
		wsHub:   wsHub,
	}
	r.setupRoutes()
	return r
}

// setupRoutes configures all routes.
func (r *Router) setupRoutes() {
	connHandlers := NewConnectionHandlers(r.monitor)
	commandHandlers := NewCommandHandlers(r.monitor)

	r.mux.HandleFunc("/api/health", r.handleHealth)
	r.mux.HandleFunc("/api/version", r.handleVersion)
	r.mux.HandleFunc("/api/state", r.handleState)
	r.mux.HandleFunc("/api/status", r.handleStatus)
	r.mux.HandleFunc("/api/history", r.handleHistory)
	r.mux.HandleFunc("/api/upgrade-plan", r.handleUpgradePlan)

	r.mux.HandleFunc("/api/connections", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			connHandlers.HandleList(w, req)
		case http.MethodPost:
			connHandlers.HandleAdd(w, req)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	r.mux.HandleFunc("/api/connections/", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodPut:
			connHandlers.HandleUpdate(w, req)
		case http.MethodDelete:
			connHandlers.HandleDelete(w, req)
		case http.MethodPost:
			if strings.HasSuffix(req.URL.Path, "/activate") {
				connHandlers.HandleActivate(w, req)
			} else {
				http.Error(w, "Not found", http.StatusNotFound)
			}
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	r.mux.HandleFunc("/api/retry", connHandlers.HandleRetry)
	r.mux.HandleFunc("/api/poll-interval", connHandlers.HandlePollInterval)

	r.mux.HandleFunc("/api/commands/flush", commandHandlers.HandleFlush)
	r.mux.HandleFunc("/api/commands/shard-allocation", commandHandlers.HandleShardAllocation)
	r.mux.HandleFunc("/api/commands/shard-rebalance", commandHandlers.HandleShardRebalance)
	r.mux.HandleFunc("/api/commands/recovery-throttle", commandHandlers.HandleRecoveryThrottle)

	if r.wsHub != nil {
		r.mux.HandleFunc("/ws", r.wsHub.HandleWebSocket)
	}
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if strings.HasPrefix(req.URL.Path, "/api/") {
		w.Header().Set("X-Content-Type-Options", "nosniff")
	}

	start := time.Now()
	r.mux.ServeHTTP(w, req)
	log.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Dur("duration", time.Since(start)).
		Msg("Request handled")
}

// handleHealth handles liveness requests for the monitor process itself.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

// handleVersion reports the build version.
func (r *Router) handleVersion(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"version": Version,
		"runtime": "go",
	})
}

// handleState returns the latest monitoring snapshot, or null when none
// has been published yet.
func (r *Router) handleState(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, r.monitor.GetSnapshot())
}

// handleStatus returns the connection status summary.
func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, r.monitor.GetStatus())
}

// handleHistory returns the health history for the active connection.
func (r *Router) handleHistory(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, r.monitor.GetHistory())
}

// handleUpgradePlan returns nodes in recommended upgrade order.
func (r *Router) handleUpgradePlan(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, r.monitor.GetUpgradePlan())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
