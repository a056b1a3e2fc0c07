package health

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPHandler serves the probe endpoints on the admin port.
type HTTPHandler struct {
	manager *Manager
	logger  *zap.Logger
}

// NewHTTPHandler creates a handler backed by the given manager.
func NewHTTPHandler(manager *Manager, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{manager: manager, logger: logger}
}

// RegisterRoutes mounts the health endpoints on mux.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/health/ready", h.handleReady)
	mux.HandleFunc("/health/live", h.handleLive)
	mux.HandleFunc("/health/detailed", h.handleDetailed)
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	report := h.manager.Probe(r.Context())
	h.writeJSON(w, httpStatus(report.Overall.Status), map[string]any{
		"status":    report.Overall.Status,
		"message":   report.Overall.Message,
		"ready":     report.Overall.Ready,
		"live":      report.Overall.Live,
		"timestamp": report.Timestamp.Unix(),
	})
}

func (h *HTTPHandler) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ready := h.manager.Ready(r.Context())
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, map[string]any{
		"ready":     ready,
		"timestamp": time.Now().Unix(),
	})
}

func (h *HTTPHandler) handleLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	live := h.manager.Live(r.Context())
	code := http.StatusOK
	if !live {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, map[string]any{
		"live":      live,
		"timestamp": time.Now().Unix(),
	})
}

// handleDetailed returns per-component results. Pass ?cached=true to serve
// the background prober's last results without touching dependencies.
func (h *HTTPHandler) handleDetailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var report Report
	if r.URL.Query().Get("cached") == "true" {
		report = h.manager.Snapshot()
	} else {
		report = h.manager.Probe(r.Context())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(report.Overall.Status))
	if err := json.NewEncoder(w).Encode(report); err != nil {
		h.logger.Error("Failed to encode health report", zap.Error(err))
	}
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, code int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, code int, message string) {
	h.writeJSON(w, code, map[string]any{
		"error":     message,
		"timestamp": time.Now().Unix(),
	})
}

func httpStatus(s Status) int {
	switch s {
	case StatusHealthy, StatusDegraded:
		return http.StatusOK
	default:
		return http.StatusServiceUnavailable
	}
}
