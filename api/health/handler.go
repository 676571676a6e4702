package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/bmcpi/varstore/internal/backend"
)

// handler handles health check requests.
type handler struct {
	logger    *slog.Logger
	gitRev    string
	startTime time.Time
	stores    backend.StoreInspector
}

// New creates a new health handler. When stores is set the check fails
// while no variable store is loaded.
func New(logger *slog.Logger, gitRev string, startTime time.Time, stores backend.StoreInspector) http.Handler {
	return &handler{
		logger:    logger,
		gitRev:    gitRev,
		startTime: startTime,
		stores:    stores,
	}
}

// ServeHTTP processes health check requests.
func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("Handling health check", "path", r.URL.Path, "method", r.Method)

	code := http.StatusOK
	response := map[string]any{
		"status":     "healthy",
		"git_rev":    h.gitRev,
		"uptime":     time.Since(h.startTime).Seconds(),
		"goroutines": runtime.NumGoroutine(),
	}

	if h.stores != nil {
		stores, err := h.stores.Stores(r.Context())
		if err != nil || len(stores) == 0 {
			code = http.StatusServiceUnavailable
			response["status"] = "unhealthy"
			if err != nil {
				response["error"] = err.Error()
			}
		}
		response["stores"] = len(stores)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Failed to encode health response", "error", err)
	}
}
