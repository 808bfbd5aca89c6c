package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"git.home.luguber.info/inful/texbuilder/internal/compile"
	ferrors "git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/texbuilder/internal/server/responses"
	"git.home.luguber.info/inful/texbuilder/internal/version"
)

// MonitoringHandlers serves the health endpoint.
type MonitoringHandlers struct {
	coord        *compile.Coordinator
	startTime    time.Time
	errorAdapter *ferrors.HTTPErrorAdapter
}

// NewMonitoringHandlers creates monitoring handlers; uptime counts from startTime.
func NewMonitoringHandlers(coord *compile.Coordinator, startTime time.Time) *MonitoringHandlers {
	return &MonitoringHandlers{
		coord:        coord,
		startTime:    startTime,
		errorAdapter: ferrors.NewHTTPErrorAdapter(slog.Default()),
	}
}

// HandleHealthCheck reports liveness. It stays 200 without engines so the
// file API remains usable; engines_available tells clients whether compiles can work.
func (h *MonitoringHandlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := responses.HealthResponse{
		Status:           "healthy",
		Timestamp:        time.Now().UTC(),
		Version:          version.Version,
		Uptime:           time.Since(h.startTime).Seconds(),
		EnginesAvailable: h.coord.Engines().AnyEngineAvailable(),
		InFlight:         h.coord.InFlight(),
	}
	if err := writeJSON(w, http.StatusOK, health); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r,
			ferrors.WrapError(err, ferrors.CategoryInternal, "failed to write health response").Build())
	}
}
