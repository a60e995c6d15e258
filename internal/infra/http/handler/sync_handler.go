package handler

import (
	"errors"
	"net/http"

	"github.com/openctemio/vulnsync/internal/app"
)

// SyncRunner starts runs and remembers the last one.
type SyncRunner interface {
	Trigger() error
	LastReport() *app.RunReport
}

// SyncHandler exposes the scheduler over HTTP.
type SyncHandler struct {
	runner SyncRunner
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(runner SyncRunner) *SyncHandler {
	return &SyncHandler{runner: runner}
}

// StatusResponse carries the last run report, if any.
type StatusResponse struct {
	LastRun *app.RunReport `json:"last_run"`
}

// Status handles GET /status.
func (h *SyncHandler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{LastRun: h.runner.LastReport()})
}

// Trigger handles POST /run. The run happens in the background.
func (h *SyncHandler) Trigger(w http.ResponseWriter, _ *http.Request) {
	err := h.runner.Trigger()
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	case errors.Is(err, app.ErrRunInProgress):
		writeJSON(w, http.StatusConflict, map[string]string{"status": "running", "error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
