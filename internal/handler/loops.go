package handler

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"detectstream/internal/coalesce"
	"detectstream/internal/logger"
	"detectstream/internal/service"
	"detectstream/internal/service/inference"
)

type loopsResponse struct {
	Loops      []inference.Status `json:"loops"`
	Detections coalesce.Stats     `json:"detections"`
}

// GetLoopsHandler reports every inference loop and the detection buffer counters.
func GetLoopsHandler(manager *service.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, loopsResponse{
			Loops:      manager.Statuses(),
			Detections: manager.DetectionStats(),
		})
	}
}

// EnableLoopHandler enables the loop of {camera}.
func EnableLoopHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		camera := mux.Vars(r)["camera"]
		status := manager.EnableLoop(camera)
		logger.Info("Inference enabled for %s via API", camera)
		writeJSON(w, http.StatusOK, status)
	}
}

// DisableLoopHandler disables the loop of {camera}.
func DisableLoopHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		camera := mux.Vars(r)["camera"]
		status, err := manager.DisableLoop(camera)
		if errors.Is(err, service.ErrUnknownCamera) {
			http.Error(w, "Unknown camera", http.StatusNotFound)
			return
		}
		logger.Info("Inference disabled for %s via API", camera)
		writeJSON(w, http.StatusOK, status)
	}
}
