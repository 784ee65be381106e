package handler

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"detectstream/internal/logger"
	"detectstream/internal/service"
)

// MaxFrameSize bounds a single uploaded JPEG frame.
const MaxFrameSize = 5 << 20

var jpegHeader = []byte{0xFF, 0xD8}

// CameraUploadHandler handles POST /camera/upload?camera=ID with a raw JPEG body
// and hands the frame to the Manager.
func CameraUploadHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		camera := strings.TrimSpace(r.URL.Query().Get("camera"))
		if camera == "" {
			http.Error(w, "camera is required", http.StatusBadRequest)
			return
		}

		data, err := io.ReadAll(io.LimitReader(r.Body, MaxFrameSize+1))
		if err != nil {
			logger.Error("Error reading frame from camera %s: %v", camera, err)
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		if len(data) > MaxFrameSize {
			http.Error(w, "frame too large", http.StatusRequestEntityTooLarge)
			return
		}
		if !bytes.HasPrefix(data, jpegHeader) {
			http.Error(w, "frame is not a JPEG", http.StatusUnsupportedMediaType)
			return
		}

		manager.HandleCameraImage(data, camera)
		w.WriteHeader(http.StatusAccepted)
	}
}
