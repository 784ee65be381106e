//go:build gocv
// +build gocv

package ai

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"detectstream/internal/config"
	"detectstream/internal/logger"
	"detectstream/internal/model"
)

// DetectorService runs an SSD MobileNet COCO graph through OpenCV DNN.
type DetectorService struct {
	mu         sync.Mutex // gocv.Net is not safe for concurrent Forward calls
	net        gocv.Net
	loaded     bool
	modelPath  string
	configPath string
	logger     *logger.Logger
}

// NewDetectorService creates a detector with model/config paths and a logger.
// The network is loaded by Init.
func NewDetectorService(config *config.Config, logger *logger.Logger) *DetectorService {
	return &DetectorService{
		modelPath:  config.ModelPath,
		configPath: config.ConfigPath,
		logger:     logger,
	}
}

// Init loads the DNN network and sets backend/target preferences.
func (s *DetectorService) Init(ctx context.Context, category model.Category) error {
	if _, err := os.Stat(s.modelPath); os.IsNotExist(err) {
		return fmt.Errorf("%w: model file not found: %s", ErrBackendUnavailable, s.modelPath)
	}

	if _, err := os.Stat(s.configPath); os.IsNotExist(err) {
		return fmt.Errorf("%w: config file not found: %s", ErrBackendUnavailable, s.configPath)
	}

	net := gocv.ReadNet(s.modelPath, s.configPath)
	if net.Empty() {
		return fmt.Errorf("%w: failed to load network", ErrBackendUnavailable)
	}
	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return fmt.Errorf("%w: failed to set preferable backend or target", ErrBackendUnavailable)
	}

	if err := ctx.Err(); err != nil {
		net.Close()
		return err
	}

	s.mu.Lock()
	if s.loaded {
		s.net.Close()
	}
	s.net = net
	s.loaded = true
	s.mu.Unlock()

	s.logger.Info("Detection network initialized for category %s", category)
	return nil
}

// Infer runs the DNN on the frame and returns detections in frame pixel space.
func (s *DetectorService) Infer(ctx context.Context, frame model.Frame) ([]model.RawDetection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded || s.net.Empty() {
		return nil, ErrNotInitialized
	}

	mat, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("decoded image is empty")
	}

	// Fixed 300x300 input raster for the ssd coco net
	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(InputSize, InputSize), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	s.net.SetInput(blob, "")
	output := s.net.Forward("")
	defer output.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	width := float32(mat.Cols())
	height := float32(mat.Rows())

	// Output rows: [ batch_id, class_id, confidence, x1, y1, x2, y2 ]
	rows := output.Reshape(1, output.Total()/7)
	defer rows.Close()

	var results []model.RawDetection
	for i := 0; i < rows.Rows(); i++ {
		confidence := rows.GetFloatAt(i, 2)
		if confidence < PrefilterThreshold {
			continue
		}
		classID := int(rows.GetFloatAt(i, 1))
		results = append(results, model.RawDetection{
			Label: getClassLabel(classID),
			Score: float64(confidence),
			Box: model.Box{
				MinX: float64(rows.GetFloatAt(i, 3) * width),
				MinY: float64(rows.GetFloatAt(i, 4) * height),
				MaxX: float64(rows.GetFloatAt(i, 5) * width),
				MaxY: float64(rows.GetFloatAt(i, 6) * height),
			},
		})
	}

	return results, nil
}

// Close releases the network.
func (s *DetectorService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		s.loaded = false
		return s.net.Close()
	}
	return nil
}

var _ Backend = (*DetectorService)(nil)
