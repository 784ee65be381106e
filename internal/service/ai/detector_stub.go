//go:build !gocv
// +build !gocv

package ai

import (
	"context"
	"fmt"

	"detectstream/internal/config"
	"detectstream/internal/logger"
	"detectstream/internal/model"
)

// DetectorService is the placeholder used when the binary is built without OpenCV.
type DetectorService struct {
	modelPath string
	logger    *logger.Logger
}

// NewDetectorService creates the placeholder detector.
func NewDetectorService(config *config.Config, logger *logger.Logger) *DetectorService {
	return &DetectorService{modelPath: config.ModelPath, logger: logger}
}

// Init always fails: the gocv build tag is not enabled.
func (s *DetectorService) Init(ctx context.Context, category model.Category) error {
	return fmt.Errorf("%w: gocv build tag is not enabled (model %s)", ErrBackendUnavailable, s.modelPath)
}

// Infer always fails with ErrNotInitialized.
func (s *DetectorService) Infer(ctx context.Context, frame model.Frame) ([]model.RawDetection, error) {
	return nil, ErrNotInitialized
}

// Close is a no-op.
func (s *DetectorService) Close() error {
	return nil
}

var _ Backend = (*DetectorService)(nil)
