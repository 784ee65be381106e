package ai

import (
	"context"
	"errors"
	"fmt"

	"detectstream/internal/model"
)

var (
	// ErrBackendUnavailable is returned by Init when the backend cannot be loaded at all.
	ErrBackendUnavailable = errors.New("detection backend unavailable")
	// ErrNotInitialized is returned by Infer before a successful Init.
	ErrNotInitialized = errors.New("detection network not initialized")
)

// Backend turns a frame into raw detections. Init may be slow and is called
// off the scheduling goroutine; Infer may fail transiently.
type Backend interface {
	Init(ctx context.Context, category model.Category) error
	Infer(ctx context.Context, frame model.Frame) ([]model.RawDetection, error)
	Close() error
}

// PrefilterThreshold drops the long tail of near-zero SSD rows before they
// reach the category filter.
const PrefilterThreshold = 0.1

// InputSize is the square raster the SSD network consumes.
const InputSize = 300

// cocoLabels maps SSD MobileNet COCO class ids to label names.
var cocoLabels = map[int]string{
	1:  "person",
	2:  "bicycle",
	3:  "car",
	4:  "motorcycle",
	5:  "airplane",
	6:  "bus",
	7:  "train",
	8:  "truck",
	9:  "boat",
	16: "bird",
	17: "cat",
	18: "dog",
}

// getClassLabel maps model class IDs to human-readable labels.
func getClassLabel(classID int) string {
	if label, exists := cocoLabels[classID]; exists {
		return label
	}
	return fmt.Sprintf("unknown_%d", classID)
}
