package frame

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"sort"
	"sync"
	"time"

	"detectstream/internal/model"
)

// ErrNoFrame is returned by Capture when the camera has not delivered a frame yet.
var ErrNoFrame = errors.New("no frame received")

type latestFrame struct {
	data       []byte
	receivedAt time.Time
}

// Store keeps the most recent JPEG per camera.
type Store struct {
	mu     sync.RWMutex
	frames map[string]latestFrame
	now    func() time.Time
}

func NewStore() *Store {
	return &Store{
		frames: make(map[string]latestFrame),
		now:    time.Now,
	}
}

// Put replaces the latest frame of camera with a copy of data.
func (s *Store) Put(camera string, data []byte) {
	frame := make([]byte, len(data))
	copy(frame, data)

	s.mu.Lock()
	s.frames[camera] = latestFrame{data: frame, receivedAt: s.now()}
	s.mu.Unlock()
}

// Latest returns the newest frame of camera and when it arrived.
func (s *Store) Latest(camera string) ([]byte, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.frames[camera]
	if !ok {
		return nil, time.Time{}, false
	}
	return f.data, f.receivedAt, true
}

// Cameras lists every camera that delivered at least one frame.
func (s *Store) Cameras() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cameras := make([]string, 0, len(s.frames))
	for camera := range s.frames {
		cameras = append(cameras, camera)
	}
	sort.Strings(cameras)
	return cameras
}

// Source exposes one camera of a Store as the frame source of an inference loop.
type Source struct {
	store      *Store
	camera     string
	staleAfter time.Duration
	now        func() time.Time
}

// NewSource binds camera. A camera whose newest frame is older than
// staleAfter counts as paused.
func NewSource(store *Store, camera string, staleAfter time.Duration) *Source {
	if staleAfter <= 0 {
		staleAfter = 2 * time.Second
	}
	return &Source{store: store, camera: camera, staleAfter: staleAfter, now: time.Now}
}

// ID returns the camera name.
func (s *Source) ID() string {
	return s.camera
}

// Advancing reports whether the camera is currently delivering frames.
func (s *Source) Advancing() bool {
	_, at, ok := s.store.Latest(s.camera)
	if !ok {
		return false
	}
	return s.now().Sub(at) <= s.staleAfter
}

// Capture returns the current frame with its decoded dimensions.
func (s *Source) Capture(ctx context.Context) (model.Frame, error) {
	if err := ctx.Err(); err != nil {
		return model.Frame{}, err
	}

	data, _, ok := s.store.Latest(s.camera)
	if !ok {
		return model.Frame{}, fmt.Errorf("camera %s: %w", s.camera, ErrNoFrame)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return model.Frame{}, fmt.Errorf("camera %s: failed to decode frame header: %w", s.camera, err)
	}

	return model.Frame{
		SourceID:   s.camera,
		Data:       data,
		Width:      cfg.Width,
		Height:     cfg.Height,
		CapturedAt: s.now(),
	}, nil
}
