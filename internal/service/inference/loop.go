// Package inference runs the throttled detection loop of one camera.
//
// A Loop owns a detection backend bound to a frame source. Once enabled it
// is driven by a ticker at the host frame rate; every tick calls ProcessCycle,
// which does nothing unless the backend is ready, the camera is advancing and
// the minimum interval since the previous pass has elapsed. Executed passes
// filter the backend output by category and submit the resulting events to a
// coalescing buffer keyed by camera.
package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"detectstream/internal/logger"
	"detectstream/internal/model"
	"detectstream/internal/service/ai"
)

const (
	// DefaultMinInterval is the minimum time between two executed passes.
	DefaultMinInterval = time.Second
	// DefaultTickInterval approximates a 30 fps frame cadence.
	DefaultTickInterval = 33 * time.Millisecond
)

var errInvalidFrame = errors.New("frame has no dimensions")

// BackendState is the lifecycle of the loop's detection backend.
type BackendState int

const (
	StateUninitialized BackendState = iota
	StateLoading
	StateReady
	StateError
)

func (s BackendState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s BackendState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FrameSource is the camera a loop reads from.
type FrameSource interface {
	ID() string
	// Advancing is false while the stream is paused, ended or not yet buffered.
	Advancing() bool
	Capture(ctx context.Context) (model.Frame, error)
}

// Submitter receives the synthesized events, keyed by source.
type Submitter interface {
	Submit(key string, event model.DetectionEvent)
}

// Options configures a Loop.
type Options struct {
	Category        model.Category
	ConfidenceFloor float64
	MinInterval     time.Duration
	TickInterval    time.Duration
}

// Status is a point-in-time view of a loop.
type Status struct {
	SourceID  string         `json:"source_id"`
	Category  model.Category `json:"category"`
	Enabled   bool           `json:"enabled"`
	State     BackendState   `json:"state"`
	LastError string         `json:"last_error,omitempty"`
	Executed  uint64         `json:"executed"`
	Skipped   uint64         `json:"skipped"`
	Failed    uint64         `json:"failed"`
	Snapshot  model.Snapshot `json:"snapshot"`
}

// Loop is the inference loop of one frame source.
type Loop struct {
	source       FrameSource
	backend      ai.Backend
	submitter    Submitter
	logger       *logger.Logger
	filter       Filter
	category     model.Category
	minInterval  time.Duration
	tickInterval time.Duration
	now          func() time.Time
	newID        func() string

	// baseCtx bounds backend initialization; it ends on Close only.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu            sync.Mutex
	state         BackendState
	lastErr       string
	enabled       bool
	generation    uint64 // bumped on every Enable/Disable to fence late results
	cancel        context.CancelFunc
	done          chan struct{}
	lastProcessed time.Time
	snapshot      model.Snapshot
	executed      uint64
	skipped       uint64
	failed        uint64

	// cycleMu keeps passes of one loop from overlapping.
	cycleMu sync.Mutex
}

// Option customizes a Loop.
type Option func(*Loop)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// WithIDGenerator replaces the uuid event id generator.
func WithIDGenerator(newID func() string) Option {
	return func(l *Loop) { l.newID = newID }
}

// NewLoop creates a disabled loop with an uninitialized backend.
func NewLoop(source FrameSource, backend ai.Backend, submitter Submitter, opts Options, logger *logger.Logger, options ...Option) *Loop {
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Category == "" {
		opts.Category = model.CategoryDefault
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	l := &Loop{
		source:       source,
		backend:      backend,
		submitter:    submitter,
		logger:       logger,
		filter:       NewFilter(opts.Category, opts.ConfidenceFloor),
		category:     opts.Category,
		minInterval:  opts.MinInterval,
		tickInterval: opts.TickInterval,
		now:          time.Now,
		newID:        func() string { return uuid.NewString() },
		baseCtx:      baseCtx,
		baseCancel:   baseCancel,
	}
	for _, opt := range options {
		opt(l)
	}
	return l
}

// ID returns the source id of the loop.
func (l *Loop) ID() string {
	return l.source.ID()
}

// Enable starts backend initialization when needed and starts the cycle.
// A backend in the error state is initialized again.
func (l *Loop) Enable() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateUninitialized || l.state == StateError {
		l.state = StateLoading
		l.lastErr = ""
		go l.initBackend()
	}

	if l.enabled {
		return
	}
	l.enabled = true
	l.generation++

	ctx, cancel := context.WithCancel(l.baseCtx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, l.done)

	l.logger.Info("🎬 Inference loop %s enabled (category %s, interval %s)", l.source.ID(), l.category, l.minInterval)
}

// Disable stops the cycle and waits for it to exit. The backend stays loaded.
// A pass already inside Infer is not interrupted, so Disable can block for
// up to one inference; its results are discarded.
func (l *Loop) Disable() {
	l.mu.Lock()
	if !l.enabled {
		l.mu.Unlock()
		return
	}
	l.enabled = false
	l.generation++
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	cancel()
	<-done
	l.logger.Info("🛑 Inference loop %s disabled", l.source.ID())
}

// Close disables the loop and releases the backend.
func (l *Loop) Close() error {
	l.Disable()
	l.baseCancel()
	return l.backend.Close()
}

func (l *Loop) initBackend() {
	err := l.backend.Init(l.baseCtx, l.category)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err != nil {
		l.state = StateError
		l.lastErr = err.Error()
		l.logger.Error("Backend initialization failed for %s: %v", l.source.ID(), err)
		return
	}
	l.state = StateReady
	l.logger.Info("Backend ready for %s", l.source.ID())
}

// run re-arms the cycle on every tick until ctx ends. Ticks that arrive while
// a pass is still running are dropped by the ticker.
func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.ProcessCycle(ctx)
		}
	}
}

// ProcessCycle runs one scheduling tick and reports whether an inference
// pass was executed and published. The throttle is checked and stamped before
// any capture work begins, so the interval runs from the start of the last
// attempted pass, failed ones included.
func (l *Loop) ProcessCycle(ctx context.Context) bool {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()

	l.mu.Lock()
	if !l.enabled || l.state != StateReady {
		l.mu.Unlock()
		return false
	}
	l.mu.Unlock()

	if !l.source.Advancing() {
		return false
	}

	l.mu.Lock()
	now := l.now()
	if !l.lastProcessed.IsZero() && now.Sub(l.lastProcessed) < l.minInterval {
		l.skipped++
		l.mu.Unlock()
		return false
	}
	l.lastProcessed = now
	gen := l.generation
	l.mu.Unlock()

	detections, frame, err := l.infer(ctx)
	if err != nil {
		l.mu.Lock()
		l.failed++
		l.mu.Unlock()
		l.logger.Warning("Inference pass failed for %s: %v", l.source.ID(), err)
		return false
	}

	kept := l.filter.Apply(detections)
	events := Synthesize(frame, kept, now, l.newID)

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || l.generation != gen || ctx.Err() != nil {
		// Disabled while the backend was running.
		return false
	}

	l.snapshot = model.Snapshot{
		SourceID:    frame.SourceID,
		Detections:  kept,
		Events:      events,
		Counts:      countLabels(kept),
		ProcessedAt: now,
	}
	l.executed++

	for _, event := range events {
		l.submitter.Submit(event.SourceID, event)
	}
	return true
}

func (l *Loop) infer(ctx context.Context) ([]model.RawDetection, model.Frame, error) {
	frame, err := l.source.Capture(ctx)
	if err != nil {
		return nil, frame, fmt.Errorf("capture: %w", err)
	}
	if frame.Width <= 0 || frame.Height <= 0 {
		return nil, frame, errInvalidFrame
	}
	if frame.SourceID == "" {
		frame.SourceID = l.source.ID()
	}

	detections, err := l.backend.Infer(ctx, frame)
	if err != nil {
		return nil, frame, fmt.Errorf("infer: %w", err)
	}
	return detections, frame, nil
}

// Status returns the current loop state.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Status{
		SourceID:  l.source.ID(),
		Category:  l.category,
		Enabled:   l.enabled,
		State:     l.state,
		LastError: l.lastErr,
		Executed:  l.executed,
		Skipped:   l.skipped,
		Failed:    l.failed,
		Snapshot:  l.snapshot,
	}
}
