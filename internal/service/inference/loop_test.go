package inference

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detectstream/internal/logger"
	"detectstream/internal/model"
)

type fakeSource struct {
	mu        sync.Mutex
	advancing bool
	captures  int
}

func (s *fakeSource) ID() string { return "cam-1" }

func (s *fakeSource) Advancing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advancing
}

func (s *fakeSource) setAdvancing(v bool) {
	s.mu.Lock()
	s.advancing = v
	s.mu.Unlock()
}

func (s *fakeSource) Capture(ctx context.Context) (model.Frame, error) {
	s.mu.Lock()
	s.captures++
	s.mu.Unlock()
	return model.Frame{SourceID: "cam-1", Width: 100, Height: 100}, nil
}

type fakeBackend struct {
	mu         sync.Mutex
	initErr    error
	inferErr   error
	initCalls  int
	inferCalls int
	detections []model.RawDetection
	block      chan struct{} // when set, Infer waits for it
	entered    chan struct{}
}

func (b *fakeBackend) Init(ctx context.Context, category model.Category) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initCalls++
	return b.initErr
}

func (b *fakeBackend) Infer(ctx context.Context, frame model.Frame) ([]model.RawDetection, error) {
	b.mu.Lock()
	b.inferCalls++
	block, entered := b.block, b.entered
	err, dets := b.inferErr, b.detections
	b.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return dets, nil
}

func (b *fakeBackend) Close() error { return nil }

func (b *fakeBackend) setInitErr(err error) {
	b.mu.Lock()
	b.initErr = err
	b.mu.Unlock()
}

func (b *fakeBackend) setInferErr(err error) {
	b.mu.Lock()
	b.inferErr = err
	b.mu.Unlock()
}

func (b *fakeBackend) calls() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initCalls, b.inferCalls
}

type recorder struct {
	mu     sync.Mutex
	events []model.DetectionEvent
}

func (r *recorder) Submit(key string, event model.DetectionEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	loop    *Loop
	source  *fakeSource
	backend *fakeBackend
	sink    *recorder
	clock   *fakeClock
}

// newHarness builds a loop whose ticker never fires during a test, so cycles
// run only when the test calls ProcessCycle.
func newHarness(t *testing.T, category model.Category) *harness {
	t.Helper()
	h := &harness{
		source: &fakeSource{advancing: true},
		backend: &fakeBackend{detections: []model.RawDetection{
			{Label: "person", Score: 0.9, Box: model.Box{MinX: 10, MinY: 10, MaxX: 50, MaxY: 90}},
			{Label: "car", Score: 0.8, Box: model.Box{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}},
		}},
		sink:  &recorder{},
		clock: &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)},
	}
	h.loop = NewLoop(h.source, h.backend, h.sink, Options{
		Category:     category,
		MinInterval:  time.Second,
		TickInterval: time.Hour,
	}, logger.NewWriterLogger(io.Discard), WithClock(h.clock.Now))
	t.Cleanup(func() { _ = h.loop.Close() })
	return h
}

func (h *harness) enableReady(t *testing.T) {
	t.Helper()
	h.loop.Enable()
	require.Eventually(t, func() bool {
		return h.loop.Status().State == StateReady
	}, time.Second, 5*time.Millisecond)
}

func TestLoop_ExecutesAndSubmits(t *testing.T) {
	h := newHarness(t, model.CategoryPeopleCount)
	h.enableReady(t)

	require.True(t, h.loop.ProcessCycle(context.Background()))
	require.Equal(t, 1, h.sink.count())

	ev := h.sink.events[0]
	assert.Equal(t, "cam-1", ev.SourceID)
	assert.Equal(t, "person", ev.Label)
	assert.Equal(t, h.clock.Now(), ev.Timestamp)
	assert.InDeltaSlice(t, []float64{0.1, 0.1, 0.5, 0.9}, ev.BBox[:], 1e-9)
	assert.NotEmpty(t, ev.ID)

	status := h.loop.Status()
	assert.Equal(t, uint64(1), status.Executed)
	assert.Equal(t, map[string]int{"person": 1}, status.Snapshot.Counts)
	assert.Len(t, status.Snapshot.Events, 1)
}

func TestLoop_ThrottlesToMinInterval(t *testing.T) {
	h := newHarness(t, model.CategoryDefault)
	h.enableReady(t)

	require.True(t, h.loop.ProcessCycle(context.Background()))

	h.clock.Advance(400 * time.Millisecond)
	require.False(t, h.loop.ProcessCycle(context.Background()))

	_, inferCalls := h.backend.calls()
	assert.Equal(t, 1, inferCalls)
	assert.Equal(t, uint64(1), h.loop.Status().Skipped)

	h.clock.Advance(600 * time.Millisecond)
	require.True(t, h.loop.ProcessCycle(context.Background()))
	_, inferCalls = h.backend.calls()
	assert.Equal(t, 2, inferCalls)
}

func TestLoop_NoOpUnlessEnabledReadyAndAdvancing(t *testing.T) {
	h := newHarness(t, model.CategoryDefault)

	// Disabled.
	assert.False(t, h.loop.ProcessCycle(context.Background()))

	h.enableReady(t)

	h.source.setAdvancing(false)
	assert.False(t, h.loop.ProcessCycle(context.Background()))

	h.source.setAdvancing(true)
	assert.True(t, h.loop.ProcessCycle(context.Background()))

	_, inferCalls := h.backend.calls()
	assert.Equal(t, 1, inferCalls)
	assert.Equal(t, 1, h.source.captures)
}

func TestLoop_InitFailureThenRetryOnEnable(t *testing.T) {
	h := newHarness(t, model.CategoryDefault)
	h.backend.setInitErr(errors.New("model missing"))

	h.loop.Enable()
	require.Eventually(t, func() bool {
		return h.loop.Status().State == StateError
	}, time.Second, 5*time.Millisecond)

	status := h.loop.Status()
	assert.True(t, status.Enabled)
	assert.Equal(t, "model missing", status.LastError)
	assert.False(t, h.loop.ProcessCycle(context.Background()))

	h.backend.setInitErr(nil)
	h.loop.Disable()
	h.enableReady(t)

	initCalls, _ := h.backend.calls()
	assert.Equal(t, 2, initCalls)
	assert.Empty(t, h.loop.Status().LastError)
	assert.True(t, h.loop.ProcessCycle(context.Background()))
}

func TestLoop_ReadyBackendIsNotReinitialized(t *testing.T) {
	h := newHarness(t, model.CategoryDefault)
	h.enableReady(t)
	h.loop.Disable()
	h.loop.Enable()

	assert.Equal(t, StateReady, h.loop.Status().State)
	initCalls, _ := h.backend.calls()
	assert.Equal(t, 1, initCalls)
}

func TestLoop_RecoversAfterInferenceError(t *testing.T) {
	h := newHarness(t, model.CategoryDefault)
	h.enableReady(t)

	h.backend.setInferErr(errors.New("gpu lost"))
	assert.False(t, h.loop.ProcessCycle(context.Background()))

	status := h.loop.Status()
	assert.True(t, status.Enabled)
	assert.Equal(t, uint64(1), status.Failed)
	assert.Equal(t, 0, h.sink.count())

	h.backend.setInferErr(nil)
	h.clock.Advance(time.Second)
	assert.True(t, h.loop.ProcessCycle(context.Background()))
	assert.Equal(t, 2, h.sink.count())
}

func TestLoop_FailedPassCountsTowardInterval(t *testing.T) {
	h := newHarness(t, model.CategoryDefault)
	h.enableReady(t)

	h.backend.setInferErr(errors.New("gpu lost"))
	assert.False(t, h.loop.ProcessCycle(context.Background()))
	h.backend.setInferErr(nil)

	h.clock.Advance(400 * time.Millisecond)
	assert.False(t, h.loop.ProcessCycle(context.Background()))
	assert.Equal(t, uint64(1), h.loop.Status().Skipped)

	h.clock.Advance(600 * time.Millisecond)
	assert.True(t, h.loop.ProcessCycle(context.Background()))
}

func TestLoop_DiscardsResultsAfterDisable(t *testing.T) {
	h := newHarness(t, model.CategoryDefault)
	h.enableReady(t)

	block := make(chan struct{})
	entered := make(chan struct{})
	h.backend.mu.Lock()
	h.backend.block = block
	h.backend.entered = entered
	h.backend.mu.Unlock()

	result := make(chan bool, 1)
	go func() {
		result <- h.loop.ProcessCycle(context.Background())
	}()

	<-entered
	h.loop.Disable()
	close(block)

	require.False(t, <-result)
	assert.Equal(t, 0, h.sink.count())
	assert.Equal(t, uint64(0), h.loop.Status().Executed)
}

func TestLoop_TickerDrivesCycles(t *testing.T) {
	source := &fakeSource{advancing: true}
	backend := &fakeBackend{detections: []model.RawDetection{{Label: "person", Score: 0.9}}}
	sink := &recorder{}

	loop := NewLoop(source, backend, sink, Options{
		Category:     model.CategoryPeopleCount,
		MinInterval:  10 * time.Millisecond,
		TickInterval: 2 * time.Millisecond,
	}, logger.NewWriterLogger(io.Discard))
	defer loop.Close()

	loop.Enable()
	require.Eventually(t, func() bool {
		return loop.Status().Executed >= 3
	}, 2*time.Second, 5*time.Millisecond)

	loop.Disable()
	executed := loop.Status().Executed
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, executed, loop.Status().Executed)
	assert.False(t, loop.Status().Enabled)
}

func TestBackendState_MarshalText(t *testing.T) {
	text, err := StateReady.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "ready", string(text))
	assert.Equal(t, "state(9)", BackendState(9).String())
}
