package service

import (
	"errors"
	"sort"
	"sync"
	"time"

	"detectstream/internal/coalesce"
	"detectstream/internal/config"
	"detectstream/internal/logger"
	"detectstream/internal/model"
	"detectstream/internal/service/ai"
	"detectstream/internal/service/frame"
	"detectstream/internal/service/inference"
	"detectstream/internal/service/storage"
	"detectstream/internal/service/websocket"
)

// ErrUnknownCamera is returned for loop operations on a camera the manager never saw.
var ErrUnknownCamera = errors.New("unknown camera")

// BackendFactory creates the detection backend of one camera.
type BackendFactory func(camera string) ai.Backend

// EventPublisher is an optional external sink for coalesced events.
type EventPublisher interface {
	PublishDetection(ev model.DetectionEvent) error
	PublishChange(ev model.RemoteChangeEvent) error
}

type Manager struct {
	store            *frame.Store
	detections       *coalesce.Buffer[string, model.DetectionEvent]
	websocketService *websocket.HubService
	journalService   *storage.JournalService
	publisher        EventPublisher
	newBackend       BackendFactory
	logger           *logger.Logger

	loopOptions inference.Options
	staleAfter  time.Duration
	autoEnable  map[string]bool

	mu    sync.RWMutex
	loops map[string]*inference.Loop
}

// NewManager wires the frame store, the inference loops and the sinks.
// journal and publisher may be nil.
func NewManager(cfg *config.Config, store *frame.Store, hub *websocket.HubService, journal *storage.JournalService,
	publisher EventPublisher, newBackend BackendFactory, logger *logger.Logger) *Manager {
	m := &Manager{
		store:            store,
		websocketService: hub,
		journalService:   journal,
		publisher:        publisher,
		newBackend:       newBackend,
		logger:           logger,
		loopOptions: inference.Options{
			Category:        model.Category(cfg.AnalyticCategory),
			ConfidenceFloor: cfg.ConfidenceFloor,
			MinInterval:     cfg.MinInferenceInterval,
			TickInterval:    cfg.TickInterval,
		},
		staleAfter: cfg.FrameStaleAfter,
		autoEnable: make(map[string]bool, len(cfg.Cameras)),
		loops:      make(map[string]*inference.Loop),
	}
	m.detections = coalesce.New[string, model.DetectionEvent](cfg.DebounceWindow, m.deliverDetection)

	for _, camera := range cfg.Cameras {
		m.autoEnable[camera] = true
		m.ensureLoop(camera)
	}

	m.logger.Info("🎬 Manager started - %d camera loop(s), category %s", len(cfg.Cameras), m.loopOptions.Category)
	return m
}

// Start enables the loops of every configured camera.
func (m *Manager) Start() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for camera, loop := range m.loops {
		if m.autoEnable[camera] {
			loop.Enable()
		}
	}
}

// HandleCameraImage stores a complete JPEG frame from a camera.
func (m *Manager) HandleCameraImage(image []byte, camera string) {
	m.store.Put(camera, image)
	m.ensureLoop(camera)
}

func (m *Manager) ensureLoop(camera string) *inference.Loop {
	m.mu.RLock()
	loop, ok := m.loops[camera]
	m.mu.RUnlock()
	if ok {
		return loop
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if loop, ok := m.loops[camera]; ok {
		return loop
	}

	source := frame.NewSource(m.store, camera, m.staleAfter)
	loop = inference.NewLoop(source, m.newBackend(camera), m.detections, m.loopOptions, m.logger)
	m.loops[camera] = loop
	m.logger.Info("📹 Camera %s registered", camera)
	return loop
}

// EnableLoop starts the inference loop of camera, registering it if needed.
func (m *Manager) EnableLoop(camera string) inference.Status {
	loop := m.ensureLoop(camera)
	loop.Enable()
	return loop.Status()
}

// DisableLoop stops the inference loop of camera.
func (m *Manager) DisableLoop(camera string) (inference.Status, error) {
	m.mu.RLock()
	loop, ok := m.loops[camera]
	m.mu.RUnlock()
	if !ok {
		return inference.Status{}, ErrUnknownCamera
	}

	loop.Disable()
	return loop.Status(), nil
}

// Statuses returns the status of every loop ordered by camera.
func (m *Manager) Statuses() []inference.Status {
	m.mu.RLock()
	statuses := make([]inference.Status, 0, len(m.loops))
	for _, loop := range m.loops {
		statuses = append(statuses, loop.Status())
	}
	m.mu.RUnlock()

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].SourceID < statuses[j].SourceID })
	return statuses
}

// DetectionStats returns the counters of the detection buffer.
func (m *Manager) DetectionStats() coalesce.Stats {
	return m.detections.Stats()
}

func (m *Manager) GetWebsocketService() *websocket.HubService {
	return m.websocketService
}

func (m *Manager) GetFrameStore() *frame.Store {
	return m.store
}

// DeliverChange is the sink of the change-feed buffer.
func (m *Manager) DeliverChange(key string, ev model.RemoteChangeEvent) {
	m.websocketService.PublishChange(ev)
	if m.journalService != nil {
		m.journalService.RecordChange(ev)
	}
	if m.publisher != nil {
		if err := m.publisher.PublishChange(ev); err != nil {
			m.logger.Warning("Failed to publish change event %s for %s: %v", ev.ID, key, err)
		}
	}
}

func (m *Manager) deliverDetection(key string, ev model.DetectionEvent) {
	m.websocketService.PublishDetection(ev)
	if m.journalService != nil {
		m.journalService.RecordDetection(ev)
	}
	if m.publisher != nil {
		if err := m.publisher.PublishDetection(ev); err != nil {
			m.logger.Warning("Failed to publish detection %s for %s: %v", ev.ID, key, err)
		}
	}
}

// Stop closes every loop and discards pending detections.
func (m *Manager) Stop() {
	m.mu.Lock()
	loops := make([]*inference.Loop, 0, len(m.loops))
	for _, loop := range m.loops {
		loops = append(loops, loop)
	}
	m.mu.Unlock()

	for _, loop := range loops {
		if err := loop.Close(); err != nil {
			m.logger.Error("Error closing loop %s: %v", loop.ID(), err)
		}
	}
	m.detections.Shutdown()
	m.logger.Info("🛑 All inference loops stopped")
}
