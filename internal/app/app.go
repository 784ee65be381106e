package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"detectstream/internal/coalesce"
	"detectstream/internal/config"
	"detectstream/internal/logger"
	"detectstream/internal/model"
	"detectstream/internal/repository/sqlite"
	"detectstream/internal/route"
	"detectstream/internal/service"
	"detectstream/internal/service/ai"
	"detectstream/internal/service/changefeed"
	"detectstream/internal/service/frame"
	"detectstream/internal/service/publish"
	"detectstream/internal/service/storage"
	"detectstream/internal/service/websocket"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config         *config.Config
	logger         *logger.Logger
	db             *sqlite.DB
	journalService *storage.JournalService
	hubService     *websocket.HubService
	udpReceiver    *frame.UDPReceiver
	publisher      *publish.MQTTPublisher
	adapter        *changefeed.Adapter
	manager        *service.Manager
	server         *http.Server
}

func NewApp() (*App, error) {
	cfg := config.Load()
	log := logger.NewLogger(cfg)

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	eventRepo := sqlite.NewEventRepository(db)

	journal := storage.NewJournalService(cfg, log, eventRepo)
	hub := websocket.NewHubService(log)
	store := frame.NewStore()

	udp, err := frame.ListenUDP(cfg.CamerasPort, cfg.CameraNames, store, log)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("listen for cameras: %w", err)
	}

	a := &App{
		config:         cfg,
		logger:         log,
		db:             db,
		journalService: journal,
		hubService:     hub,
		udpReceiver:    udp,
	}

	var publisher service.EventPublisher
	if cfg.MQTTBroker != "" {
		a.publisher = publish.NewMQTTPublisher(cfg, log)
		publisher = a.publisher
	}

	newBackend := func(camera string) ai.Backend {
		return ai.NewDetectorService(cfg, log)
	}
	a.manager = service.NewManager(cfg, store, hub, journal, publisher, newBackend, log)

	if len(cfg.KafkaBrokers) > 0 {
		channel, err := changefeed.NewKafkaChannel(changefeed.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.ChangeFeedGroup,
		}, log)
		if err != nil {
			udp.Close()
			db.Close()
			return nil, fmt.Errorf("change feed: %w", err)
		}
		changes := coalesce.New[string, model.RemoteChangeEvent](cfg.DebounceWindow, a.manager.DeliverChange)
		filter := changefeed.Filter{SourceID: cfg.ChangeFeedSource}
		a.adapter = changefeed.NewAdapter(channel, cfg.ChangeFeedTopic, filter, changes, log)
	}

	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           route.SetupRoutes(a.manager, cfg, log, eventRepo),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// Run serves until SIGINT or SIGTERM, then shuts every component down.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Sinks outlive the producers so the last coalesced events still land.
	sinkCtx, stopSinks := context.WithCancel(context.Background())
	defer stopSinks()

	var wg sync.WaitGroup
	background := func(ctx context.Context, run func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
		}()
	}

	// Start background services
	background(sinkCtx, a.journalService.Run)
	background(sinkCtx, a.hubService.Run)
	background(ctx, a.udpReceiver.Run)

	if a.publisher != nil {
		if err := a.publisher.Connect(ctx); err != nil {
			a.logger.Warning("MQTT publisher unavailable: %v", err)
		}
	}
	if a.adapter != nil {
		if err := a.adapter.Start(ctx); err != nil {
			a.logger.Error("Change feed not started: %v", err)
		}
	}
	a.manager.Start()

	a.logger.Info("🚀 Detection event server")
	a.logger.Info("📍 URL: http://localhost:%d", a.config.Port)
	a.logger.Info("📷 Cameras: UDP port %d, %d loop(s) configured", a.config.CamerasPort, len(a.config.Cameras))
	a.logger.Info("🗄️ Journal: %s", a.config.DatabasePath)
	a.logger.Info("🤖 AI Model: %s", a.config.ModelPath)

	serveErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutdown signal received")
	case runErr = <-serveErr:
		a.logger.Error("HTTP server failed: %v", runErr)
		stop()
	}

	a.shutdown()
	stopSinks()
	wg.Wait()

	if err := a.db.Close(); err != nil {
		a.logger.Error("Error closing database: %v", err)
	}
	return runErr
}

// shutdown stops the producers. The journal flushes once more when the sink
// context ends.
func (a *App) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP shutdown: %v", err)
	}
	if a.adapter != nil {
		if err := a.adapter.Stop(); err != nil {
			a.logger.Error("Change feed stop: %v", err)
		}
	}
	a.manager.Stop()
	if a.publisher != nil {
		a.publisher.Disconnect()
	}
}
