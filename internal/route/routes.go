package route

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"detectstream/internal/config"
	"detectstream/internal/handler"
	"detectstream/internal/logger"
	"detectstream/internal/middleware"
	"detectstream/internal/repository"
	"detectstream/internal/service"
)

// dynamicHTMLHandler serves /path as /static/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/" {
		path = "/index"
	}

	filePath := filepath.Join("static", filepath.Clean(path)+".html")

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, filePath)
}

// SetupRoutes registers HTTP routes, static file serving and API endpoints,
// and wraps the router with authentication, recovery and access logging.
func SetupRoutes(manager *service.Manager, cfg *config.Config, logger *logger.Logger,
	eventRepo repository.EventRepository) http.Handler {
	r := mux.NewRouter()

	// Static files
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))

	// Camera ingest
	r.HandleFunc("/camera/upload", handler.CameraUploadHandler(manager, logger)).Methods(http.MethodPost)

	// API endpoints
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/view", handler.ViewWebsocketHandler(manager, logger))
	api.HandleFunc("/loops", handler.GetLoopsHandler(manager)).Methods(http.MethodGet)
	api.HandleFunc("/loops/{camera}/enable", handler.EnableLoopHandler(manager, logger)).Methods(http.MethodPost)
	api.HandleFunc("/loops/{camera}/disable", handler.DisableLoopHandler(manager, logger)).Methods(http.MethodPost)
	if eventRepo != nil {
		api.HandleFunc("/events", handler.GetEventsHandler(eventRepo, logger)).Methods(http.MethodGet)
		api.HandleFunc("/sources", handler.GetSourcesHandler(eventRepo, logger)).Methods(http.MethodGet)
	}

	// Log endpoints
	levels := "{level:info|warning|error}"
	r.HandleFunc("/logs/"+levels, handler.ShowLogsHandler(cfg)).Methods(http.MethodGet)
	r.HandleFunc("/logs/"+levels+"/clear", handler.ClearLogsHandler(logger)).Methods(http.MethodPost)

	// Auth endpoints
	r.HandleFunc("/auth/login", handler.LoginHandler(cfg, logger)).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", handler.LogoutHandler).Methods(http.MethodGet, http.MethodPost)

	// Automatic HTML handler mapping for example: /settings -> /static/settings.html
	r.PathPrefix("/").HandlerFunc(dynamicHTMLHandler).Methods(http.MethodGet)

	r.Use(middleware.AuthMiddleware)

	recovered := handlers.RecoveryHandler(
		handlers.RecoveryLogger(logger.StdError()),
		handlers.PrintRecoveryStack(true),
	)(r)
	return handlers.LoggingHandler(logger.Writer(), recovered)
}
