package apihttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"torrentd/internal/domain"
)

// TorrentManager is the session manager surface the API consumes.
type TorrentManager interface {
	Add(ctx context.Context, src domain.TorrentSource, savePath string) (domain.StatusSnapshot, error)
	Remove(ctx context.Context, hash domain.InfoHash, deleteFiles bool) error
	Pause(hash domain.InfoHash) error
	Resume(hash domain.InfoHash) error
	Recheck(hash domain.InfoHash) error
	SetFilePriority(hash domain.InfoHash, index int, prio domain.FilePriority) error
	Status(hash domain.InfoHash) (domain.StatusSnapshot, error)
	List() []domain.StatusSnapshot
}

// SettingsController applies setting batches and reports what actually took
// effect.
type SettingsController interface {
	Apply(batch domain.SettingsMap) domain.SettingsMap
	Effective() domain.SettingsMap
}

type Server struct {
	manager        TorrentManager
	settings       SettingsController
	defaultSaveDir string
	allowedOrigins []string
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub
}

type ServerOption func(*Server)

func WithSettings(ctrl SettingsController) ServerOption {
	return func(s *Server) {
		s.settings = ctrl
	}
}

// WithDefaultSaveDir sets the save path used when an add request does not
// specify one.
func WithDefaultSaveDir(dir string) ServerOption {
	return func(s *Server) {
		s.defaultSaveDir = dir
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted (development mode).
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(manager TorrentManager, opts ...ServerOption) *Server {
	s := &Server{manager: manager}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/torrents", s.handleTorrents)
	mux.HandleFunc("/torrents/", s.handleTorrentByID)
	mux.HandleFunc("/settings", s.handleSettings)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "torrentd",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/healthz"
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(100, 200, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	s.wsHub.register <- client
	go client.writePump()
	go client.readPump()
}

// Close shuts down the WebSocket hub, disconnecting all clients.
func (s *Server) Close() {
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}

// ---------------------------------------------------------------------------
// ports.Notifier: push updates from the session manager go out over the hub
// ---------------------------------------------------------------------------

func (s *Server) TorrentAdded(snap domain.StatusSnapshot) {
	s.wsHub.Broadcast("torrent_added", snap)
}

func (s *Server) StatusUpdated(snap domain.StatusSnapshot) {
	s.wsHub.Broadcast("status", snap)
}

func (s *Server) TorrentCompleted(hash domain.InfoHash) {
	s.wsHub.Broadcast("completed", map[string]string{"infoHash": string(hash)})
}

func (s *Server) AggregateUpdated(agg domain.AggregateSnapshot) {
	s.wsHub.Broadcast("aggregate", agg)
}

func (s *Server) TorrentError(hash domain.InfoHash, msg string) {
	s.wsHub.Broadcast("torrent_error", map[string]string{
		"infoHash": string(hash),
		"error":    msg,
	})
}
