package websocket

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	commandbus "scribe-backend/application/commands/bus"
	"scribe-backend/application/services"
	"scribe-backend/domain/core/valueobjects"
	"scribe-backend/pkg/common"
)

// Server upgrades session stream requests and hands the connection to a
// per-session client. It mounts inside the authenticated route group, so
// identity is already on the context.
type Server struct {
	upgrader   websocket.Upgrader
	sessions   *services.SessionManager
	commandBus *commandbus.CommandBus
	logger     *zap.Logger
}

// ServerConfig holds WebSocket server configuration
type ServerConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultServerConfig returns default WebSocket server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadBufferSize:  4096,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewServer creates a new streaming ingestion server
func NewServer(
	sessions *services.SessionManager,
	commandBus *commandbus.CommandBus,
	config *ServerConfig,
	logger *zap.Logger,
) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}

	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		sessions:   sessions,
		commandBus: commandBus,
		logger:     logger,
	}
}

// ServeHTTP handles GET /api/v1/sessions/{sessionID}/stream
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.GetUserID(r.Context())
	if !ok || userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	rawSessionID := chi.URLParam(r, "sessionID")
	sessionID, err := valueobjects.ParseSessionID(rawSessionID)
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	session, err := s.sessions.GetSession(sessionID)
	if err != nil || session.UserID() != userID {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			zap.Error(err),
			zap.String("sessionID", rawSessionID),
			zap.String("remoteAddr", r.RemoteAddr),
		)
		return
	}

	client := NewClient(rawSessionID, s.commandBus, conn, s.logger)
	client.Start()

	s.logger.Info("Session stream established",
		zap.String("sessionID", rawSessionID),
		zap.String("userID", userID),
		zap.String("remoteAddr", r.RemoteAddr),
	)
}
