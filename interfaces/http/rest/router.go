package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"scribe-backend/infrastructure/config"
	"scribe-backend/interfaces/http/rest/handlers"
	"scribe-backend/interfaces/http/rest/middleware"
	"scribe-backend/pkg/auth"
	"scribe-backend/pkg/common"
	"scribe-backend/pkg/observability"
)

// Router assembles the HTTP routing table
type Router struct {
	config        *config.Config
	validator     *auth.JWTValidator
	metrics       *observability.Collector
	sessions      *handlers.SessionHandler
	conversations *handlers.ConversationHandler
	jobs          *handlers.JobHandler
	callbacks     *handlers.CallbackHandler
	stream        http.Handler
	logger        *zap.Logger
}

// NewRouter creates a new router
func NewRouter(
	cfg *config.Config,
	validator *auth.JWTValidator,
	metrics *observability.Collector,
	sessions *handlers.SessionHandler,
	conversations *handlers.ConversationHandler,
	jobs *handlers.JobHandler,
	callbacks *handlers.CallbackHandler,
	stream http.Handler,
	logger *zap.Logger,
) *Router {
	return &Router{
		config:        cfg,
		validator:     validator,
		metrics:       metrics,
		sessions:      sessions,
		conversations: conversations,
		jobs:          jobs,
		callbacks:     callbacks,
		stream:        stream,
		logger:        logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logger(rt.logger))
	if rt.config.EnableMetrics {
		r.Use(middleware.Metrics(rt.metrics))
	}

	if rt.config.EnableCORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/health", rt.handleHealth)
	r.Get("/ready", rt.handleReady)
	if rt.config.EnableMetrics {
		r.Handle("/metrics", rt.metrics.Handler())
	}

	// Agent callbacks bypass user auth; they authenticate with a shared
	// secret over the service network
	r.Route("/internal/v1", func(r chi.Router) {
		r.Use(middleware.SharedSecret(rt.config.CallbackSecret))
		r.Post("/callbacks", rt.callbacks.HandleCallback)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(rt.validator, rt.logger))

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", rt.sessions.CreateSession)
			r.Post("/{sessionID}/segments", rt.sessions.AppendSegments)
			r.Delete("/{sessionID}", rt.sessions.CloseSession)
			if rt.stream != nil {
				r.Handle("/{sessionID}/stream", rt.stream)
			}
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", rt.conversations.ListConversations)
			r.Get("/{conversationID}", rt.conversations.GetConversation)
			r.Post("/{conversationID}/discard", rt.conversations.DiscardConversation)
		})

		r.Get("/jobs/{jobID}", rt.jobs.GetJob)
	})

	return r
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	common.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "scribe-backend",
	})
}

func (rt *Router) handleReady(w http.ResponseWriter, r *http.Request) {
	common.RespondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
