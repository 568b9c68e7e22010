package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"unitalk/internal/handler"
	"unitalk/internal/httputil"
	authmw "unitalk/internal/transport/http/middleware"
)

// RouterConfig holds the dependencies needed to create routes
type RouterConfig struct {
	DeviceHandler       *handler.DeviceHandler
	ConversationHandler *handler.ConversationHandler
	MessageHandler      *handler.MessageHandler
	GroupHandler        *handler.GroupHandler
	// SocketHandler authenticates with ?token= itself
	SocketHandler  http.Handler
	MetricsHandler http.Handler
	JWTSecret      string
}

// NewRouter creates and configures a new Chi router with all route groups
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoint (useful for deployment/monitoring)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	// Live connections
	r.Method(http.MethodGet, "/ws", cfg.SocketHandler)

	// Protected routes - require authentication
	r.Group(func(r chi.Router) {
		r.Use(authmw.AuthMiddleware(cfg.JWTSecret))

		r.Get("/devices", cfg.DeviceHandler.List)
		r.Delete("/devices/{id}", cfg.DeviceHandler.Remove)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", cfg.ConversationHandler.List)
			r.Post("/direct", cfg.ConversationHandler.StartDirect)
			r.Get("/{id}/messages", cfg.ConversationHandler.Messages)
			r.Post("/{id}/messages", cfg.ConversationHandler.Send)
		})

		r.Post("/messages/read", cfg.MessageHandler.MarkRead)

		r.Post("/groups/{id}/conversation", cfg.GroupHandler.OpenConversation)
		r.Post("/groups/{id}/announcements", cfg.GroupHandler.Announce)
	})

	return r
}
