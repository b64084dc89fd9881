package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(apiHandler.requestLogger)
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	r.NotFound(apiHandler.NotFoundHandler)
	r.MethodNotAllowed(apiHandler.NotFoundHandler)

	r.Get("/health", apiHandler.HealthHandler)
	if apiHandler.metrics != nil {
		r.Handle("/metrics", apiHandler.metrics.Handler())
	}

	r.Route("/auth", func(r chi.Router) {
		// Public routes
		r.Post("/signup", apiHandler.SignupHandler)
		r.Post("/login", apiHandler.LoginHandler)
		r.Post("/refresh", apiHandler.RefreshHandler)

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)
			r.Post("/logout", apiHandler.LogoutHandler)
			r.Get("/me", apiHandler.MeHandler)
			r.Patch("/me", apiHandler.UpdateMeHandler)
		})
	})

	r.Route("/chat", func(r chi.Router) {
		r.Use(apiHandler.JWTAuthMiddleware)

		r.Post("/messages", apiHandler.SendMessageHandler)
		r.Post("/messages/stream", apiHandler.StreamMessageHandler)

		r.Get("/conversations", apiHandler.ListConversationsHandler)
		r.Get("/conversations/{conversationID}/messages", apiHandler.ConversationMessagesHandler)
		r.Post("/conversations/{conversationID}/rename", apiHandler.RenameConversationHandler)
		r.Delete("/conversations/{conversationID}", apiHandler.DeleteConversationHandler)
	})

	return r
}
