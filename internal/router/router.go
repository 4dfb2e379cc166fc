package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/loftwire/accounts-api/internal/api/auth"
)

// Config contains the handlers and middleware needed for the route setup.
type Config struct {
	AuthHandler            *auth.HandlerImpl
	AuthenticateMiddleware func(http.Handler) http.Handler
}

// SetupRouter wires the API routes. Server-wide middleware (request id,
// logging, recoverer) are applied by the caller before mounting this router.
func SetupRouter(cfg *Config) chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Public credential routes.
		r.Group(func(r chi.Router) {
			r.Post("/auth/signup", cfg.AuthHandler.SignUp)
			r.Post("/auth/login", cfg.AuthHandler.Login)
			r.Post("/auth/reset-password", cfg.AuthHandler.ResetPassword)
			r.Post("/auth/verify-reset-password", cfg.AuthHandler.VerifyResetPassword)
		})

		// Routes requiring a valid session token.
		r.Group(func(r chi.Router) {
			r.Use(cfg.AuthenticateMiddleware)

			r.Get("/auth/me", cfg.AuthHandler.Me)
			r.Delete("/auth/me", cfg.AuthHandler.DeleteMe)
		})
	})

	return r
}
