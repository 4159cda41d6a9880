// internal/handlers/routes.go
package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jason-s-yu/lobbyd/internal/middleware"
	"github.com/jason-s-yu/lobbyd/internal/session"
	"github.com/sirupsen/logrus"
)

// Routes holds what the HTTP surface needs.
type Routes struct {
	Logger  *logrus.Logger
	Server  *session.Server
	Origins []string
	// Verifier guards /api/lobbies when set.
	Verifier middleware.TokenVerifier
	// Shutdown is cancelled when the process is stopping.
	Shutdown context.Context
}

// Handler builds the chi router for the websocket endpoint and the read-only monitoring API.
func (rt Routes) Handler() http.Handler {
	shutdown := rt.Shutdown
	if shutdown == nil {
		shutdown = context.Background()
	}
	origins := rt.Origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.LogMiddleware(rt.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Heartbeat("/ping"))

	r.Get("/lobby/ws", LobbyWSHandler(shutdown, rt.Logger, rt.Server, origins))

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization"},
			MaxAge:         300,
		}))

		store := rt.Server.Store()
		r.Get("/stats", StatsHandler(store, rt.Server.Router()))
		r.Group(func(r chi.Router) {
			if rt.Verifier != nil {
				r.Use(middleware.RequireToken(rt.Logger, rt.Verifier))
			}
			r.Get("/lobbies", ListLobbiesHandler(store))
		})
	})
	return r
}
