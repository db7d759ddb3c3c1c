package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DoyleJ11/quiz-battle-backend/internal/rating"
	"github.com/DoyleJ11/quiz-battle-backend/internal/ws"
)

func SetupRoutes(gateway *ws.Gateway, ratings *rating.Service) http.Handler {
	r := chi.NewRouter()

	r.Get("/ws", gateway.Handler())
	r.Get("/healthz", Healthz)
	r.Get("/ranked/stats/{userID}", RankedStats(ratings))
	return r
}
