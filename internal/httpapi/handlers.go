package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DoyleJ11/quiz-battle-backend/internal/rating"
	"github.com/DoyleJ11/quiz-battle-backend/pkg/types"
)

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// RankedStats serves the same profile view as ranked.stats.sync, for
// profile pages that don't hold a socket open.
func RankedStats(ratings *rating.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if userID == "" {
			http.Error(w, "missing user id", http.StatusBadRequest)
			return
		}

		profile, err := ratings.Stats(r.Context(), userID)
		if err != nil {
			http.Error(w, "ranked stats unavailable", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(types.RankedStats{
			UserID:   profile.UserID,
			MMR:      profile.MMR,
			Tier:     profile.Tier,
			Division: profile.Division,
			Wins:     profile.Wins,
			Losses:   profile.Losses,
		})
	}
}
