package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every tunable the server reads at startup. Values come
// from the environment, with a .env file loaded first if present.
type Config struct {
	Addr        string
	TokenSecret string

	// Empty DSN runs the server on in-memory stores (dev mode).
	DatabaseDSN string

	QuestionsPerMatch int
	TimePerQuestion   time.Duration
	MatchCountdown    time.Duration
	ReconnectGrace    time.Duration

	// Matchmaking tuning.
	SearchInterval   time.Duration
	MMRToleranceBase int
	MMRToleranceStep int
}

func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:              envStr("QB_ADDR", ":8080"),
		TokenSecret:       envStr("QB_TOKEN_SECRET", "dev-secret-change-me"),
		DatabaseDSN:       envStr("QB_DATABASE_DSN", ""),
		QuestionsPerMatch: envInt("QB_QUESTIONS_PER_MATCH", 5),
		TimePerQuestion:   envDur("QB_TIME_PER_QUESTION", 10*time.Second),
		MatchCountdown:    envDur("QB_MATCH_COUNTDOWN", 3*time.Second),
		ReconnectGrace:    envDur("QB_RECONNECT_GRACE", 10*time.Second),
		SearchInterval:    envDur("QB_SEARCH_INTERVAL", 2*time.Second),
		MMRToleranceBase:  envInt("QB_MMR_TOLERANCE_BASE", 100),
		MMRToleranceStep:  envInt("QB_MMR_TOLERANCE_STEP", 50),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
