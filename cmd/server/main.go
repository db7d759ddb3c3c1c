package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/DoyleJ11/quiz-battle-backend/internal/auth"
	"github.com/DoyleJ11/quiz-battle-backend/internal/config"
	"github.com/DoyleJ11/quiz-battle-backend/internal/httpapi"
	"github.com/DoyleJ11/quiz-battle-backend/internal/hub"
	"github.com/DoyleJ11/quiz-battle-backend/internal/match"
	"github.com/DoyleJ11/quiz-battle-backend/internal/matchmaking"
	"github.com/DoyleJ11/quiz-battle-backend/internal/questions"
	"github.com/DoyleJ11/quiz-battle-backend/internal/rating"
	"github.com/DoyleJ11/quiz-battle-backend/internal/ws"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		ratingStore rating.Store
		bank        questions.Bank
	)
	if cfg.DatabaseDSN != "" {
		db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		ratingStore, err = rating.NewGormStore(db)
		if err != nil {
			logger.Fatal("rating store migration failed", zap.Error(err))
		}
		bank, err = questions.NewGormBank(db)
		if err != nil {
			logger.Fatal("question bank migration failed", zap.Error(err))
		}
	} else {
		logger.Warn("no database configured, running on in-memory stores")
		ratingStore = rating.NewMemoryStore()
		bank = questions.NewMemoryBank()
	}

	ratings := rating.NewService(ratingStore, logger)
	verifier := auth.NewVerifier(cfg.TokenSecret)

	h := hub.NewHub(ctx)
	pairs := make(chan matchmaking.Pair, 16)
	queue := matchmaking.NewQueue(ctx, matchmaking.Tuning{
		SearchInterval: cfg.SearchInterval,
		ToleranceBase:  cfg.MMRToleranceBase,
		ToleranceStep:  cfg.MMRToleranceStep,
	}, pairs, logger)

	orchestrator := match.NewOrchestrator(h, queue, bank, ratings, match.Config{
		QuestionsPerMatch: cfg.QuestionsPerMatch,
		TimePerQuestion:   cfg.TimePerQuestion,
		Countdown:         cfg.MatchCountdown,
		ReconnectGrace:    cfg.ReconnectGrace,
	}, logger)

	gateway := ws.NewGateway(verifier, queue, h, ratings, logger)
	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: httpapi.SetupRoutes(gateway, ratings),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		orchestrator.Run(ctx, pairs)
		return nil
	})
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return server.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
