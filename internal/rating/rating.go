package rating

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
)

var ErrProfileNotFound = errors.New("ranked profile not found")

const (
	DefaultMMR = 1000
	KFactor    = 32
)

// Profile is a user's persisted ranked standing.
type Profile struct {
	UserID   string `gorm:"primaryKey;column:user_id"`
	MMR      int    `gorm:"column:mmr"`
	Tier     string `gorm:"column:tier"`
	Division string `gorm:"column:division"`
	Wins     int    `gorm:"column:wins"`
	Losses   int    `gorm:"column:losses"`
}

func (Profile) TableName() string { return "ranked_profiles" }

// Store persists ranked profiles. Get returns ErrProfileNotFound for
// unknown users; the service substitutes a fresh default profile.
type Store interface {
	Get(ctx context.Context, userID string) (Profile, error)
	Put(ctx context.Context, profile Profile) error
}

// PlayerChange is one side of an applied match result.
type PlayerChange struct {
	UserID   string
	Delta    int
	NewMMR   int
	Tier     string
	Division string
}

type Result struct {
	Winner PlayerChange
	Loser  PlayerChange
}

type Service struct {
	store  Store
	logger *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger.Named("rating")}
}

// expectedScore is the standard ELO win expectancy for a against b.
func expectedScore(a, b int) float64 {
	return 1 / (1 + math.Pow(10, float64(b-a)/400))
}

// ApplyResult updates both profiles for a decided ranked match and
// persists them. The winner's delta is always positive and the loser's
// negative, even at extreme MMR gaps, so a win never reads as a loss.
func (s *Service) ApplyResult(ctx context.Context, winnerID, loserID string) (Result, error) {
	winner, err := s.fetch(ctx, winnerID)
	if err != nil {
		return Result{}, fmt.Errorf("load winner profile: %w", err)
	}
	loser, err := s.fetch(ctx, loserID)
	if err != nil {
		return Result{}, fmt.Errorf("load loser profile: %w", err)
	}

	winDelta := int(math.Round(KFactor * (1 - expectedScore(winner.MMR, loser.MMR))))
	loseDelta := int(math.Round(KFactor * (0 - expectedScore(loser.MMR, winner.MMR))))
	if winDelta < 1 {
		winDelta = 1
	}
	if loseDelta > -1 {
		loseDelta = -1
	}

	winner.MMR += winDelta
	winner.Wins++
	loser.MMR += loseDelta
	if loser.MMR < 0 {
		loser.MMR = 0
	}
	loser.Losses++

	winner.Tier, winner.Division = TierFor(winner.MMR)
	loser.Tier, loser.Division = TierFor(loser.MMR)

	if err := s.store.Put(ctx, winner); err != nil {
		return Result{}, fmt.Errorf("persist winner profile: %w", err)
	}
	if err := s.store.Put(ctx, loser); err != nil {
		return Result{}, fmt.Errorf("persist loser profile: %w", err)
	}

	s.logger.Info("applied ranked result",
		zap.String("winner", winnerID), zap.Int("winnerDelta", winDelta),
		zap.String("loser", loserID), zap.Int("loserDelta", loseDelta))

	return Result{
		Winner: PlayerChange{UserID: winnerID, Delta: winDelta, NewMMR: winner.MMR, Tier: winner.Tier, Division: winner.Division},
		Loser:  PlayerChange{UserID: loserID, Delta: loseDelta, NewMMR: loser.MMR, Tier: loser.Tier, Division: loser.Division},
	}, nil
}

// Stats is the read-only path behind ranked.stats.sync. It never writes.
func (s *Service) Stats(ctx context.Context, userID string) (Profile, error) {
	return s.fetch(ctx, userID)
}

func (s *Service) fetch(ctx context.Context, userID string) (Profile, error) {
	p, err := s.store.Get(ctx, userID)
	if errors.Is(err, ErrProfileNotFound) {
		tier, division := TierFor(DefaultMMR)
		return Profile{UserID: userID, MMR: DefaultMMR, Tier: tier, Division: division}, nil
	}
	return p, err
}
