package match

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-battle-backend/internal/engine"
	"github.com/DoyleJ11/quiz-battle-backend/internal/hub"
	"github.com/DoyleJ11/quiz-battle-backend/internal/matchmaking"
	"github.com/DoyleJ11/quiz-battle-backend/internal/questions"
	"github.com/DoyleJ11/quiz-battle-backend/internal/rating"
	"github.com/DoyleJ11/quiz-battle-backend/internal/session"
	"github.com/DoyleJ11/quiz-battle-backend/pkg/types"
)

type Config struct {
	QuestionsPerMatch int
	TimePerQuestion   time.Duration
	Countdown         time.Duration
	ReconnectGrace    time.Duration
}

// Orchestrator turns queue pairs into running game sessions: announce,
// count down, fetch questions, hand off.
type Orchestrator struct {
	hub     *hub.Hub
	queue   *matchmaking.Queue
	bank    questions.Bank
	ratings *rating.Service
	cfg     Config
	logger  *zap.Logger
}

func NewOrchestrator(h *hub.Hub, q *matchmaking.Queue, bank questions.Bank, ratings *rating.Service, cfg Config, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		hub:     h,
		queue:   q,
		bank:    bank,
		ratings: ratings,
		cfg:     cfg,
		logger:  logger.Named("orchestrator"),
	}
}

// Run consumes pairs until the context ends. Each match sets up in its
// own goroutine so a slow question fetch never delays other pairings.
func (o *Orchestrator) Run(ctx context.Context, pairs <-chan matchmaking.Pair) {
	for {
		select {
		case <-ctx.Done():
			return
		case pair := <-pairs:
			go o.startMatch(ctx, pair)
		}
	}
}

func (o *Orchestrator) startMatch(ctx context.Context, pair matchmaking.Pair) {
	matchID := uuid.NewString()
	logger := o.logger.With(zap.String("matchId", matchID))
	logger.Info("match paired",
		zap.String("a", pair.A.UserID), zap.String("b", pair.B.UserID),
		zap.String("mode", string(pair.A.Mode)))

	startIn := int(math.Ceil(o.cfg.Countdown.Seconds()))
	o.announce(pair.A, pair.B, matchID, startIn)
	o.announce(pair.B, pair.A, matchID, startIn)

	select {
	case <-ctx.Done():
		return
	case <-pair.A.Gone:
		logger.Info("player left before handoff, re-queueing opponent", zap.String("userId", pair.A.UserID))
		o.requeue(pair.B)
		return
	case <-pair.B.Gone:
		logger.Info("player left before handoff, re-queueing opponent", zap.String("userId", pair.B.UserID))
		o.requeue(pair.A)
		return
	case <-time.After(o.cfg.Countdown):
	}

	qs, err := o.bank.GetQuestions(ctx, pair.A.Difficulty, pair.A.Category, o.cfg.QuestionsPerMatch)
	if err != nil {
		if errors.Is(err, questions.ErrNoQuestions) {
			logger.Warn("no questions for bucket, match aborted",
				zap.String("difficulty", pair.A.Difficulty), zap.String("category", pair.A.Category))
		} else {
			logger.Error("question fetch failed, match aborted", zap.Error(err))
		}
		o.abort(pair, "no questions available for the selected category")
		return
	}

	// The fetch can take a while; a player may have dropped in the
	// meantime, before any session exists to run the grace window.
	if entryGone(pair.A) {
		logger.Info("player left during question fetch, re-queueing opponent", zap.String("userId", pair.A.UserID))
		o.requeue(pair.B)
		return
	}
	if entryGone(pair.B) {
		logger.Info("player left during question fetch, re-queueing opponent", zap.String("userId", pair.B.UserID))
		o.requeue(pair.A)
		return
	}

	state := engine.NewState(matchID, pair.A.Mode, qs, o.cfg.TimePerQuestion.Seconds(), []string{pair.A.UserID, pair.B.UserID})
	players := []session.Player{
		{UserID: pair.A.UserID, Username: pair.A.Username, Outbox: pair.A.Notify},
		{UserID: pair.B.UserID, Username: pair.B.Username, Outbox: pair.B.Notify},
	}
	sessionCfg := session.Config{
		TimePerQuestion: o.cfg.TimePerQuestion,
		ReconnectGrace:  o.cfg.ReconnectGrace,
	}
	var ratings *rating.Service
	if pair.A.Mode == engine.ModeRanked {
		ratings = o.ratings
	}
	onFinish := func(matchID string) {
		o.hub.Inbox() <- hub.RemoveSession{MatchID: matchID}
	}
	sess := session.New(ctx, state, players, sessionCfg, ratings, onFinish, o.logger)

	reply := make(chan bool, 1)
	o.hub.Inbox() <- hub.Register{Session: sess, Players: []string{pair.A.UserID, pair.B.UserID}, Reply: reply}
	if !<-reply {
		logger.Warn("player already in a match, aborting pairing")
		sess.Inbox() <- session.Shutdown{}
		o.abort(pair, "a player is already in an active match")
		return
	}

	sess.Inbox() <- session.Start{}

	// Last window: a disconnect between the fetch check and here found
	// neither a queue entry nor a hub session to clean up. Hand it to
	// the session's grace path.
	for _, e := range []matchmaking.Entry{pair.A, pair.B} {
		if entryGone(e) {
			sess.Inbox() <- session.Leave{UserID: e.UserID}
		}
	}
}

func entryGone(e matchmaking.Entry) bool {
	select {
	case <-e.Gone:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) announce(to, opponent matchmaking.Entry, matchID string, startIn int) {
	env := types.Make(types.MsgMatchmakingFound, types.MatchmakingFound{
		MatchID: matchID,
		Opponent: types.OpponentInfo{
			UserID:   opponent.UserID,
			Username: opponent.Username,
			MMR:      opponent.MMR,
		},
		StartIn: startIn,
	})
	o.notify(to, env)
}

// abort tells both players and puts them back in the queue.
func (o *Orchestrator) abort(pair matchmaking.Pair, reason string) {
	env := types.Make(types.MsgError, types.Error{Message: reason})
	o.notify(pair.A, env)
	o.notify(pair.B, env)
	o.requeue(pair.A)
	o.requeue(pair.B)
}

func (o *Orchestrator) requeue(e matchmaking.Entry) {
	select {
	case <-e.Gone:
		return
	default:
	}
	e.EnqueuedAt = time.Time{} // waiting starts over
	reply := make(chan int, 1)
	o.queue.Inbox() <- matchmaking.Enqueue{Entry: e, Reply: reply}
	<-reply
}

func (o *Orchestrator) notify(e matchmaking.Entry, env types.Envelope) {
	if e.Notify == nil {
		return
	}
	select {
	case e.Notify <- env:
	default:
	}
}
