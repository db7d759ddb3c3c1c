package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-battle-backend/internal/engine"
	"github.com/DoyleJ11/quiz-battle-backend/internal/rating"
	"github.com/DoyleJ11/quiz-battle-backend/pkg/types"
)

type Msg interface{ isSessionMsg() }

// Start kicks off the first question. Sent by the orchestrator once the
// match countdown has elapsed.
type Start struct{}

// Join attaches (or re-attaches) a player's connection outbox. On a
// reconnect inside the grace window the current question is re-sent.
type Join struct {
	UserID string
	Outbox chan<- types.Envelope
}

// Leave marks the player disconnected and starts the grace timer.
type Leave struct{ UserID string }

// Submit carries an answer. The reply holds the engine's verdict so the
// gateway can surface validation errors without the session caring.
type Submit struct {
	Cmd   engine.Command
	Reply chan error
}

type Shutdown struct{}

// GetState reflects internal state without data races; test-only.
type GetState struct {
	Reply chan engine.State
}

func (Start) isSessionMsg()    {}
func (Join) isSessionMsg()     {}
func (Leave) isSessionMsg()    {}
func (Submit) isSessionMsg()   {}
func (Shutdown) isSessionMsg() {}
func (GetState) isSessionMsg() {}

// Internal timer fires. Each carries the generation it was armed under;
// a fire whose generation is stale is discarded, which is what makes
// early cancellation race-free.
type questionDeadline struct {
	gen   int
	index int
}

type graceExpired struct {
	userID string
	gen    int
}

func (questionDeadline) isSessionMsg() {}
func (graceExpired) isSessionMsg()     {}

// Player couples a user's identity with their connection outbox.
type Player struct {
	UserID   string
	Username string
	Outbox   chan<- types.Envelope
}

// Config is everything a session needs beyond its players.
type Config struct {
	TimePerQuestion time.Duration
	ReconnectGrace  time.Duration
}

// Session is the authoritative actor for one match. It is the sole
// owner of its engine state and its timers.
type Session struct {
	inbox     chan Msg
	state     engine.State
	players   map[string]Player
	connected map[string]bool
	graceGen  map[string]int
	gen       int
	cfg       Config
	ratings   *rating.Service
	onFinish  func(matchID string)
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// New builds the actor and starts its loop. ratings may be nil for a
// casual match. onFinish runs once, after game.over has been sent.
func New(parent context.Context, state engine.State, players []Player, cfg Config, ratings *rating.Service, onFinish func(matchID string), logger *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		inbox:     make(chan Msg, 64),
		state:     state,
		players:   make(map[string]Player, len(players)),
		connected: make(map[string]bool, len(players)),
		graceGen:  make(map[string]int, len(players)),
		cfg:       cfg,
		ratings:   ratings,
		onFinish:  onFinish,
		logger:    logger.Named("session").With(zap.String("matchId", state.MatchID)),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, p := range players {
		s.players[p.UserID] = p
		s.connected[p.UserID] = true
	}
	go s.loop()
	return s
}

func (s *Session) Inbox() chan<- Msg { return s.inbox }

func (s *Session) MatchID() string { return s.state.MatchID }

// Done closes once the session has finished or shut down. Senders
// should select on it so a reply from a dead session cannot hang them.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

func (s *Session) loop() {
	defer s.cancel()

	for {
		select {
		case <-s.ctx.Done():
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Start:
				s.state = engine.Begin(s.state)
				s.broadcast(types.Make(types.MsgGameStarted, types.GameStarted{
					MatchID: s.state.MatchID,
					GameState: types.GameStartedState{
						TotalQuestions:  len(s.state.Questions),
						TimePerQuestion: int(s.cfg.TimePerQuestion.Seconds()),
					},
				}))
				s.openQuestion()

			case Submit:
				done := s.handleCommand(msg.Cmd, msg.Reply)
				if done {
					return
				}

			case questionDeadline:
				if msg.gen != s.gen || msg.index != s.state.QuestionIndex {
					break // stale fire, question already resolved
				}
				cmd := engine.Command{Type: engine.CmdTimeoutQuestion, QuestionIndex: msg.index}
				if s.handleCommand(cmd, nil) {
					return
				}

			case Join:
				if _, ok := s.players[msg.UserID]; !ok {
					break
				}
				p := s.players[msg.UserID]
				p.Outbox = msg.Outbox
				s.players[msg.UserID] = p
				s.connected[msg.UserID] = true
				s.graceGen[msg.UserID]++
				s.logger.Info("player rejoined", zap.String("userId", msg.UserID))
				s.resync(msg.UserID)

			case Leave:
				if !s.connected[msg.UserID] {
					break
				}
				s.connected[msg.UserID] = false
				s.graceGen[msg.UserID]++
				gen := s.graceGen[msg.UserID]
				s.logger.Info("player disconnected, grace running",
					zap.String("userId", msg.UserID), zap.Duration("grace", s.cfg.ReconnectGrace))
				s.arm(s.cfg.ReconnectGrace, graceExpired{userID: msg.UserID, gen: gen})

			case graceExpired:
				if msg.gen != s.graceGen[msg.userID] || s.connected[msg.userID] {
					break
				}
				s.logger.Info("grace expired, forfeiting", zap.String("userId", msg.userID))
				cmd := engine.Command{Type: engine.CmdForfeit, UserID: msg.userID}
				if s.handleCommand(cmd, nil) {
					return
				}

			case GetState:
				msg.Reply <- s.state

			case Shutdown:
				return
			}
		}
	}
}

// handleCommand runs one engine command, fans out the resulting
// messages, and reports whether the game finished.
func (s *Session) handleCommand(cmd engine.Command, reply chan error) bool {
	events, newState, err := engine.Apply(s.state, cmd)
	if reply != nil {
		reply <- err
	}
	if err != nil {
		return false
	}
	s.state = newState

	for _, ev := range events {
		switch ev.Type {
		case engine.EvtAnswerRecorded:
			s.send(ev.UserID, types.Make(types.MsgAnswerReceived, types.AnswerReceived{
				IsCorrect:  ev.IsCorrect,
				Points:     ev.Points,
				AnswerTime: ev.AnswerTime,
			}))
			s.send(s.state.Opponent(ev.UserID), types.Make(types.MsgOpponentAnswered, types.OpponentAnswered{
				IsCorrect:  ev.IsCorrect,
				AnswerTime: ev.AnswerTime,
			}))

		case engine.EvtQuestionTimedOut:
			s.broadcast(types.Make(types.MsgQuestionTimeout, types.QuestionTimeout{
				MatchID:       s.state.MatchID,
				QuestionIndex: ev.QuestionIndex,
			}))

		case engine.EvtQuestionResolved:
			s.gen++ // cancel the deadline timer for the resolved question
			for id := range s.players {
				s.send(id, types.Make(types.MsgBattleUpdate, types.BattleUpdate{
					MatchID: s.state.MatchID,
					GameState: types.BattleState{
						PlayerHealth:   s.state.Players[id].Health,
						OpponentHealth: s.state.Players[s.state.Opponent(id)].Health,
					},
				}))
			}

		case engine.EvtQuestionAdvanced:
			s.openQuestion()

		case engine.EvtGameCompleted:
			s.finishGame()
			return true
		}
	}
	return false
}

// openQuestion broadcasts the current question and arms its deadline.
func (s *Session) openQuestion() {
	q := s.state.CurrentQuestion()
	s.broadcast(types.Make(types.MsgQuestionNew, types.QuestionNew{
		MatchID:       s.state.MatchID,
		QuestionIndex: s.state.QuestionIndex,
		Question: types.WireQuestion{
			ID:      q.ID,
			Text:    q.Text,
			Answers: q.Answers,
		},
	}))
	s.gen++
	s.arm(s.cfg.TimePerQuestion, questionDeadline{gen: s.gen, index: s.state.QuestionIndex})
}

// resync brings a rejoining player back up to the current question.
// Before Start there is nothing to replay yet.
func (s *Session) resync(userID string) {
	if s.state.Phase == engine.PhaseAwaitingStart {
		return
	}
	s.send(userID, types.Make(types.MsgGameStarted, types.GameStarted{
		MatchID: s.state.MatchID,
		GameState: types.GameStartedState{
			TotalQuestions:  len(s.state.Questions),
			TimePerQuestion: int(s.cfg.TimePerQuestion.Seconds()),
		},
	}))
	if s.state.Phase != engine.PhaseQuestionOpen {
		return
	}
	q := s.state.CurrentQuestion()
	s.send(userID, types.Make(types.MsgQuestionNew, types.QuestionNew{
		MatchID:       s.state.MatchID,
		QuestionIndex: s.state.QuestionIndex,
		Question:      types.WireQuestion{ID: q.ID, Text: q.Text, Answers: q.Answers},
	}))
}

func (s *Session) finishGame() {
	winnerID, loserID := engine.Winner(s.state)
	winner, loser := s.state.Players[winnerID], s.state.Players[loserID]
	rewards := engine.RewardsFor(winner, loser)

	s.broadcast(types.Make(types.MsgGameOver, types.GameOver{
		Winner: types.PlayerResult{
			UserID:         winnerID,
			Username:       s.players[winnerID].Username,
			FinalScore:     winner.Score,
			CorrectAnswers: winner.CorrectAnswers,
			TotalAnswers:   winner.TotalAnswers,
		},
		Loser: types.PlayerResult{
			UserID:         loserID,
			Username:       s.players[loserID].Username,
			FinalScore:     loser.Score,
			CorrectAnswers: loser.CorrectAnswers,
			TotalAnswers:   loser.TotalAnswers,
		},
		Rewards: types.Rewards{
			Winner: types.Reward{Points: rewards.Winner.Points, Experience: rewards.Winner.Experience, Coins: rewards.Winner.Coins},
			Loser:  types.Reward{Points: rewards.Loser.Points, Experience: rewards.Loser.Experience, Coins: rewards.Loser.Coins},
		},
	}))

	if s.state.Mode == engine.ModeRanked && s.ratings != nil {
		s.applyRanked(winnerID, loserID)
	}

	s.logger.Info("game over", zap.String("winner", winnerID), zap.String("loser", loserID))
	if s.onFinish != nil {
		s.onFinish(s.state.MatchID)
	}
}

// applyRanked persists MMR changes. A store failure downgrades the
// match to casual: logged, never surfaced as a lost game.
func (s *Session) applyRanked(winnerID, loserID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.ratings.ApplyResult(ctx, winnerID, loserID)
	if err != nil {
		s.logger.Error("rating update failed, match counts as casual", zap.Error(err))
		return
	}
	for _, change := range []rating.PlayerChange{res.Winner, res.Loser} {
		s.send(change.UserID, types.Make(types.MsgRankedMMRChanged, types.RankedMMRChanged{
			MMRChange: change.Delta,
			NewMMR:    change.NewMMR,
			Tier:      change.Tier,
			Division:  change.Division,
		}))
	}
}

// arm schedules a single-shot fire back into the inbox. The ctx guard
// keeps a late fire from blocking after shutdown.
func (s *Session) arm(d time.Duration, msg Msg) {
	time.AfterFunc(d, func() {
		select {
		case s.inbox <- msg:
		case <-s.ctx.Done():
		}
	})
}

func (s *Session) broadcast(env types.Envelope) {
	for id := range s.players {
		s.send(id, env)
	}
}

// send is non-blocking: a full outbox means the connection is stalled
// or gone, and the disconnect path will deal with the player.
func (s *Session) send(userID string, env types.Envelope) {
	p, ok := s.players[userID]
	if !ok || p.Outbox == nil {
		return
	}
	select {
	case p.Outbox <- env:
	default:
		s.logger.Warn("dropping message for slow client",
			zap.String("userId", userID), zap.String("type", env.Type))
	}
}
