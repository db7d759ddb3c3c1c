package engine

import (
	"errors"
	"sort"
)

var ErrWrongMatch = errors.New("answer for a different match")
var ErrStaleQuestion = errors.New("answer for a stale question index")
var ErrAlreadyAnswered = errors.New("already answered this question")
var ErrUnknownPlayer = errors.New("player not in this match")
var ErrInvalidAnswerIndex = errors.New("answer index out of range")
var ErrGameCompleted = errors.New("game already completed")
var ErrGameNotStarted = errors.New("game has not started")
var ErrUnsupportedCommand = errors.New("unsupported command")

const MaxHealth = 100

type Phase string

const (
	PhaseAwaitingStart Phase = "awaiting_start"
	PhaseQuestionOpen  Phase = "question_open"
	PhaseDone          Phase = "done"
)

type GameMode string

const (
	ModeCasual GameMode = "casual"
	ModeRanked GameMode = "ranked"
)

type Question struct {
	ID           string
	Text         string
	Answers      []string
	CorrectIndex int
	Difficulty   string
	Category     string
}

type PlayerState struct {
	Health         int
	Score          int
	CorrectAnswers int
	TotalAnswers   int

	// Per-question bookkeeping, reset when the question resolves.
	Answered      bool
	PendingDamage int

	// Cumulative answer time, for the game-over tie-break.
	AnswerTimeSum float64
}

type State struct {
	MatchID         string
	Mode            GameMode
	Questions       []Question
	QuestionIndex   int
	TimePerQuestion float64
	Phase           Phase
	PlayerIDs       []string // fixed order, two entries
	Players         map[string]PlayerState
}

func NewState(matchID string, mode GameMode, questions []Question, timePerQuestion float64, playerIDs []string) State {
	players := make(map[string]PlayerState, len(playerIDs))
	for _, id := range playerIDs {
		players[id] = PlayerState{Health: MaxHealth}
	}
	return State{
		MatchID:         matchID,
		Mode:            mode,
		Questions:       questions,
		TimePerQuestion: timePerQuestion,
		Phase:           PhaseAwaitingStart,
		PlayerIDs:       playerIDs,
		Players:         players,
	}
}

// Begin opens the first question. Until it runs, every command except
// a forfeit is rejected, so nothing can be answered before it has been
// broadcast.
func Begin(s State) State {
	s.Phase = PhaseQuestionOpen
	return s
}

// Opponent returns the other player's id.
func (s State) Opponent(userID string) string {
	for _, id := range s.PlayerIDs {
		if id != userID {
			return id
		}
	}
	return ""
}

// CurrentQuestion panics if called after completion; callers check Phase.
func (s State) CurrentQuestion() Question {
	return s.Questions[s.QuestionIndex]
}

type CommandType string

const (
	CmdSubmitAnswer    CommandType = "SubmitAnswer"
	CmdTimeoutQuestion CommandType = "TimeoutQuestion"
	CmdForfeit         CommandType = "Forfeit"
)

type Command struct {
	Type          CommandType
	MatchID       string
	UserID        string
	QuestionIndex int
	AnswerIndex   int
	AnswerTime    float64
}

type EventType string

const (
	EvtAnswerRecorded   EventType = "AnswerRecorded"
	EvtQuestionTimedOut EventType = "QuestionTimedOut"
	EvtQuestionResolved EventType = "QuestionResolved"
	EvtQuestionAdvanced EventType = "QuestionAdvanced"
	EvtGameCompleted    EventType = "GameCompleted"
)

type Event struct {
	Type          EventType
	UserID        string
	QuestionIndex int
	IsCorrect     bool
	Points        int
	AnswerTime    float64
}

// Apply runs one command against the state and returns the events it
// produced plus the successor state. On error the input state is
// returned unchanged and nothing may be broadcast.
func Apply(s State, cmd Command) ([]Event, State, error) {
	if s.Phase == PhaseDone {
		return nil, s, ErrGameCompleted
	}
	if s.Phase == PhaseAwaitingStart && cmd.Type != CmdForfeit {
		return nil, s, ErrGameNotStarted
	}

	switch cmd.Type {
	case CmdSubmitAnswer:
		if cmd.MatchID != s.MatchID {
			return nil, s, ErrWrongMatch
		}
		p, ok := s.Players[cmd.UserID]
		if !ok {
			return nil, s, ErrUnknownPlayer
		}
		if cmd.QuestionIndex != s.QuestionIndex {
			return nil, s, ErrStaleQuestion
		}
		if p.Answered {
			return nil, s, ErrAlreadyAnswered
		}
		q := s.CurrentQuestion()
		if cmd.AnswerIndex < 0 || cmd.AnswerIndex >= len(q.Answers) {
			return nil, s, ErrInvalidAnswerIndex
		}

		out := Resolve(q, cmd.AnswerIndex, cmd.AnswerTime, s.TimePerQuestion)

		newState := cloneState(s)
		p = newState.Players[cmd.UserID]
		p.Answered = true
		p.TotalAnswers++
		p.AnswerTimeSum += out.AnswerTime
		p.Score += out.Points
		p.PendingDamage = out.Damage
		if out.IsCorrect {
			p.CorrectAnswers++
		}
		newState.Players[cmd.UserID] = p

		events := []Event{{
			Type:          EvtAnswerRecorded,
			UserID:        cmd.UserID,
			QuestionIndex: s.QuestionIndex,
			IsCorrect:     out.IsCorrect,
			Points:        out.Points,
			AnswerTime:    out.AnswerTime,
		}}

		if allAnswered(newState) {
			resolved, resolvedState := resolveQuestion(newState)
			events = append(events, resolved...)
			newState = resolvedState
		}
		return events, newState, nil

	case CmdTimeoutQuestion:
		if cmd.QuestionIndex != s.QuestionIndex {
			// A stale timer fire; the session's generation guard should
			// have caught it already.
			return nil, s, ErrStaleQuestion
		}

		newState := cloneState(s)
		events := []Event{{Type: EvtQuestionTimedOut, QuestionIndex: s.QuestionIndex}}
		for _, id := range newState.PlayerIDs {
			p := newState.Players[id]
			if p.Answered {
				continue
			}
			p.Answered = true
			p.TotalAnswers++
			p.AnswerTimeSum += s.TimePerQuestion
			p.PendingDamage = 0
			newState.Players[id] = p
		}
		resolved, resolvedState := resolveQuestion(newState)
		events = append(events, resolved...)
		return events, resolvedState, nil

	case CmdForfeit:
		p, ok := s.Players[cmd.UserID]
		if !ok {
			return nil, s, ErrUnknownPlayer
		}
		newState := cloneState(s)
		p = newState.Players[cmd.UserID]
		p.Health = 0
		newState.Players[cmd.UserID] = p
		newState.Phase = PhaseDone
		return []Event{{Type: EvtGameCompleted, QuestionIndex: s.QuestionIndex}}, newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

// resolveQuestion applies pending damage, resets per-question flags and
// either advances the index or completes the game.
func resolveQuestion(s State) ([]Event, State) {
	idx := s.QuestionIndex
	for _, id := range s.PlayerIDs {
		opp := s.Opponent(id)
		attacker := s.Players[id]
		defender := s.Players[opp]
		defender.Health -= attacker.PendingDamage
		if defender.Health < 0 {
			defender.Health = 0
		}
		s.Players[opp] = defender
	}
	for _, id := range s.PlayerIDs {
		p := s.Players[id]
		p.Answered = false
		p.PendingDamage = 0
		s.Players[id] = p
	}

	events := []Event{{Type: EvtQuestionResolved, QuestionIndex: idx}}

	if anyDead(s) || idx+1 == len(s.Questions) {
		s.Phase = PhaseDone
		events = append(events, Event{Type: EvtGameCompleted, QuestionIndex: idx})
		return events, s
	}

	s.QuestionIndex = idx + 1
	events = append(events, Event{Type: EvtQuestionAdvanced, QuestionIndex: s.QuestionIndex})
	return events, s
}

// Winner applies the game-over ordering: a surviving player beats a dead
// one, then higher score, more correct answers, lower total answer time,
// and finally lexicographic user id so the result is deterministic.
func Winner(s State) (winnerID, loserID string) {
	ids := make([]string, len(s.PlayerIDs))
	copy(ids, s.PlayerIDs)
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := s.Players[ids[i]], s.Players[ids[j]]
		if (a.Health == 0) != (b.Health == 0) {
			return b.Health == 0
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.CorrectAnswers != b.CorrectAnswers {
			return a.CorrectAnswers > b.CorrectAnswers
		}
		if a.AnswerTimeSum != b.AnswerTimeSum {
			return a.AnswerTimeSum < b.AnswerTimeSum
		}
		return ids[i] < ids[j]
	})
	return ids[0], ids[1]
}

func allAnswered(s State) bool {
	for _, id := range s.PlayerIDs {
		if !s.Players[id].Answered {
			return false
		}
	}
	return true
}

func anyDead(s State) bool {
	for _, id := range s.PlayerIDs {
		if s.Players[id].Health == 0 {
			return true
		}
	}
	return false
}

func cloneState(s State) State {
	players := make(map[string]PlayerState, len(s.Players))
	for id, p := range s.Players {
		players[id] = p
	}
	s.Players = players
	return s
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
