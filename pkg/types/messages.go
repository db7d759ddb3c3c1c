package types

import "encoding/json"

// Envelope is the outer frame for every message in both directions.
// Payload stays raw until the type switch so unknown types can be
// rejected without a partial decode.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client -> Server message types.
const (
	MsgAuthConnect       = "auth:connect"
	MsgMatchmakingFind   = "matchmaking.find"
	MsgMatchmakingCancel = "matchmaking.cancel"
	MsgAnswerSubmit      = "game.answer.submit"
	MsgRankedStatsSync   = "ranked.stats.sync"
	MsgPing              = "connection.ping"
)

// Server -> Client message types.
const (
	MsgAuthConnected        = "auth.connected"
	MsgAuthError            = "auth.error"
	MsgMatchmakingSearching = "matchmaking.searching"
	MsgMatchmakingFound     = "matchmaking.found"
	MsgMatchmakingCancelled = "matchmaking.cancelled"
	MsgGameStarted          = "game.started"
	MsgQuestionNew          = "game.question.new"
	MsgAnswerReceived       = "game.answer.received"
	MsgOpponentAnswered     = "game.opponent.answered"
	MsgBattleUpdate         = "game.battle.update"
	MsgQuestionTimeout      = "game.question.timeout"
	MsgGameOver             = "game.over"
	MsgRankedMMRChanged     = "ranked.mmr.changed"
	MsgRankedStats          = "ranked.stats"
	MsgPong                 = "connection.pong"
	MsgError                = "error"
)

type AuthConnect struct {
	Token    string `json:"token"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	DeviceID string `json:"deviceId"`
}

type AuthConnected struct {
	SessionID string `json:"sessionId"`
}

type AuthError struct {
	Message string `json:"message"`
}

type MatchmakingFind struct {
	UserID     string `json:"userId"`
	GameMode   string `json:"gameMode"`
	Difficulty string `json:"difficulty"`
	Category   string `json:"category"`
}

type MatchmakingCancel struct {
	UserID string `json:"userId"`
}

type MatchmakingSearching struct {
	PlayersInQueue int `json:"playersInQueue"`
}

type OpponentInfo struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	MMR      int    `json:"mmr,omitempty"`
}

type MatchmakingFound struct {
	MatchID  string       `json:"matchId"`
	Opponent OpponentInfo `json:"opponent"`
	StartIn  int          `json:"startIn"`
}

type GameStartedState struct {
	TotalQuestions  int `json:"totalQuestions"`
	TimePerQuestion int `json:"timePerQuestion"`
}

type GameStarted struct {
	MatchID   string           `json:"matchId"`
	GameState GameStartedState `json:"gameState"`
}

// WireQuestion is the client view of a question. The correct index
// never crosses the wire.
type WireQuestion struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Answers []string `json:"answers"`
}

type QuestionNew struct {
	MatchID       string       `json:"matchId"`
	QuestionIndex int          `json:"questionIndex"`
	Question      WireQuestion `json:"question"`
}

type AnswerSubmit struct {
	MatchID       string  `json:"matchId"`
	UserID        string  `json:"userId"`
	QuestionID    string  `json:"questionId"`
	QuestionIndex int     `json:"questionIndex"`
	AnswerIndex   int     `json:"answerIndex"`
	AnswerTime    float64 `json:"answerTime"`
	Timestamp     int64   `json:"timestamp"`
}

type AnswerReceived struct {
	IsCorrect  bool    `json:"isCorrect"`
	Points     int     `json:"points"`
	AnswerTime float64 `json:"answerTime"`
}

type OpponentAnswered struct {
	IsCorrect  bool    `json:"isCorrect"`
	AnswerTime float64 `json:"answerTime"`
}

// BattleState is per-recipient: each player sees its own health first.
type BattleState struct {
	PlayerHealth   int `json:"playerHealth"`
	OpponentHealth int `json:"opponentHealth"`
}

type BattleUpdate struct {
	MatchID   string      `json:"matchId"`
	GameState BattleState `json:"gameState"`
}

type QuestionTimeout struct {
	MatchID       string `json:"matchId"`
	QuestionIndex int    `json:"questionIndex"`
}

type PlayerResult struct {
	UserID         string `json:"userId"`
	Username       string `json:"username"`
	FinalScore     int    `json:"finalScore"`
	CorrectAnswers int    `json:"correctAnswers"`
	TotalAnswers   int    `json:"totalAnswers"`
}

type Reward struct {
	Points     int `json:"points"`
	Experience int `json:"experience"`
	Coins      int `json:"coins"`
}

type Rewards struct {
	Winner Reward `json:"winner"`
	Loser  Reward `json:"loser"`
}

type GameOver struct {
	Winner  PlayerResult `json:"winner"`
	Loser   PlayerResult `json:"loser"`
	Rewards Rewards      `json:"rewards"`
}

type RankedStatsSync struct {
	UserID string `json:"userId"`
}

type RankedStats struct {
	UserID   string `json:"userId"`
	MMR      int    `json:"mmr"`
	Tier     string `json:"tier"`
	Division string `json:"division"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
}

type RankedMMRChanged struct {
	MMRChange int    `json:"mmrChange"`
	NewMMR    int    `json:"newMMR"`
	Tier      string `json:"tier"`
	Division  string `json:"division"`
}

type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

type Pong struct {
	Timestamp int64 `json:"timestamp"`
}

type Error struct {
	Message string `json:"message"`
}

// Make wraps a payload into an Envelope. The payload structs above
// cannot fail to marshal.
func Make(msgType string, payload any) Envelope {
	raw, _ := json.Marshal(payload)
	return Envelope{Type: msgType, Payload: raw}
}
