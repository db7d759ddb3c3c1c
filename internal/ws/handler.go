package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-battle-backend/internal/auth"
	"github.com/DoyleJ11/quiz-battle-backend/internal/engine"
	"github.com/DoyleJ11/quiz-battle-backend/internal/hub"
	"github.com/DoyleJ11/quiz-battle-backend/internal/matchmaking"
	"github.com/DoyleJ11/quiz-battle-backend/internal/rating"
	"github.com/DoyleJ11/quiz-battle-backend/internal/session"
	"github.com/DoyleJ11/quiz-battle-backend/pkg/types"
)

// Gateway owns every client connection: it authenticates, decodes the
// envelope, and routes messages to the queue or the player's session.
type Gateway struct {
	verifier *auth.Verifier
	queue    *matchmaking.Queue
	hub      *hub.Hub
	ratings  *rating.Service
	logger   *zap.Logger

	mu        sync.Mutex
	connected map[string]string // userID -> sessionID
}

func NewGateway(verifier *auth.Verifier, queue *matchmaking.Queue, h *hub.Hub, ratings *rating.Service, logger *zap.Logger) *Gateway {
	return &Gateway{
		verifier:  verifier,
		queue:     queue,
		hub:       h,
		ratings:   ratings,
		logger:    logger.Named("gateway"),
		connected: make(map[string]string),
	}
}

// conn is the per-connection state the read loop mutates.
type conn struct {
	sessionID string
	userID    string
	username  string
	deviceID  string
	out       chan types.Envelope
	gone      <-chan struct{}
}

func (c *conn) authed() bool { return c.sessionID != "" }

func (g *Gateway) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close(websocket.StatusNormalClosure, "bye")

		connCtx, cancel := context.WithCancel(r.Context())

		c := &conn{
			out:  make(chan types.Envelope, 32),
			gone: connCtx.Done(),
		}
		defer g.teardown(c)
		// Runs before teardown, so the gone channel is already closed
		// when the queue and session are told about the disconnect.
		defer cancel()

		// Writer goroutine so the read loop never blocks on the network.
		go func() {
			for {
				select {
				case <-connCtx.Done():
					return
				case env := <-c.out:
					payload, _ := json.Marshal(env)
					writeCtx, writeCancel := context.WithTimeout(connCtx, 3*time.Second)
					_ = ws.Write(writeCtx, websocket.MessageText, payload)
					writeCancel()
				}
			}
		}()

		for {
			_, data, err := ws.Read(connCtx)
			if err != nil {
				// Clean close and network error both end the loop; the
				// deferred teardown handles queue and session cleanup.
				return
			}

			var env types.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.send(types.Make(types.MsgError, types.Error{Message: "malformed message"}))
				continue
			}
			g.dispatch(connCtx, c, env)
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, c *conn, env types.Envelope) {
	if env.Type == types.MsgAuthConnect {
		g.handleAuth(c, env.Payload)
		return
	}
	if !c.authed() {
		c.send(types.Make(types.MsgError, types.Error{Message: "not authenticated"}))
		return
	}

	switch env.Type {
	case types.MsgMatchmakingFind:
		g.handleFind(ctx, c, env.Payload)
	case types.MsgMatchmakingCancel:
		g.handleCancel(c, env.Payload)
	case types.MsgAnswerSubmit:
		g.handleAnswer(c, env.Payload)
	case types.MsgRankedStatsSync:
		g.handleStatsSync(ctx, c, env.Payload)
	case types.MsgPing:
		var p types.Ping
		_ = json.Unmarshal(env.Payload, &p)
		c.send(types.Make(types.MsgPong, types.Pong{Timestamp: p.Timestamp}))
	default:
		c.send(types.Make(types.MsgError, types.Error{Message: "unknown message type"}))
	}
}

func (g *Gateway) handleAuth(c *conn, payload json.RawMessage) {
	var req types.AuthConnect
	if err := json.Unmarshal(payload, &req); err != nil {
		c.send(types.Make(types.MsgAuthError, types.AuthError{Message: "malformed auth payload"}))
		return
	}
	claims, err := g.verifier.Verify(req.Token)
	if err != nil {
		c.send(types.Make(types.MsgAuthError, types.AuthError{Message: "invalid token"}))
		return
	}
	if req.UserID != "" && req.UserID != claims.UserID {
		c.send(types.Make(types.MsgAuthError, types.AuthError{Message: "token does not match user"}))
		return
	}
	if c.authed() {
		c.send(types.Make(types.MsgAuthError, types.AuthError{Message: "already authenticated"}))
		return
	}

	sessionID := uuid.NewString()
	g.mu.Lock()
	if _, busy := g.connected[claims.UserID]; busy {
		g.mu.Unlock()
		c.send(types.Make(types.MsgAuthError, types.AuthError{Message: "user already connected"}))
		return
	}
	g.connected[claims.UserID] = sessionID
	g.mu.Unlock()

	c.sessionID = sessionID
	c.userID = claims.UserID
	c.username = claims.Username
	c.deviceID = req.DeviceID
	g.logger.Info("client authenticated",
		zap.String("userId", c.userID), zap.String("sessionId", sessionID))
	c.send(types.Make(types.MsgAuthConnected, types.AuthConnected{SessionID: sessionID}))

	// Reconnect path: a user still inside a match's grace window gets
	// this connection reattached to the running session.
	if s := g.sessionFor(c.userID); s != nil {
		s.Inbox() <- session.Join{UserID: c.userID, Outbox: c.out}
	}
}

func (g *Gateway) handleFind(ctx context.Context, c *conn, payload json.RawMessage) {
	var req types.MatchmakingFind
	if err := json.Unmarshal(payload, &req); err != nil {
		c.send(types.Make(types.MsgError, types.Error{Message: "malformed matchmaking payload"}))
		return
	}
	mode := engine.GameMode(req.GameMode)
	if mode != engine.ModeCasual && mode != engine.ModeRanked {
		c.send(types.Make(types.MsgError, types.Error{Message: "unknown game mode"}))
		return
	}
	if req.Difficulty == "" || req.Category == "" {
		c.send(types.Make(types.MsgError, types.Error{Message: "difficulty and category are required"}))
		return
	}
	if s := g.sessionFor(c.userID); s != nil {
		c.send(types.Make(types.MsgError, types.Error{Message: "already in an active match"}))
		return
	}

	entry := matchmaking.Entry{
		UserID:     c.userID,
		Username:   c.username,
		Mode:       mode,
		Difficulty: req.Difficulty,
		Category:   req.Category,
		Notify:     c.out,
		Gone:       c.gone,
	}
	if mode == engine.ModeRanked {
		profile, err := g.ratings.Stats(ctx, c.userID)
		if err != nil {
			g.logger.Error("rating lookup failed, queueing at default MMR",
				zap.String("userId", c.userID), zap.Error(err))
			profile.MMR = rating.DefaultMMR
		}
		entry.MMR = profile.MMR
	}

	reply := make(chan int, 1)
	g.queue.Inbox() <- matchmaking.Enqueue{Entry: entry, Reply: reply}
	c.send(types.Make(types.MsgMatchmakingSearching, types.MatchmakingSearching{PlayersInQueue: <-reply}))
}

// handleCancel acts on the authenticated user; a payload naming someone
// else is rejected rather than honored.
func (g *Gateway) handleCancel(c *conn, payload json.RawMessage) {
	var req types.MatchmakingCancel
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			c.send(types.Make(types.MsgError, types.Error{Message: "malformed cancel payload"}))
			return
		}
	}
	if req.UserID != "" && req.UserID != c.userID {
		c.send(types.Make(types.MsgError, types.Error{Message: "cannot cancel matchmaking for another user"}))
		return
	}

	reply := make(chan bool, 1)
	g.queue.Inbox() <- matchmaking.Cancel{UserID: c.userID, Reply: reply}
	<-reply // removed or not, cancel never errors
	c.send(types.Make(types.MsgMatchmakingCancelled, struct{}{}))
}

func (g *Gateway) handleAnswer(c *conn, payload json.RawMessage) {
	var req types.AnswerSubmit
	if err := json.Unmarshal(payload, &req); err != nil {
		c.send(types.Make(types.MsgError, types.Error{Message: "malformed answer payload"}))
		return
	}

	s := g.sessionFor(c.userID)
	if s == nil || s.MatchID() != req.MatchID {
		c.send(types.Make(types.MsgError, types.Error{Message: "no active match for this answer"}))
		return
	}

	reply := make(chan error, 1)
	cmd := engine.Command{
		Type:          engine.CmdSubmitAnswer,
		MatchID:       req.MatchID,
		UserID:        c.userID,
		QuestionIndex: req.QuestionIndex,
		AnswerIndex:   req.AnswerIndex,
		AnswerTime:    req.AnswerTime,
	}
	select {
	case s.Inbox() <- session.Submit{Cmd: cmd, Reply: reply}:
	case <-s.Done():
		c.send(types.Make(types.MsgError, types.Error{Message: "match already finished"}))
		return
	}

	select {
	case err := <-reply:
		if err != nil {
			c.send(types.Make(types.MsgError, types.Error{Message: err.Error()}))
		}
	case <-s.Done():
		// The session finished while the answer was in flight;
		// game.over has already been delivered.
	}
}

func (g *Gateway) handleStatsSync(ctx context.Context, c *conn, payload json.RawMessage) {
	var req types.RankedStatsSync
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			c.send(types.Make(types.MsgError, types.Error{Message: "malformed stats payload"}))
			return
		}
	}
	if req.UserID != "" && req.UserID != c.userID {
		c.send(types.Make(types.MsgError, types.Error{Message: "cannot read ranked stats for another user"}))
		return
	}

	profile, err := g.ratings.Stats(ctx, c.userID)
	if err != nil {
		g.logger.Error("stats sync failed", zap.String("userId", c.userID), zap.Error(err))
		c.send(types.Make(types.MsgError, types.Error{Message: "ranked stats unavailable"}))
		return
	}
	c.send(types.Make(types.MsgRankedStats, types.RankedStats{
		UserID:   profile.UserID,
		MMR:      profile.MMR,
		Tier:     profile.Tier,
		Division: profile.Division,
		Wins:     profile.Wins,
		Losses:   profile.Losses,
	}))
}

// teardown runs when the read loop exits: free the user slot, drop any
// queue entry, and tell an active session the player is gone.
func (g *Gateway) teardown(c *conn) {
	if !c.authed() {
		return
	}
	g.mu.Lock()
	if g.connected[c.userID] == c.sessionID {
		delete(g.connected, c.userID)
	}
	g.mu.Unlock()

	g.queue.Inbox() <- matchmaking.Disconnected{UserID: c.userID}
	if s := g.sessionFor(c.userID); s != nil {
		s.Inbox() <- session.Leave{UserID: c.userID}
	}
	g.logger.Info("client disconnected", zap.String("userId", c.userID))
}

func (g *Gateway) sessionFor(userID string) *session.Session {
	reply := make(chan *session.Session, 1)
	g.hub.Inbox() <- hub.GetByUser{UserID: userID, Reply: reply}
	return <-reply
}

func (c *conn) send(env types.Envelope) {
	select {
	case c.out <- env:
	default:
	}
}
