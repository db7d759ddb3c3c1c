package hub

import (
	"context"

	"github.com/DoyleJ11/quiz-battle-backend/internal/session"
)

type HubMsg interface{ isHubMsg() }

// Register adds a session and indexes both players so a user can hold
// at most one active session. Reply is false if either player is
// already in a match.
type Register struct {
	Session *session.Session
	Players []string
	Reply   chan bool
}

type GetSession struct {
	MatchID string
	Reply   chan *session.Session
}

// GetByUser resolves a user's active session, if any.
type GetByUser struct {
	UserID string
	Reply  chan *session.Session
}

type RemoveSession struct {
	MatchID string
}

type ShutdownHub struct{}

func (Register) isHubMsg()      {}
func (GetSession) isHubMsg()    {}
func (GetByUser) isHubMsg()     {}
func (RemoveSession) isHubMsg() {}
func (ShutdownHub) isHubMsg()   {}

type Hub struct {
	inbox    chan HubMsg
	sessions map[string]*session.Session
	byUser   map[string]string // userID -> matchID
	players  map[string][]string
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewHub(parent context.Context) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]*session.Session),
		byUser:   make(map[string]string),
		players:  make(map[string][]string),
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Register:
				busy := false
				for _, userID := range msg.Players {
					if _, ok := h.byUser[userID]; ok {
						busy = true
						break
					}
				}
				if busy {
					msg.Reply <- false
					break
				}
				matchID := msg.Session.MatchID()
				h.sessions[matchID] = msg.Session
				h.players[matchID] = msg.Players
				for _, userID := range msg.Players {
					h.byUser[userID] = matchID
				}
				msg.Reply <- true

			case GetSession:
				msg.Reply <- h.sessions[msg.MatchID] // may be nil

			case GetByUser:
				var s *session.Session
				if matchID, ok := h.byUser[msg.UserID]; ok {
					s = h.sessions[matchID]
				}
				msg.Reply <- s

			case RemoveSession:
				for _, userID := range h.players[msg.MatchID] {
					delete(h.byUser, userID)
				}
				delete(h.players, msg.MatchID)
				delete(h.sessions, msg.MatchID)

			case ShutdownHub:
				for _, s := range h.sessions {
					s.Inbox() <- session.Shutdown{}
				}
				clear(h.sessions)
				clear(h.byUser)
				clear(h.players)
				h.cancel()
			}
		}
	}
}
