package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-battle-backend/internal/auth"
	"github.com/DoyleJ11/quiz-battle-backend/internal/hub"
	"github.com/DoyleJ11/quiz-battle-backend/internal/matchmaking"
	"github.com/DoyleJ11/quiz-battle-backend/internal/rating"
	"github.com/DoyleJ11/quiz-battle-backend/pkg/types"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	queue := matchmaking.NewQueue(ctx, matchmaking.Tuning{
		SearchInterval: time.Hour,
		ToleranceBase:  100,
		ToleranceStep:  50,
	}, make(chan matchmaking.Pair, 4), zap.NewNop())
	ratings := rating.NewService(rating.NewMemoryStore(), zap.NewNop())
	return NewGateway(auth.NewVerifier("test-secret"), queue, hub.NewHub(ctx), ratings, zap.NewNop())
}

func authedConn() *conn {
	return &conn{
		sessionID: "s1",
		userID:    "u1",
		username:  "alice",
		out:       make(chan types.Envelope, 8),
	}
}

func recv(t *testing.T, c *conn) types.Envelope {
	t.Helper()
	select {
	case env := <-c.out:
		return env
	case <-time.After(time.Second):
		t.Fatalf("no reply from gateway")
		return types.Envelope{}
	}
}

func TestHandleCancel_ActsOnAuthenticatedUser(t *testing.T) {
	g := newTestGateway(t)
	c := authedConn()

	// Empty payload and a payload naming the caller both succeed.
	g.handleCancel(c, nil)
	assert.Equal(t, types.MsgMatchmakingCancelled, recv(t, c).Type)

	payload, _ := json.Marshal(types.MatchmakingCancel{UserID: "u1"})
	g.handleCancel(c, payload)
	assert.Equal(t, types.MsgMatchmakingCancelled, recv(t, c).Type)
}

func TestHandleCancel_RejectsForeignUser(t *testing.T) {
	g := newTestGateway(t)
	c := authedConn()

	payload, _ := json.Marshal(types.MatchmakingCancel{UserID: "someone-else"})
	g.handleCancel(c, payload)
	assert.Equal(t, types.MsgError, recv(t, c).Type)
}

func TestHandleStatsSync_RejectsForeignUser(t *testing.T) {
	g := newTestGateway(t)
	c := authedConn()

	payload, _ := json.Marshal(types.RankedStatsSync{UserID: "someone-else"})
	g.handleStatsSync(context.Background(), c, payload)
	assert.Equal(t, types.MsgError, recv(t, c).Type)

	// The caller's own id, or no payload at all, serves the profile.
	g.handleStatsSync(context.Background(), c, nil)
	env := recv(t, c)
	require.Equal(t, types.MsgRankedStats, env.Type)
	var stats types.RankedStats
	require.NoError(t, json.Unmarshal(env.Payload, &stats))
	assert.Equal(t, "u1", stats.UserID)
	assert.Equal(t, rating.DefaultMMR, stats.MMR)
}
