package match

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-battle-backend/internal/engine"
	"github.com/DoyleJ11/quiz-battle-backend/internal/hub"
	"github.com/DoyleJ11/quiz-battle-backend/internal/matchmaking"
	"github.com/DoyleJ11/quiz-battle-backend/internal/questions"
	"github.com/DoyleJ11/quiz-battle-backend/internal/rating"
	"github.com/DoyleJ11/quiz-battle-backend/internal/session"
	"github.com/DoyleJ11/quiz-battle-backend/pkg/types"
)

type rig struct {
	hub   *hub.Hub
	queue *matchmaking.Queue
	pairs chan matchmaking.Pair
	outA  chan types.Envelope
	outB  chan types.Envelope
	goneA chan struct{}
	goneB chan struct{}
}

func newRig(t *testing.T, bank questions.Bank) rig {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := rig{
		hub:   hub.NewHub(ctx),
		pairs: make(chan matchmaking.Pair, 4),
		outA:  make(chan types.Envelope, 64),
		outB:  make(chan types.Envelope, 64),
		goneA: make(chan struct{}),
		goneB: make(chan struct{}),
	}
	queuePairs := make(chan matchmaking.Pair, 4)
	r.queue = matchmaking.NewQueue(ctx, matchmaking.Tuning{
		SearchInterval: time.Hour, // no pairing from the queue itself
		ToleranceBase:  100,
		ToleranceStep:  50,
	}, queuePairs, zap.NewNop())

	ratings := rating.NewService(rating.NewMemoryStore(), zap.NewNop())
	orch := NewOrchestrator(r.hub, r.queue, bank, ratings, Config{
		QuestionsPerMatch: 1,
		TimePerQuestion:   time.Minute,
		Countdown:         20 * time.Millisecond,
		ReconnectGrace:    time.Minute,
	}, zap.NewNop())
	go orch.Run(ctx, r.pairs)
	return r
}

func (r rig) pair() matchmaking.Pair {
	return matchmaking.Pair{
		A: matchmaking.Entry{
			UserID: "a", Username: "alice", Mode: engine.ModeCasual,
			Difficulty: "medium", Category: "general",
			Notify: r.outA, Gone: r.goneA,
		},
		B: matchmaking.Entry{
			UserID: "b", Username: "bob", Mode: engine.ModeCasual,
			Difficulty: "medium", Category: "general",
			Notify: r.outB, Gone: r.goneB,
		},
	}
}

func waitFor(t *testing.T, ch <-chan types.Envelope, msgType string, within time.Duration) types.Envelope {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case env := <-ch:
			if env.Type == msgType {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", msgType)
			return types.Envelope{}
		}
	}
}

func bankWith(n int) *questions.MemoryBank {
	bank := questions.NewMemoryBank()
	for i := 0; i < n; i++ {
		bank.Add(engine.Question{
			ID: string(rune('a' + i)), Text: "q",
			Answers: []string{"w", "x"}, CorrectIndex: 0,
			Difficulty: "medium", Category: "general",
		})
	}
	return bank
}

func queueSize(t *testing.T, q *matchmaking.Queue) int {
	t.Helper()
	reply := make(chan matchmaking.View, 1)
	q.Inbox() <- matchmaking.GetState{Reply: reply}
	select {
	case v := <-reply:
		return v.TotalEntries
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for queue view")
		return 0
	}
}

func TestOrchestrator_AnnouncesAndStartsSession(t *testing.T) {
	r := newRig(t, bankWith(1))

	r.pairs <- r.pair()

	var foundA, foundB types.MatchmakingFound
	require.NoError(t, json.Unmarshal(waitFor(t, r.outA, types.MsgMatchmakingFound, time.Second).Payload, &foundA))
	require.NoError(t, json.Unmarshal(waitFor(t, r.outB, types.MsgMatchmakingFound, time.Second).Payload, &foundB))

	assert.Equal(t, foundA.MatchID, foundB.MatchID)
	assert.Equal(t, "b", foundA.Opponent.UserID)
	assert.Equal(t, "a", foundB.Opponent.UserID)
	assert.Positive(t, foundA.StartIn)

	waitFor(t, r.outA, types.MsgGameStarted, time.Second)
	waitFor(t, r.outB, types.MsgGameStarted, time.Second)
	waitFor(t, r.outA, types.MsgQuestionNew, time.Second)

	// Both players are indexed against the running session.
	reply := make(chan *session.Session, 1)
	r.hub.Inbox() <- hub.GetByUser{UserID: "a", Reply: reply}
	assert.NotNil(t, <-reply)
}

func TestOrchestrator_NoQuestionsAbortsAndRequeues(t *testing.T) {
	r := newRig(t, questions.NewMemoryBank())

	r.pairs <- r.pair()

	waitFor(t, r.outA, types.MsgError, time.Second)
	waitFor(t, r.outB, types.MsgError, time.Second)

	require.Eventually(t, func() bool {
		return queueSize(t, r.queue) == 2
	}, time.Second, 10*time.Millisecond)
}

// blockingBank parks GetQuestions until released, and reports when the
// fetch has actually begun.
type blockingBank struct {
	inner   questions.Bank
	started chan struct{}
	release chan struct{}
}

func newBlockingBank(inner questions.Bank) *blockingBank {
	return &blockingBank{
		inner:   inner,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (b *blockingBank) GetQuestions(ctx context.Context, difficulty, category string, count int) ([]engine.Question, error) {
	close(b.started)
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.inner.GetQuestions(ctx, difficulty, category, count)
}

func TestOrchestrator_DisconnectDuringFetchRequeuesSurvivor(t *testing.T) {
	bank := newBlockingBank(bankWith(1))
	r := newRig(t, bank)

	r.pairs <- r.pair()
	waitFor(t, r.outB, types.MsgMatchmakingFound, time.Second)

	select {
	case <-bank.started:
	case <-time.After(time.Second):
		t.Fatalf("question fetch never began")
	}

	// A drops while the fetch is stuck; no session exists yet, so only
	// the orchestrator can notice.
	close(r.goneA)
	close(bank.release)

	require.Eventually(t, func() bool {
		return queueSize(t, r.queue) == 1
	}, time.Second, 10*time.Millisecond)

	select {
	case env := <-r.outB:
		if env.Type == types.MsgGameStarted {
			t.Fatalf("ghost match started against a disconnected player")
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestOrchestrator_DisconnectBeforeHandoffRequeuesSurvivor(t *testing.T) {
	r := newRig(t, bankWith(1))

	close(r.goneA)
	r.pairs <- r.pair()

	require.Eventually(t, func() bool {
		return queueSize(t, r.queue) == 1
	}, time.Second, 10*time.Millisecond)

	// The aborted match never starts.
	select {
	case env := <-r.outB:
		if env.Type == types.MsgGameStarted {
			t.Fatalf("match started despite a missing player")
		}
	case <-time.After(100 * time.Millisecond):
	}
}
