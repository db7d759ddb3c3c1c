package matchmaking

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-battle-backend/internal/engine"
	"github.com/DoyleJ11/quiz-battle-backend/pkg/types"
)

var testTuning = Tuning{
	SearchInterval: 20 * time.Millisecond,
	ToleranceBase:  100,
	ToleranceStep:  50,
}

func newTestQueue(t *testing.T) (*Queue, chan Pair) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	pairs := make(chan Pair, 4)
	return NewQueue(ctx, testTuning, pairs, zap.NewNop()), pairs
}

func enqueue(t *testing.T, q *Queue, e Entry) int {
	t.Helper()
	reply := make(chan int, 1)
	q.Inbox() <- Enqueue{Entry: e, Reply: reply}
	select {
	case n := <-reply:
		return n
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for enqueue reply")
		return 0
	}
}

func queueView(t *testing.T, q *Queue) View {
	t.Helper()
	reply := make(chan View, 1)
	q.Inbox() <- GetState{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for queue view")
		return View{}
	}
}

func recvPair(t *testing.T, pairs <-chan Pair, within time.Duration) Pair {
	t.Helper()
	select {
	case p := <-pairs:
		return p
	case <-time.After(within):
		t.Fatalf("timed out waiting for pair")
		return Pair{}
	}
}

func recvNoPair(t *testing.T, pairs <-chan Pair, within time.Duration) {
	t.Helper()
	select {
	case p := <-pairs:
		t.Fatalf("expected no pair within %v, got %s vs %s", within, p.A.UserID, p.B.UserID)
	case <-time.After(within):
	}
}

func casualEntry(userID string) Entry {
	return Entry{
		UserID:     userID,
		Username:   userID,
		Mode:       engine.ModeCasual,
		Difficulty: "medium",
		Category:   "general",
	}
}

func rankedEntry(userID string, mmr int) Entry {
	e := casualEntry(userID)
	e.Mode = engine.ModeRanked
	e.MMR = mmr
	return e
}

func TestQueue_CasualSameBucketPairs(t *testing.T) {
	q, pairs := newTestQueue(t)

	enqueue(t, q, casualEntry("p1"))
	enqueue(t, q, casualEntry("p2"))

	pair := recvPair(t, pairs, time.Second)
	got := []string{pair.A.UserID, pair.B.UserID}
	assert.ElementsMatch(t, []string{"p1", "p2"}, got)
	assert.Equal(t, 0, queueView(t, q).TotalEntries)
}

func TestQueue_DifferentBucketsNeverPair(t *testing.T) {
	q, pairs := newTestQueue(t)

	a := casualEntry("p1")
	b := casualEntry("p2")
	b.Category = "science"
	enqueue(t, q, a)
	enqueue(t, q, b)

	recvNoPair(t, pairs, 100*time.Millisecond)
	assert.Equal(t, 2, queueView(t, q).TotalEntries)
}

func TestQueue_EnqueueIsIdempotent(t *testing.T) {
	q, _ := newTestQueue(t)

	enqueue(t, q, casualEntry("p1"))
	enqueue(t, q, casualEntry("p1"))
	assert.Equal(t, 1, queueView(t, q).TotalEntries)

	// Re-queueing into a different bucket keeps the original entry: a
	// user holds at most one entry across all buckets.
	moved := casualEntry("p1")
	moved.Difficulty = "hard"
	enqueue(t, q, moved)
	view := queueView(t, q)
	assert.Equal(t, 1, view.TotalEntries)
}

func TestQueue_FIFOWithinBucket(t *testing.T) {
	q, pairs := newTestQueue(t)

	enqueue(t, q, casualEntry("first"))
	enqueue(t, q, casualEntry("second"))
	enqueue(t, q, casualEntry("third"))

	pair := recvPair(t, pairs, time.Second)
	assert.ElementsMatch(t, []string{"first", "second"}, []string{pair.A.UserID, pair.B.UserID})
	assert.Equal(t, 1, queueView(t, q).TotalEntries)
}

func TestQueue_RankedWithinToleranceMatchesClosest(t *testing.T) {
	q, pairs := newTestQueue(t)

	enqueue(t, q, rankedEntry("seed", 1000))
	enqueue(t, q, rankedEntry("far", 1300))
	enqueue(t, q, rankedEntry("close", 1010))

	pair := recvPair(t, pairs, time.Second)
	assert.ElementsMatch(t, []string{"seed", "close"}, []string{pair.A.UserID, pair.B.UserID})
}

func TestQueue_RankedHeadDoesNotBlockLaterPair(t *testing.T) {
	q, pairs := newTestQueue(t)

	// The head is out of range of everyone; the two entries behind it
	// are 10 MMR apart and must pair without waiting for the head's
	// tolerance to widen.
	enqueue(t, q, rankedEntry("head", 1000))
	enqueue(t, q, rankedEntry("mid1", 1400))
	enqueue(t, q, rankedEntry("mid2", 1410))

	pair := recvPair(t, pairs, time.Second)
	assert.ElementsMatch(t, []string{"mid1", "mid2"}, []string{pair.A.UserID, pair.B.UserID})
	assert.Equal(t, 1, queueView(t, q).TotalEntries)
}

func TestQueue_RankedOutsideToleranceWaits(t *testing.T) {
	q, pairs := newTestQueue(t)

	enqueue(t, q, rankedEntry("low", 900))
	enqueue(t, q, rankedEntry("high", 1500))

	recvNoPair(t, pairs, 2*testTuning.SearchInterval)
}

func TestQueue_ToleranceWidensWithWait(t *testing.T) {
	q, pairs := newTestQueue(t)

	// Entries that have been waiting long enough for the tolerance to
	// cover a 600 MMR gap.
	low := rankedEntry("low", 900)
	low.EnqueuedAt = time.Now().Add(-2 * time.Minute)
	high := rankedEntry("high", 1500)
	high.EnqueuedAt = time.Now().Add(-2 * time.Minute)

	enqueue(t, q, low)
	enqueue(t, q, high)

	pair := recvPair(t, pairs, time.Second)
	assert.ElementsMatch(t, []string{"low", "high"}, []string{pair.A.UserID, pair.B.UserID})
}

func TestQueue_CancelUnknownUserIsNoOp(t *testing.T) {
	q, _ := newTestQueue(t)

	reply := make(chan bool, 1)
	q.Inbox() <- Cancel{UserID: "ghost", Reply: reply}
	require.False(t, <-reply)
	assert.Equal(t, 0, queueView(t, q).TotalEntries)
}

func TestQueue_CancelRemovesEntry(t *testing.T) {
	q, pairs := newTestQueue(t)

	enqueue(t, q, casualEntry("p1"))
	reply := make(chan bool, 1)
	q.Inbox() <- Cancel{UserID: "p1", Reply: reply}
	require.True(t, <-reply)

	enqueue(t, q, casualEntry("p2"))
	recvNoPair(t, pairs, 100*time.Millisecond)
}

func TestQueue_DisconnectedRemovesEntry(t *testing.T) {
	q, _ := newTestQueue(t)

	enqueue(t, q, casualEntry("p1"))
	q.Inbox() <- Disconnected{UserID: "p1"}

	require.Eventually(t, func() bool {
		return queueView(t, q).TotalEntries == 0
	}, time.Second, 10*time.Millisecond)
}

func TestQueue_SearchingTickReportsBucketSize(t *testing.T) {
	q, _ := newTestQueue(t)

	notify := make(chan types.Envelope, 8)
	e := casualEntry("p1")
	e.Notify = notify
	enqueue(t, q, e)

	select {
	case env := <-notify:
		require.Equal(t, types.MsgMatchmakingSearching, env.Type)
		var payload types.MatchmakingSearching
		require.NoError(t, json.Unmarshal(env.Payload, &payload))
		assert.Equal(t, 1, payload.PlayersInQueue)
	case <-time.After(time.Second):
		t.Fatalf("no searching update within a second")
	}
}
