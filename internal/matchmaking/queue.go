package matchmaking

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-battle-backend/internal/engine"
	"github.com/DoyleJ11/quiz-battle-backend/pkg/types"
)

type Msg interface{ isQueueMsg() }

// Entry is one waiting player. Notify is the player's connection outbox
// for matchmaking.searching pushes.
type Entry struct {
	UserID     string
	Username   string
	MMR        int
	Mode       engine.GameMode
	Difficulty string
	Category   string
	EnqueuedAt time.Time
	Notify     chan<- types.Envelope

	// Closed when the player's connection goes away; the orchestrator
	// checks it before handing a match to a session.
	Gone <-chan struct{}
}

// Pair is two compatible entries removed from the queue together.
type Pair struct {
	A, B Entry
}

type Enqueue struct {
	Entry Entry
	Reply chan int // players in the entry's bucket, including it
}

type Cancel struct {
	UserID string
	Reply  chan bool // true if an entry was removed
}

// Disconnected drops any entry for the user without acknowledgment.
type Disconnected struct{ UserID string }

type ShutdownQueue struct{}

// GetState reflects internal state without data races; test-only.
type GetState struct {
	Reply chan View
}

type View struct {
	TotalEntries int
	Buckets      map[bucketKey]int
}

func (Enqueue) isQueueMsg()      {}
func (Cancel) isQueueMsg()       {}
func (Disconnected) isQueueMsg() {}
func (ShutdownQueue) isQueueMsg() {}
func (GetState) isQueueMsg()     {}

type bucketKey struct {
	Mode       engine.GameMode
	Difficulty string
	Category   string
}

// Tuning controls pairing behaviour. The ranked MMR tolerance starts at
// ToleranceBase and widens by ToleranceStep for every SearchInterval an
// entry has waited, bounding worst-case queue time.
type Tuning struct {
	SearchInterval time.Duration
	ToleranceBase  int
	ToleranceStep  int
}

// Queue is a single actor goroutine owning every bucket, so the
// two-entry dequeue is atomic by construction.
type Queue struct {
	inbox   chan Msg
	buckets map[bucketKey][]Entry // FIFO per bucket
	byUser  map[string]bucketKey
	pairs   chan<- Pair
	tuning  Tuning
	logger  *zap.Logger
	now     func() time.Time
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewQueue(parent context.Context, tuning Tuning, pairs chan<- Pair, logger *zap.Logger) *Queue {
	ctx, cancel := context.WithCancel(parent)
	q := &Queue{
		inbox:   make(chan Msg, 64),
		buckets: make(map[bucketKey][]Entry),
		byUser:  make(map[string]bucketKey),
		pairs:   pairs,
		tuning:  tuning,
		logger:  logger.Named("queue"),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	go q.loop()
	return q
}

func (q *Queue) Inbox() chan<- Msg { return q.inbox }

func (q *Queue) loop() {
	ticker := time.NewTicker(q.tuning.SearchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return

		case <-ticker.C:
			q.onTick()

		case m := <-q.inbox:
			switch msg := m.(type) {
			case Enqueue:
				msg.Reply <- q.enqueue(msg.Entry)

			case Cancel:
				removed := q.remove(msg.UserID)
				if msg.Reply != nil {
					msg.Reply <- removed
				}

			case Disconnected:
				q.remove(msg.UserID)

			case GetState:
				view := View{Buckets: make(map[bucketKey]int)}
				for key, bucket := range q.buckets {
					view.Buckets[key] = len(bucket)
					view.TotalEntries += len(bucket)
				}
				msg.Reply <- view

			case ShutdownQueue:
				q.cancel()
				return
			}
		}
	}
}

func (q *Queue) enqueue(e Entry) int {
	key := bucketKey{Mode: e.Mode, Difficulty: e.Difficulty, Category: e.Category}

	// Idempotent: a user already waiting keeps their original entry
	// (and its enqueue time).
	if existing, ok := q.byUser[e.UserID]; ok {
		return len(q.buckets[existing])
	}

	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = q.now()
	}
	q.buckets[key] = append(q.buckets[key], e)
	q.byUser[e.UserID] = key
	q.logger.Info("player enqueued",
		zap.String("userId", e.UserID),
		zap.String("mode", string(e.Mode)),
		zap.String("difficulty", e.Difficulty),
		zap.String("category", e.Category))

	// Pairing itself happens on the ticker, so an aborted match that
	// re-queues its players cannot re-pair in a hot loop.
	return len(q.buckets[key])
}

func (q *Queue) remove(userID string) bool {
	key, ok := q.byUser[userID]
	if !ok {
		return false
	}
	delete(q.byUser, userID)
	bucket := q.buckets[key]
	for i, e := range bucket {
		if e.UserID == userID {
			q.buckets[key] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(q.buckets[key]) == 0 {
		delete(q.buckets, key)
	}
	return true
}

func (q *Queue) onTick() {
	for key := range q.buckets {
		q.tryPair(key)
		// Entries that survived pairing get a queue-size update.
		remaining := q.buckets[key]
		for _, e := range remaining {
			env := types.Make(types.MsgMatchmakingSearching, types.MatchmakingSearching{
				PlayersInQueue: len(remaining),
			})
			select {
			case e.Notify <- env:
			default:
			}
		}
	}
}

// tryPair repeatedly matches the two longest-waiting compatible entries
// in the bucket and hands them to the orchestrator.
func (q *Queue) tryPair(key bucketKey) {
	for {
		bucket := q.buckets[key]
		if len(bucket) < 2 {
			return
		}

		var a, b Entry
		if key.Mode == engine.ModeRanked {
			ai, bi := q.closestRanked(bucket)
			if ai == -1 {
				return
			}
			a, b = bucket[ai], bucket[bi]
		} else {
			// Casual: bucket identity is the whole compatibility rule.
			a, b = bucket[0], bucket[1]
		}

		q.remove(a.UserID)
		q.remove(b.UserID)
		q.logger.Info("paired players",
			zap.String("a", a.UserID), zap.String("b", b.UserID),
			zap.String("mode", string(key.Mode)))
		q.pairs <- Pair{A: a, B: b}
	}
}

// closestRanked anchors on the longest-waiting entry that has a partner
// inside its widened tolerance, preferring the smallest MMR gap. A head
// with no partner yet must not hold up a compatible pair behind it.
func (q *Queue) closestRanked(bucket []Entry) (int, int) {
	for i := 0; i < len(bucket)-1; i++ {
		tol := q.tolerance(bucket[i])
		partner, best := -1, 0
		for j := range bucket {
			if j == i {
				continue
			}
			diff := absInt(bucket[i].MMR - bucket[j].MMR)
			if diff > tol {
				continue
			}
			if partner == -1 || diff < best {
				partner, best = j, diff
			}
		}
		if partner != -1 {
			return i, partner
		}
	}
	return -1, -1
}

// tolerance widens with the entry's wait so long waits still match.
func (q *Queue) tolerance(e Entry) int {
	waited := q.now().Sub(e.EnqueuedAt)
	steps := int(waited / q.tuning.SearchInterval)
	return q.tuning.ToleranceBase + steps*q.tuning.ToleranceStep
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
