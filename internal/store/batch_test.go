package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
)

type flushRecorder struct {
	mu     sync.Mutex
	groups []recordedGroup
	fail   func(op Op) bool
}

type recordedGroup struct {
	kind OpKind
	ops  []Op
}

func (r *flushRecorder) flush(kind OpKind, ops []Op) []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups = append(r.groups, recordedGroup{kind: kind, ops: ops})
	if r.fail == nil {
		return nil
	}
	var failed []Op
	for _, op := range ops {
		if r.fail(op) {
			failed = append(failed, op)
		}
	}
	return failed
}

func (r *flushRecorder) groupCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups)
}

func noopOp(kind OpKind, gameID int) Op {
	return Op{Kind: kind, GameID: gameID, apply: func(ext sqlx.Ext) error { return nil }}
}

func TestFlushGroupsByKindInOrder(t *testing.T) {
	rec := &flushRecorder{}
	b := NewBatcher(100, time.Hour, rec.flush)

	b.Enqueue(noopOp(OpUpdateScore, 1))
	b.Enqueue(noopOp(OpSaveAnswer, 1))
	b.Enqueue(noopOp(OpUpdateScore, 1))
	b.Enqueue(noopOp(OpUpdateGameState, 1))
	b.Flush()

	if len(rec.groups) != 3 {
		t.Fatalf("groups = %d, want 3", len(rec.groups))
	}
	if rec.groups[0].kind != OpUpdateScore || len(rec.groups[0].ops) != 2 {
		t.Errorf("group 0 = %s x%d, want update_score x2", rec.groups[0].kind, len(rec.groups[0].ops))
	}
	if rec.groups[1].kind != OpSaveAnswer || len(rec.groups[1].ops) != 1 {
		t.Errorf("group 1 = %s x%d, want save_answer x1", rec.groups[1].kind, len(rec.groups[1].ops))
	}
	if rec.groups[2].kind != OpUpdateGameState {
		t.Errorf("group 2 = %s, want update_game_state", rec.groups[2].kind)
	}

	stats := b.Stats()
	if stats.Enqueued != 4 || stats.Flushed != 4 || stats.Dropped != 0 {
		t.Errorf("stats = %+v, want 4 enqueued, 4 flushed, 0 dropped", stats)
	}
}

func TestSizeTriggerFlushesWithoutTimer(t *testing.T) {
	rec := &flushRecorder{}
	b := NewBatcher(3, time.Hour, rec.flush)
	b.Start()
	defer b.Close()

	b.Enqueue(noopOp(OpSaveAnswer, 1))
	b.Enqueue(noopOp(OpSaveAnswer, 1))
	if rec.groupCount() != 0 {
		t.Fatalf("flushed before size threshold")
	}
	b.Enqueue(noopOp(OpSaveAnswer, 1))

	deadline := time.Now().Add(2 * time.Second)
	for rec.groupCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rec.groupCount() == 0 {
		t.Fatalf("size trigger did not flush")
	}
	if b.QueueLen() != 0 {
		t.Errorf("queue len = %d after flush, want 0", b.QueueLen())
	}
}

func TestTimerTriggerFlushes(t *testing.T) {
	rec := &flushRecorder{}
	b := NewBatcher(1000, 20*time.Millisecond, rec.flush)
	b.Start()
	defer b.Close()

	b.Enqueue(noopOp(OpUpdateScore, 7))

	deadline := time.Now().Add(2 * time.Second)
	for rec.groupCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rec.groupCount() == 0 {
		t.Fatalf("interval trigger did not flush")
	}
}

func TestFailedOpRetriedOnceThenDropped(t *testing.T) {
	rec := &flushRecorder{fail: func(op Op) bool { return op.GameID == 13 }}
	b := NewBatcher(100, time.Hour, rec.flush)

	b.Enqueue(noopOp(OpUpdateScore, 13))
	b.Enqueue(noopOp(OpUpdateScore, 1))

	b.Flush() // first attempt: op for game 13 fails, is requeued
	if got := b.QueueLen(); got != 1 {
		t.Fatalf("queue len after first flush = %d, want 1 requeued op", got)
	}

	b.Flush() // retry fails too: dropped
	if got := b.QueueLen(); got != 0 {
		t.Fatalf("queue len after retry flush = %d, want 0", got)
	}

	stats := b.Stats()
	if stats.Retried != 1 {
		t.Errorf("retried = %d, want 1", stats.Retried)
	}
	if stats.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", stats.Dropped)
	}
	if stats.Flushed != 1 {
		t.Errorf("flushed = %d, want 1 (only the healthy op)", stats.Flushed)
	}
}

func TestTransientFailureRecoversOnRetry(t *testing.T) {
	attempts := 0
	rec := &flushRecorder{}
	rec.fail = func(op Op) bool {
		if op.GameID != 13 {
			return false
		}
		attempts++
		return attempts == 1 // fail only the first attempt
	}
	b := NewBatcher(100, time.Hour, rec.flush)

	b.Enqueue(noopOp(OpSaveAnswer, 13))
	b.Flush()
	b.Flush()

	stats := b.Stats()
	if stats.Dropped != 0 {
		t.Errorf("dropped = %d, want 0 (retry succeeded)", stats.Dropped)
	}
	if stats.Retried != 1 || stats.Flushed != 1 {
		t.Errorf("stats = %+v, want 1 retried and 1 flushed", stats)
	}
}

func TestCloseDrainsQueue(t *testing.T) {
	rec := &flushRecorder{}
	b := NewBatcher(1000, time.Hour, rec.flush)
	b.Start()

	for i := 0; i < 5; i++ {
		b.Enqueue(noopOp(OpSaveAnswer, i))
	}
	b.Close()

	stats := b.Stats()
	if stats.Flushed != 5 {
		t.Errorf("flushed = %d after Close, want 5", stats.Flushed)
	}
	if b.QueueLen() != 0 {
		t.Errorf("queue len = %d after Close, want 0", b.QueueLen())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := NewBatcher(10, time.Hour, func(OpKind, []Op) []Op { return nil })
	b.Start()
	b.Close()
	b.Close()
}

func TestFlushFuncErrorsDoNotPanic(t *testing.T) {
	calls := 0
	b := NewBatcher(10, time.Hour, func(kind OpKind, ops []Op) []Op {
		calls++
		return ops // everything fails forever
	})
	op := Op{Kind: OpRemovePlayer, GameID: 1, apply: func(ext sqlx.Ext) error { return errors.New("down") }}
	b.Enqueue(op)
	b.Flush()
	b.Flush()
	b.Flush() // nothing left after the drop

	if calls != 2 {
		t.Errorf("flush func called %d times, want 2 (initial + one retry)", calls)
	}
}
