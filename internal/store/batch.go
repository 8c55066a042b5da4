package store

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// OpKind labels a queued mutation so a flush can group like operations
// into one transaction.
type OpKind string

const (
	OpSaveAnswer       OpKind = "save_answer"
	OpUpdateScore      OpKind = "update_score"
	OpUpdateGameState  OpKind = "update_game_state"
	OpDisconnectPlayer OpKind = "disconnect_player"
	OpReconnectPlayer  OpKind = "reconnect_player"
	OpRemovePlayer     OpKind = "remove_player"
	OpClearAnswers     OpKind = "clear_answers"
	OpClearScores      OpKind = "clear_scores"
)

// Op is one deferred store mutation.
type Op struct {
	Kind     OpKind
	GameID   int
	PlayerID int

	apply   func(ext sqlx.Ext) error
	retried bool
}

// FlushFunc executes one same-kind group and returns the ops that
// failed. The Batcher retries each failed op once before dropping it.
type FlushFunc func(kind OpKind, ops []Op) []Op

// BatchStats are the batcher's lifetime counters.
type BatchStats struct {
	Enqueued int64
	Flushed  int64
	Retried  int64
	Dropped  int64
}

// Batcher queues store mutations and drains them when the queue reaches
// the configured size or on every flush interval, whichever comes
// first. One batcher serves the whole process.
type Batcher struct {
	mu    sync.Mutex
	queue []Op
	stats BatchStats

	size     int
	interval time.Duration
	flush    FlushFunc

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewBatcher builds a batcher around the given flush executor. Call
// Start to begin draining.
func NewBatcher(size int, interval time.Duration, flush FlushFunc) *Batcher {
	if size < 1 {
		size = 1
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Batcher{
		size:     size,
		interval: interval,
		flush:    flush,
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the drain loop.
func (b *Batcher) Start() {
	go b.run()
}

func (b *Batcher) run() {
	defer close(b.done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.Flush()
		case <-b.kick:
			b.Flush()
		case <-b.stop:
			b.Flush()
			return
		}
	}
}

// Enqueue adds one op; a full queue triggers an immediate flush.
func (b *Batcher) Enqueue(op Op) {
	b.mu.Lock()
	b.queue = append(b.queue, op)
	b.stats.Enqueued++
	full := len(b.queue) >= b.size
	b.mu.Unlock()

	if full {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}
}

// Flush drains the queue synchronously: ops are grouped by kind in
// first-seen order and each group is handed to the executor. Failed ops
// get one retry on a later flush, then are dropped with a log entry.
func (b *Batcher) Flush() {
	b.mu.Lock()
	pending := b.queue
	b.queue = nil
	b.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	var kinds []OpKind
	groups := make(map[OpKind][]Op)
	for _, op := range pending {
		if _, seen := groups[op.Kind]; !seen {
			kinds = append(kinds, op.Kind)
		}
		groups[op.Kind] = append(groups[op.Kind], op)
	}

	var requeue []Op
	for _, kind := range kinds {
		ops := groups[kind]
		failed := b.flush(kind, ops)

		b.mu.Lock()
		b.stats.Flushed += int64(len(ops) - len(failed))
		b.mu.Unlock()

		for _, op := range failed {
			if op.retried {
				b.mu.Lock()
				b.stats.Dropped++
				b.mu.Unlock()
				log.Printf("[BATCH] dropping %s op for game %d player %d after retry", op.Kind, op.GameID, op.PlayerID)
				continue
			}
			op.retried = true
			requeue = append(requeue, op)
		}
	}

	if len(requeue) > 0 {
		b.mu.Lock()
		b.queue = append(b.queue, requeue...)
		b.stats.Retried += int64(len(requeue))
		b.mu.Unlock()
	}
}

// Close stops the loop and drains whatever is still queued, including
// ops waiting on their retry.
func (b *Batcher) Close() {
	select {
	case <-b.stop:
		return
	default:
	}
	close(b.stop)
	<-b.done
	b.Flush()
	b.Flush()
}

// Stats returns a snapshot of the lifetime counters.
func (b *Batcher) Stats() BatchStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// QueueLen reports the number of ops waiting for the next flush.
func (b *Batcher) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// ExecuteBatch is the production FlushFunc: it applies a same-kind
// group inside one transaction and, when that fails, falls back to
// running each op on its own so one poisoned op cannot sink the group.
func (s *Store) ExecuteBatch(kind OpKind, ops []Op) []Op {
	tx, err := s.db.Beginx()
	if err == nil {
		ok := true
		for i := range ops {
			if err := ops[i].apply(tx); err != nil {
				log.Printf("[BATCH] %s group tx failed on op %d: %v", kind, i, err)
				ok = false
				break
			}
		}
		if ok {
			if err := tx.Commit(); err == nil {
				return nil
			}
			log.Printf("[BATCH] %s group commit failed, retrying individually", kind)
		}
		tx.Rollback()
	} else {
		log.Printf("[BATCH] failed to begin tx for %s group: %v", kind, err)
	}

	var failed []Op
	for i := range ops {
		if err := ops[i].apply(s.db); err != nil {
			log.Printf("[BATCH] %s op failed for game %d player %d: %v", kind, ops[i].GameID, ops[i].PlayerID, err)
			failed = append(failed, ops[i])
		}
	}
	return failed
}

// stmtFor rebinds a prepared statement to the transaction when the
// batch runs inside one.
func (s *Store) stmtFor(ext sqlx.Ext, stmt *sqlx.Stmt) *sqlx.Stmt {
	if tx, ok := ext.(*sqlx.Tx); ok {
		return tx.Stmtx(stmt)
	}
	return stmt
}

// SaveAnswerOp defers an answer insert. Duplicates are silently kept as
// the first write; the submission was already validated in memory, so a
// missing row back means nothing is left to do.
func (s *Store) SaveAnswerOp(gameID, playerID, questionOrderIndex, answerIndex int, correct bool, points int, responseTimeMs int64) Op {
	return Op{
		Kind:     OpSaveAnswer,
		GameID:   gameID,
		PlayerID: playerID,
		apply: func(ext sqlx.Ext) error {
			var id int
			err := s.stmtFor(ext, s.stmtSaveAnswer).QueryRowx(
				gameID, playerID, questionOrderIndex, answerIndex, correct, points, responseTimeMs,
			).Scan(&id)
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		},
	}
}

// UpdateScoreOp defers an absolute score write.
func (s *Store) UpdateScoreOp(gameID, playerID, score int) Op {
	return Op{
		Kind:     OpUpdateScore,
		GameID:   gameID,
		PlayerID: playerID,
		apply: func(ext sqlx.Ext) error {
			_, err := s.stmtFor(ext, s.stmtUpdateScore).Exec(gameID, playerID, score)
			return err
		},
	}
}

// UpdateGameStateOp defers a state-triple write.
func (s *Store) UpdateGameStateOp(gameID int, status string, currentQuestionIndex int, questionStartMs int64) Op {
	return Op{
		Kind:   OpUpdateGameState,
		GameID: gameID,
		apply: func(ext sqlx.Ext) error {
			_, err := s.stmtFor(ext, s.stmtUpdateState).Exec(gameID, status, currentQuestionIndex, questionStartMs)
			return err
		},
	}
}

// DisconnectPlayerOp defers marking a player disconnected.
func (s *Store) DisconnectPlayerOp(gameID, playerID int) Op {
	return Op{
		Kind:     OpDisconnectPlayer,
		GameID:   gameID,
		PlayerID: playerID,
		apply: func(ext sqlx.Ext) error {
			_, err := s.stmtFor(ext, s.stmtDisconnect).Exec(gameID, playerID)
			return err
		},
	}
}

// ReconnectPlayerOp defers marking a player connected again.
func (s *Store) ReconnectPlayerOp(gameID, playerID int) Op {
	return Op{
		Kind:     OpReconnectPlayer,
		GameID:   gameID,
		PlayerID: playerID,
		apply: func(ext sqlx.Ext) error {
			_, err := s.stmtFor(ext, s.stmtReconnect).Exec(gameID, playerID)
			return err
		},
	}
}

// RemovePlayerOp defers a permanent player delete.
func (s *Store) RemovePlayerOp(gameID, playerID int) Op {
	return Op{
		Kind:     OpRemovePlayer,
		GameID:   gameID,
		PlayerID: playerID,
		apply: func(ext sqlx.Ext) error {
			_, err := s.stmtFor(ext, s.stmtRemovePlayer).Exec(gameID, playerID)
			return err
		},
	}
}

// ClearAnswersOp defers wiping a game's answers, queued on reset so the
// replayed round can write fresh rows.
func (s *Store) ClearAnswersOp(gameID int) Op {
	return Op{
		Kind:   OpClearAnswers,
		GameID: gameID,
		apply: func(ext sqlx.Ext) error {
			_, err := ext.Exec(`DELETE FROM answers WHERE game_id = $1`, gameID)
			return err
		},
	}
}

// ClearScoresOp defers zeroing every score of a game, the durable side
// of a reset.
func (s *Store) ClearScoresOp(gameID int) Op {
	return Op{
		Kind:   OpClearScores,
		GameID: gameID,
		apply: func(ext sqlx.Ext) error {
			_, err := ext.Exec(`UPDATE players SET score = 0 WHERE game_id = $1`, gameID)
			return err
		},
	}
}
