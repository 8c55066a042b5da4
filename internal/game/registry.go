package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kvizko/backend/internal/config"
	"github.com/kvizko/backend/internal/models"
)

// ErrNoSuchGame means no active instance, snapshot or store row exists
// for the PIN.
var ErrNoSuchGame = errors.New("game not found")

const snapshotTTL = time.Hour

// Loader is the slice of the persistence store the registry needs to
// rebuild an instance that fell out of memory.
type Loader interface {
	GetGameByPin(pin string) (*models.Game, []models.Question, error)
	ListGamePlayers(gameID int) ([]models.Player, error)
}

// Registry owns the active PIN → instance map. A lookup falls through
// memory to the Redis snapshot and finally to the store, so a restarted
// process picks its games back up as clients knock.
type Registry struct {
	mu    sync.RWMutex
	games map[string]*Instance

	loader     Loader
	rdb        *redis.Client
	maxPlayers int
	maxAnswers int
}

// NewRegistry builds an empty registry. rdb may be nil; the registry
// then skips the snapshot tier.
func NewRegistry(loader Loader, rdb *redis.Client, cfg *config.Config) *Registry {
	return &Registry{
		games:      make(map[string]*Instance),
		loader:     loader,
		rdb:        rdb,
		maxPlayers: cfg.MaxPlayersPerGame,
		maxAnswers: cfg.MaxAnswerBuffer,
	}
}

// NewInstance builds an instance with the registry's configured limits.
func (r *Registry) NewInstance(gameID int, pin, category string, questions []Question) *Instance {
	return New(gameID, pin, category, questions, r.maxPlayers, r.maxAnswers)
}

// Register puts an instance into the active map.
func (r *Registry) Register(inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.games[inst.Pin] = inst
}

// Lookup returns the in-memory instance for a PIN, if any.
func (r *Registry) Lookup(pin string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.games[pin]
	return inst, ok
}

// GetOrRestore returns the instance for a PIN, restoring it from the
// snapshot cache or rebuilding it from the store when the process no
// longer holds it. Returns ErrNoSuchGame when nothing knows the PIN.
func (r *Registry) GetOrRestore(pin string) (*Instance, error) {
	if inst, ok := r.Lookup(pin); ok {
		return inst, nil
	}

	inst := r.loadSnapshot(pin)
	if inst == nil {
		var err error
		inst, err = r.restoreFromStore(pin)
		if err != nil {
			return nil, err
		}
	}

	// Another connection may have restored the same PIN in the
	// meantime; the first registration wins.
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.games[pin]; ok {
		return existing, nil
	}
	r.games[pin] = inst
	log.Printf("[GAME] restored game %s (id=%d, %d players)", pin, inst.GameID, inst.TotalPlayers())
	return inst, nil
}

// Evict drops an instance from memory and deletes its snapshot. The
// store row stays for reporting and the daily reap.
func (r *Registry) Evict(pin string) {
	r.mu.Lock()
	delete(r.games, pin)
	r.mu.Unlock()
	r.DeleteSnapshot(pin)
}

// PinInUse reports whether an active instance currently holds the PIN.
func (r *Registry) PinInUse(pin string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.games[pin]
	return ok
}

// ActiveCount returns the number of in-memory games.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.games)
}

// Instances returns a snapshot of all active instances for the
// lifecycle sweeps.
func (r *Registry) Instances() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Instance, 0, len(r.games))
	for _, inst := range r.games {
		out = append(out, inst)
	}
	return out
}

// SaveSnapshot writes the instance state to Redis with a TTL. Called
// after joins and phase transitions; a failure only costs the
// crash-restart path, so it is logged and swallowed.
func (r *Registry) SaveSnapshot(inst *Instance) {
	if r.rdb == nil {
		return
	}
	snap := inst.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		log.Printf("[GAME] failed to marshal snapshot for game %s: %v", inst.Pin, err)
		return
	}
	key := snapshotKey(inst.Pin)
	if err := r.rdb.SetEx(context.Background(), key, data, snapshotTTL).Err(); err != nil {
		log.Printf("[GAME] failed to save snapshot for game %s: %v", inst.Pin, err)
	}
}

// DeleteSnapshot removes the Redis snapshot for a PIN.
func (r *Registry) DeleteSnapshot(pin string) {
	if r.rdb == nil {
		return
	}
	if err := r.rdb.Del(context.Background(), snapshotKey(pin)).Err(); err != nil {
		log.Printf("[GAME] failed to delete snapshot for game %s: %v", pin, err)
	}
}

func (r *Registry) loadSnapshot(pin string) *Instance {
	if r.rdb == nil {
		return nil
	}
	data, err := r.rdb.Get(context.Background(), snapshotKey(pin)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		log.Printf("[GAME] snapshot read failed for game %s: %v", pin, err)
		return nil
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		log.Printf("[GAME] invalid snapshot for game %s: %v", pin, err)
		return nil
	}
	return FromSnapshot(snap, r.maxPlayers, r.maxAnswers)
}

func (r *Registry) restoreFromStore(pin string) (*Instance, error) {
	if r.loader == nil {
		return nil, ErrNoSuchGame
	}
	row, questions, err := r.loader.GetGameByPin(pin)
	if err != nil {
		return nil, ErrNoSuchGame
	}

	inst := New(row.ID, row.Pin, row.Category, QuestionsFromModels(questions), r.maxPlayers, r.maxAnswers)
	phase := PhaseFromStatus(row.Status)
	if phase == PhaseQuestionActive {
		// The question timer died with the old process; land on
		// results so the moderator can move on.
		phase = PhaseResults
	}
	inst.phase = phase
	inst.questionIndex = row.CurrentQuestionIndex
	inst.createdAt = row.CreatedAt

	players, err := r.loader.ListGamePlayers(row.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load players for game %s: %w", pin, err)
	}
	now := time.Now()
	for _, p := range players {
		inst.players[p.PlayerID] = &Player{
			ID:        p.PlayerID,
			Name:      p.Name,
			Token:     p.PlayerToken,
			Score:     p.Score,
			Connected: false,
			LastSeen:  now,
			JoinedAt:  p.JoinedAt,
		}
	}
	inst.totalJoined = len(players)
	if len(players) > inst.peakPlayers {
		inst.peakPlayers = len(players)
	}
	return inst, nil
}

// QuestionsFromModels converts store question rows into the in-memory
// shape.
func QuestionsFromModels(rows []models.Question) []Question {
	questions := make([]Question, 0, len(rows))
	for _, q := range rows {
		questions = append(questions, Question{
			ID:           q.ID,
			OrderIndex:   q.OrderIndex,
			Text:         q.Question,
			Options:      []string(q.Options),
			CorrectIndex: q.CorrectIndex,
			TimeLimit:    q.TimeLimit,
		})
	}
	return questions
}

func snapshotKey(pin string) string {
	return "quiz:game:" + pin + ":state"
}
