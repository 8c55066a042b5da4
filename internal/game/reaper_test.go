package game

import (
	"context"
	"testing"
	"time"

	"github.com/kvizko/backend/internal/config"
)

type recordingHooks struct {
	swept       []Player
	evicted     []string
	subscribers map[string]bool
	ticks       int
}

func (h *recordingHooks) PlayerSwept(inst *Instance, p Player) { h.swept = append(h.swept, p) }
func (h *recordingHooks) GameEvicted(inst *Instance)           { h.evicted = append(h.evicted, inst.Pin) }
func (h *recordingHooks) HasSubscribers(pin string) bool       { return h.subscribers[pin] }
func (h *recordingHooks) LatencyTick()                         { h.ticks++ }

type fakeReaperStore struct {
	cutoff  time.Time
	cleaned int
	calls   int
}

func (f *fakeReaperStore) CleanupOldGames(olderThan time.Time) (int, error) {
	f.calls++
	f.cutoff = olderThan
	return f.cleaned, nil
}

func reaperConfig() *config.Config {
	return &config.Config{
		MaxPlayersPerGame:    10,
		MaxAnswerBuffer:      100,
		LatencyPingSeconds:   5,
		DisconnectTTLMinutes: 10,
		IdleGameMinutes:      30,
		GameRetentionHours:   24,
	}
}

func TestSweepRemovesStalePlayers(t *testing.T) {
	cfg := reaperConfig()
	r := NewRegistry(nil, nil, cfg)
	hooks := &recordingHooks{}
	reaper := NewReaper(r, nil, nil, hooks, cfg)

	g := testInstance(1, 10, 100)
	mustJoin(t, g, 1, "Anna")
	mustJoin(t, g, 2, "Boris")
	g.Disconnect(1)
	r.Register(g)

	// Inside the TTL nothing happens.
	reaper.Sweep(time.Now().Add(5 * time.Minute))
	if len(hooks.swept) != 0 {
		t.Fatalf("swept %d players inside TTL, want 0", len(hooks.swept))
	}

	// Past the TTL the disconnected player goes, the connected one stays.
	reaper.Sweep(time.Now().Add(11 * time.Minute))
	if len(hooks.swept) != 1 || hooks.swept[0].ID != 1 {
		t.Fatalf("swept = %+v, want exactly player 1", hooks.swept)
	}
	if _, ok := g.Player(1); ok {
		t.Error("player 1 still in instance after sweep")
	}
	if _, ok := g.Player(2); !ok {
		t.Error("connected player 2 was swept")
	}
}

func TestSweepEvictsIdleGames(t *testing.T) {
	cfg := reaperConfig()
	r := NewRegistry(nil, nil, cfg)
	hooks := &recordingHooks{}
	reaper := NewReaper(r, nil, nil, hooks, cfg)

	idle := New(1, "111111", "vseobecne", testQuestions(1), 10, 100)
	busy := New(2, "222222", "vseobecne", testQuestions(1), 10, 100)
	mustJoin(t, busy, 1, "Anna")
	r.Register(idle)
	r.Register(busy)

	reaper.Sweep(time.Now().Add(31 * time.Minute))

	if r.PinInUse("111111") {
		t.Error("idle game survived the sweep")
	}
	if len(hooks.evicted) != 1 || hooks.evicted[0] != "111111" {
		t.Errorf("evicted = %v, want [111111]", hooks.evicted)
	}
	// A connected player keeps the game alive regardless of age.
	if !r.PinInUse("222222") {
		t.Error("game with a connected player was evicted")
	}
}

func TestSweepKeepsGameWithModeratorSocket(t *testing.T) {
	cfg := reaperConfig()
	r := NewRegistry(nil, nil, cfg)
	hooks := &recordingHooks{subscribers: map[string]bool{"111111": true}}
	reaper := NewReaper(r, nil, nil, hooks, cfg)

	g := New(1, "111111", "vseobecne", testQuestions(1), 10, 100)
	r.Register(g)

	// No players, but a moderator or panel socket is still attached.
	reaper.Sweep(time.Now().Add(31 * time.Minute))
	if !r.PinInUse("111111") {
		t.Fatal("game with an attached socket was evicted")
	}

	hooks.subscribers["111111"] = false
	reaper.Sweep(time.Now().Add(31 * time.Minute))
	if r.PinInUse("111111") {
		t.Fatal("abandoned game survived after its last socket detached")
	}
}

func TestSweepDoesNotEvictYoungEmptyGame(t *testing.T) {
	cfg := reaperConfig()
	r := NewRegistry(nil, nil, cfg)
	reaper := NewReaper(r, nil, nil, nil, cfg)

	g := New(1, "111111", "vseobecne", testQuestions(1), 10, 100)
	r.Register(g)

	reaper.Sweep(time.Now().Add(5 * time.Minute))
	if !r.PinInUse("111111") {
		t.Fatal("empty game evicted before the idle threshold")
	}
}

func TestSweepNilHooks(t *testing.T) {
	cfg := reaperConfig()
	r := NewRegistry(nil, nil, cfg)
	reaper := NewReaper(r, nil, nil, nil, cfg)

	g := testInstance(1, 10, 100)
	mustJoin(t, g, 1, "Anna")
	g.Disconnect(1)
	r.Register(g)

	// Must not panic without hooks.
	reaper.Sweep(time.Now().Add(11 * time.Minute))
	reaper.Sweep(time.Now().Add(31 * time.Minute))
}

func TestReapStoreWithoutRedis(t *testing.T) {
	cfg := reaperConfig()
	r := NewRegistry(nil, nil, cfg)
	store := &fakeReaperStore{cleaned: 3}
	reaper := NewReaper(r, store, nil, nil, cfg)

	before := time.Now().Add(-24 * time.Hour)
	reaper.ReapStore(context.Background())
	after := time.Now().Add(-24 * time.Hour)

	if store.calls != 1 {
		t.Fatalf("CleanupOldGames called %d times, want 1", store.calls)
	}
	if store.cutoff.Before(before) || store.cutoff.After(after) {
		t.Errorf("cutoff %v outside expected 24h window", store.cutoff)
	}
}

func TestReapStoreNilStore(t *testing.T) {
	cfg := reaperConfig()
	reaper := NewReaper(NewRegistry(nil, nil, cfg), nil, nil, nil, cfg)
	reaper.ReapStore(context.Background())
}

// A panic in a periodic action is contained; the hooks call into the
// connection layer and must never take the loop down with them.
func TestTickSurvivesPanickingHook(t *testing.T) {
	cfg := reaperConfig()
	reaper := NewReaper(NewRegistry(nil, nil, cfg), nil, nil, nil, cfg)
	reaper.tick("latency ping", func() { panic("boom") })
}
