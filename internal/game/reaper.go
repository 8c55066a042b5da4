package game

import (
	"context"
	"log"
	"runtime/debug"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kvizko/backend/internal/config"
)

const reapLockKey = "quiz:reap:daily"

// ReaperStore is the slice of the persistence store the reaper calls.
type ReaperStore interface {
	CleanupOldGames(olderThan time.Time) (int, error)
}

// ReaperHooks lets the connection layer react to lifecycle decisions
// (broadcast a removal, persist it) without a package cycle. The
// instance only counts player connections, so HasSubscribers answers
// whether any socket of any role is still attached to the PIN.
type ReaperHooks interface {
	PlayerSwept(inst *Instance, p Player)
	GameEvicted(inst *Instance)
	HasSubscribers(pin string) bool
	LatencyTick()
}

// Reaper owns the periodic work: latency ping fan-out, the
// disconnected-player TTL sweep, abandoned-game eviction and the daily
// store reap.
type Reaper struct {
	registry *Registry
	store    ReaperStore
	rdb      *redis.Client
	hooks    ReaperHooks

	pingEvery     time.Duration
	disconnectTTL time.Duration
	idleAfter     time.Duration
	retention     time.Duration
}

func NewReaper(registry *Registry, store ReaperStore, rdb *redis.Client, hooks ReaperHooks, cfg *config.Config) *Reaper {
	return &Reaper{
		registry:      registry,
		store:         store,
		rdb:           rdb,
		hooks:         hooks,
		pingEvery:     time.Duration(cfg.LatencyPingSeconds) * time.Second,
		disconnectTTL: time.Duration(cfg.DisconnectTTLMinutes) * time.Minute,
		idleAfter:     time.Duration(cfg.IdleGameMinutes) * time.Minute,
		retention:     time.Duration(cfg.GameRetentionHours) * time.Hour,
	}
}

// Start launches the background loop. It stops when ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) {
	log.Println("[REAPER] started")
	go func() {
		ping := time.NewTicker(r.pingEvery)
		sweep := time.NewTicker(time.Minute)
		reap := time.NewTicker(time.Hour)
		defer ping.Stop()
		defer sweep.Stop()
		defer reap.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Println("[REAPER] stopping")
				return
			case <-ping.C:
				r.tick("latency ping", func() {
					if r.hooks != nil {
						r.hooks.LatencyTick()
					}
				})
			case <-sweep.C:
				r.tick("sweep", func() { r.Sweep(time.Now()) })
			case <-reap.C:
				r.tick("store reap", func() { r.ReapStore(ctx) })
			}
		}
	}()
}

// tick runs one periodic action. A panic in it is logged and the loop
// stays up; the hooks call into the connection layer and must never
// take the whole process down.
func (r *Reaper) tick(name string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[REAPER] panic in %s: %v\n%s", name, rec, debug.Stack())
		}
	}()
	fn()
}

// Sweep removes players whose disconnect outlived the TTL and evicts
// games nobody is connected to once they have been idle long enough.
// The store row survives eviction; only the memory goes.
func (r *Reaper) Sweep(now time.Time) {
	for _, inst := range r.registry.Instances() {
		for _, p := range inst.SweepDisconnected(r.disconnectTTL, now) {
			log.Printf("[REAPER] removed player %d (%s) from game %s after disconnect TTL", p.ID, p.Name, inst.Pin)
			if r.hooks != nil {
				r.hooks.PlayerSwept(inst, p)
			}
		}

		if inst.Idle(r.idleAfter, now) && (r.hooks == nil || !r.hooks.HasSubscribers(inst.Pin)) {
			log.Printf("[REAPER] evicting idle game %s (phase=%s, %d players)", inst.Pin, inst.Phase().Status(), inst.TotalPlayers())
			if r.hooks != nil {
				r.hooks.GameEvicted(inst)
			}
			r.registry.Evict(inst.Pin)
		}
	}
}

// ReapStore deletes store rows older than the retention window. A Redis
// lock keeps multiple replicas from reaping on the same day; without
// Redis every replica reaps, which is wasteful but harmless.
func (r *Reaper) ReapStore(ctx context.Context) {
	if r.store == nil {
		return
	}
	if r.rdb != nil {
		ok, err := r.rdb.SetNX(ctx, reapLockKey, time.Now().Format(time.RFC3339), 23*time.Hour).Result()
		if err != nil {
			log.Printf("[REAPER] reap lock check failed: %v", err)
			return
		}
		if !ok {
			return
		}
	}
	n, err := r.store.CleanupOldGames(time.Now().Add(-r.retention))
	if err != nil {
		log.Printf("[REAPER] store reap failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[REAPER] reaped %d old games from store", n)
	}
}
