package ws

import "sync"

// Latency keeps a half-RTT estimate per socket, fed by the periodic
// ping/pong probes. Estimates are unsmoothed: each answered probe
// replaces the previous value. Sockets that never answered sit at 0,
// which makes latency compensation a no-op for them.
type Latency struct {
	mu        sync.Mutex
	estimates map[string]int64 // socketID → half-RTT ms
	pending   map[string]int64 // socketID → probe timestamp ms
}

func NewLatency() *Latency {
	return &Latency{
		estimates: make(map[string]int64),
		pending:   make(map[string]int64),
	}
}

// Probe registers an outgoing ping for a socket. A probe still pending
// from the last round is overwritten; its pong would be stale anyway.
func (l *Latency) Probe(socketID string, nowMs int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending[socketID] = nowMs
}

// Pong consumes an echoed probe timestamp. Echoes that do not match the
// pending probe are ignored, so a client cannot fake its latency with
// arbitrary values. Returns the new half-RTT estimate and whether the
// pong was accepted.
func (l *Latency) Pong(socketID string, echoedMs, nowMs int64) (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sent, ok := l.pending[socketID]
	if !ok || sent != echoedMs {
		return 0, false
	}
	delete(l.pending, socketID)

	rtt := nowMs - echoedMs
	if rtt < 0 {
		rtt = 0
	}
	half := rtt / 2
	l.estimates[socketID] = half
	return half, true
}

// EstimateMs returns the socket's half-RTT estimate, 0 when unknown.
func (l *Latency) EstimateMs(socketID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.estimates[socketID]
}

// Forget drops all state for a closed socket.
func (l *Latency) Forget(socketID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.estimates, socketID)
	delete(l.pending, socketID)
}
