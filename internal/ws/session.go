package ws

import "sync"

// Role says what a socket is to its game.
type Role string

const (
	RolePlayer    Role = "player"
	RoleModerator Role = "moderator"
	RolePanel     Role = "panel"
)

// Session is the per-connection binding established by a successful
// create/join/reconnect handshake. PlayerID is set for players only.
type Session struct {
	SocketID string
	Role     Role
	Pin      string
	PlayerID int
}

// Sessions maps socket ids to their bindings and keeps the reverse
// player → socket index so a rebind can displace the previous socket
// (last write wins on reconnect).
type Sessions struct {
	mu       sync.RWMutex
	bySocket map[string]Session
	players  map[string]map[int]string // pin → playerID → socketID
}

func NewSessions() *Sessions {
	return &Sessions{
		bySocket: make(map[string]Session),
		players:  make(map[string]map[int]string),
	}
}

// Bind records the session for a socket. For players it returns the
// socket id previously bound to the same player, so the caller can
// close the displaced connection; "" when there was none.
func (s *Sessions) Bind(socketID string, role Role, pin string, playerID int) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A socket re-handshaking drops its old reverse entry first.
	if old, ok := s.bySocket[socketID]; ok && old.Role == RolePlayer {
		s.dropReverseLocked(old, socketID)
	}

	s.bySocket[socketID] = Session{SocketID: socketID, Role: role, Pin: pin, PlayerID: playerID}

	if role != RolePlayer {
		return ""
	}
	room, ok := s.players[pin]
	if !ok {
		room = make(map[int]string)
		s.players[pin] = room
	}
	prev := room[playerID]
	room[playerID] = socketID
	if prev == socketID {
		prev = ""
	}
	return prev
}

// Get returns the session bound to a socket.
func (s *Sessions) Get(socketID string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.bySocket[socketID]
	return sess, ok
}

// Unbind removes a socket's binding. current reports whether the socket
// was still the player's active one; a connection displaced by a
// reconnect comes back false, so its teardown must not touch the
// player's state.
func (s *Sessions) Unbind(socketID string) (sess Session, current bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok = s.bySocket[socketID]
	if !ok {
		return Session{}, false, false
	}
	delete(s.bySocket, socketID)

	if sess.Role != RolePlayer {
		return sess, true, true
	}
	return sess, s.dropReverseLocked(sess, socketID), true
}

// dropReverseLocked clears the player → socket entry when it still
// points at socketID. Reports whether it did.
func (s *Sessions) dropReverseLocked(sess Session, socketID string) bool {
	room, ok := s.players[sess.Pin]
	if !ok {
		return false
	}
	if room[sess.PlayerID] != socketID {
		return false
	}
	delete(room, sess.PlayerID)
	if len(room) == 0 {
		delete(s.players, sess.Pin)
	}
	return true
}

// SocketForPlayer returns the socket currently bound to a player.
func (s *Sessions) SocketForPlayer(pin string, playerID int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.players[pin]
	if !ok {
		return "", false
	}
	id, ok := room[playerID]
	return id, ok
}

// Count returns the number of bound sockets.
func (s *Sessions) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bySocket)
}
