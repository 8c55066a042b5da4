package ws

import "testing"

func TestSessionBindAndGet(t *testing.T) {
	s := NewSessions()

	if prev := s.Bind("sock-1", RolePlayer, "123456", 1); prev != "" {
		t.Fatalf("first bind displaced %q, want nothing", prev)
	}
	sess, ok := s.Get("sock-1")
	if !ok || sess.Role != RolePlayer || sess.Pin != "123456" || sess.PlayerID != 1 {
		t.Fatalf("Get(sock-1) = %+v, %v", sess, ok)
	}
	if s.Count() != 1 {
		t.Fatalf("Count = %d, want 1", s.Count())
	}
	if _, ok := s.Get("sock-2"); ok {
		t.Fatal("Get found a socket that was never bound")
	}
}

func TestSessionRebindDisplacesOldSocket(t *testing.T) {
	s := NewSessions()
	s.Bind("sock-old", RolePlayer, "123456", 1)

	prev := s.Bind("sock-new", RolePlayer, "123456", 1)
	if prev != "sock-old" {
		t.Fatalf("rebind displaced %q, want sock-old", prev)
	}
	if got, _ := s.SocketForPlayer("123456", 1); got != "sock-new" {
		t.Fatalf("SocketForPlayer = %q, want sock-new", got)
	}

	// The displaced socket's teardown must learn it is stale.
	sess, current, ok := s.Unbind("sock-old")
	if !ok || sess.PlayerID != 1 {
		t.Fatalf("Unbind(sock-old) = %+v, %v, %v", sess, current, ok)
	}
	if current {
		t.Fatal("displaced socket still reported as the player's current one")
	}

	// The live socket unbinds as current.
	if _, current, _ := s.Unbind("sock-new"); !current {
		t.Fatal("active socket not reported as current on unbind")
	}
	if _, ok := s.SocketForPlayer("123456", 1); ok {
		t.Fatal("reverse index kept an entry after both sockets unbound")
	}
}

func TestSessionUnbindUnknownSocket(t *testing.T) {
	s := NewSessions()
	if _, _, ok := s.Unbind("ghost"); ok {
		t.Fatal("Unbind reported success for an unknown socket")
	}
}

func TestSessionModeratorAlwaysCurrent(t *testing.T) {
	s := NewSessions()
	s.Bind("sock-m", RoleModerator, "123456", 0)

	if _, ok := s.SocketForPlayer("123456", 0); ok {
		t.Fatal("moderator leaked into the player reverse index")
	}
	_, current, ok := s.Unbind("sock-m")
	if !ok || !current {
		t.Fatalf("moderator unbind = current %v ok %v, want true true", current, ok)
	}
}

func TestSessionSocketRoleSwitch(t *testing.T) {
	s := NewSessions()
	s.Bind("sock-1", RolePlayer, "123456", 1)

	// The same socket re-handshakes as a panel; the player binding goes.
	s.Bind("sock-1", RolePanel, "123456", 0)
	if _, ok := s.SocketForPlayer("123456", 1); ok {
		t.Fatal("player reverse entry survived a role switch")
	}
	sess, _ := s.Get("sock-1")
	if sess.Role != RolePanel {
		t.Fatalf("role after switch = %s, want panel", sess.Role)
	}
}
