package presence

import "testing"

func TestRegisterMultipleDevices(t *testing.T) {
	r := New()

	if first := r.Register("alice", "c1"); !first {
		t.Fatalf("expected first connection to be reported as first")
	}
	if first := r.Register("alice", "c2"); first {
		t.Fatalf("second connection must not be reported as first")
	}

	conns := r.ConnectionsOf("alice")
	if len(conns) != 2 || conns[0] != "c1" || conns[1] != "c2" {
		t.Fatalf("unexpected connections: %v", conns)
	}
	if !r.HasOtherConnections("alice", "c1") {
		t.Fatalf("alice should be online on another connection")
	}
}

func TestUnregisterLastConnectionMakesUnreachable(t *testing.T) {
	r := New()
	r.Register("bob", "c1")
	r.Register("bob", "c2")

	if remaining := r.Unregister("bob", "c1"); remaining != 1 {
		t.Fatalf("expected 1 remaining connection, got %d", remaining)
	}
	if !r.IsReachable("bob") {
		t.Fatalf("bob should still be reachable")
	}
	if r.HasOtherConnections("bob", "c2") {
		t.Fatalf("bob has no connection besides c2")
	}

	if remaining := r.Unregister("bob", "c2"); remaining != 0 {
		t.Fatalf("expected 0 remaining connections, got %d", remaining)
	}
	if r.IsReachable("bob") {
		t.Fatalf("bob should be unreachable")
	}
	if conns := r.ConnectionsOf("bob"); len(conns) != 0 {
		t.Fatalf("expected no connections, got %v", conns)
	}
}

func TestUnregisterUnknownIsNoop(t *testing.T) {
	r := New()
	if remaining := r.Unregister("ghost", "c1"); remaining != 0 {
		t.Fatalf("expected 0, got %d", remaining)
	}
	users, conns := r.Counts()
	if users != 0 || conns != 0 {
		t.Fatalf("expected empty resolver, got users=%d conns=%d", users, conns)
	}
}

func TestOnlineUsers(t *testing.T) {
	r := New()
	r.Register("alice", "c1")
	r.Register("bob", "c2")
	r.Register("bob", "c3")

	online := r.OnlineUsers()
	if !online["alice"] || !online["bob"] || len(online) != 2 {
		t.Fatalf("unexpected online set: %v", online)
	}
	users, conns := r.Counts()
	if users != 2 || conns != 3 {
		t.Fatalf("unexpected counts users=%d conns=%d", users, conns)
	}
}
