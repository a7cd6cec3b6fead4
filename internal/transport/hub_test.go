package transport

import "testing"

func drain(c *Client) []string {
	var out []string
	for {
		select {
		case msg := <-c.Outbound():
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestSendToUnknownConnection(t *testing.T) {
	hub := NewHub()
	if hub.SendTo("missing", []byte("x")) {
		t.Fatalf("send to unknown connection should fail")
	}
}

func TestBroadcastToGroupSkipsExcluded(t *testing.T) {
	hub := NewHub()
	a := NewClient("alice", nil, 4)
	b := NewClient("bob", nil, 4)
	c := NewClient("carol", nil, 4)
	for _, client := range []*Client{a, b, c} {
		hub.Add(client)
		hub.JoinGroup(client.ID, "call:1")
	}

	if n := hub.BroadcastToGroup("call:1", []byte("hi"), a.ID); n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	if got := drain(a); len(got) != 0 {
		t.Fatalf("excluded client received %v", got)
	}
	if got := drain(b); len(got) != 1 || got[0] != "hi" {
		t.Fatalf("bob got %v", got)
	}
	if got := drain(c); len(got) != 1 {
		t.Fatalf("carol got %v", got)
	}
}

func TestRemoveLeavesAllGroups(t *testing.T) {
	hub := NewHub()
	a := NewClient("alice", nil, 4)
	hub.Add(a)
	hub.JoinGroup(a.ID, "g1")
	hub.JoinGroup(a.ID, "g2")

	if !hub.Remove(a.ID) {
		t.Fatalf("first remove should report true")
	}
	if hub.Remove(a.ID) {
		t.Fatalf("second remove should report false")
	}
	if hub.GroupSize("g1") != 0 || hub.GroupSize("g2") != 0 {
		t.Fatalf("groups should be empty after remove")
	}
	if _, open := <-a.Outbound(); open {
		t.Fatalf("send channel should be closed")
	}
	if hub.SendTo(a.ID, []byte("late")) {
		t.Fatalf("send after remove should fail")
	}
}

func TestSendToFullBufferFails(t *testing.T) {
	hub := NewHub()
	a := NewClient("alice", nil, 1)
	hub.Add(a)

	if !hub.SendTo(a.ID, []byte("1")) {
		t.Fatalf("first send should fit")
	}
	if hub.SendTo(a.ID, []byte("2")) {
		t.Fatalf("second send should overflow")
	}
}

func TestLeaveGroup(t *testing.T) {
	hub := NewHub()
	a := NewClient("alice", nil, 4)
	hub.Add(a)
	hub.JoinGroup(a.ID, "g")
	hub.LeaveGroup(a.ID, "g")

	if n := hub.BroadcastToGroup("g", []byte("x")); n != 0 {
		t.Fatalf("expected no deliveries after leave, got %d", n)
	}
}
