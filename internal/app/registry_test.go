package app

import (
	"sync"
	"testing"

	"github.com/avesler/huddle/internal/core"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func TestRegistryBindAndLookup(t *testing.T) {
	r := NewRegistry()
	conn := &fakeConn{}
	r.Bind("c1", conn, nil)

	got, ok := r.Conn("c1")
	if !ok || got != core.SignalConn(conn) {
		t.Fatal("bound connection not found")
	}
	if _, ok := r.Conn("nope"); ok {
		t.Fatal("unknown id resolved")
	}
	if _, ok := r.UserOf("c1"); ok {
		t.Fatal("user resolved before SetUser")
	}

	if !r.SetUser("c1", "alice") {
		t.Fatal("SetUser failed for bound connection")
	}
	if r.SetUser("nope", "bob") {
		t.Fatal("SetUser succeeded for unknown connection")
	}
	user, ok := r.UserOf("c1")
	if !ok || user != "alice" {
		t.Fatalf("UserOf = %q, %v", user, ok)
	}
}

func TestRegistryRoomMembership(t *testing.T) {
	r := NewRegistry()
	r.Bind("c1", &fakeConn{}, nil)
	r.Bind("c2", &fakeConn{}, nil)
	r.SetUser("c1", "alice")
	r.SetUser("c2", "bob")

	if _, ok := r.JoinRoom("nope", "ops"); ok {
		t.Fatal("unknown connection joined a room")
	}
	prior, ok := r.JoinRoom("c1", "ops")
	if !ok {
		t.Fatal("join failed")
	}
	if len(prior) != 0 {
		t.Fatalf("first joiner saw %d prior members, want 0", len(prior))
	}
	prior, ok = r.JoinRoom("c2", "ops")
	if !ok {
		t.Fatal("join failed")
	}
	if len(prior) != 1 || prior[0].ID != "c1" || prior[0].User != "alice" {
		t.Fatalf("second joiner saw prior members %+v, want just c1", prior)
	}
	if room, ok := r.RoomOf("c1"); !ok || room != "ops" {
		t.Fatalf("RoomOf = %q, %v", room, ok)
	}

	members := r.MembersOfRoom("ops")
	if len(members) != 2 {
		t.Fatalf("members = %d, want 2", len(members))
	}
	seen := map[core.ConnID]bool{}
	for _, m := range members {
		seen[m.ID] = true
	}
	if !seen["c1"] || !seen["c2"] {
		t.Fatalf("wrong membership: %+v", members)
	}

	// Joining another room leaves the old one implicitly.
	if _, ok := r.JoinRoom("c1", "standup"); !ok {
		t.Fatal("room switch failed")
	}
	if n := len(r.MembersOfRoom("ops")); n != 1 {
		t.Fatalf("ops members = %d after switch, want 1", n)
	}
	if room, _ := r.RoomOf("c1"); room != "standup" {
		t.Fatalf("RoomOf after switch = %q", room)
	}

	rooms := r.ListRooms()
	if len(rooms) != 2 {
		t.Fatalf("ListRooms = %+v, want 2 rooms", rooms)
	}
}

func TestRegistryLeaveRoom(t *testing.T) {
	r := NewRegistry()
	r.Bind("c1", &fakeConn{}, nil)
	r.JoinRoom("c1", "ops")

	room, ok := r.LeaveRoom("c1")
	if !ok || room != "ops" {
		t.Fatalf("LeaveRoom = %q, %v", room, ok)
	}
	if _, ok := r.RoomOf("c1"); ok {
		t.Fatal("room still set after leave")
	}
	if _, ok := r.LeaveRoom("c1"); ok {
		t.Fatal("second leave reported a room")
	}
	// Empty rooms are garbage collected.
	if n := len(r.ListRooms()); n != 0 {
		t.Fatalf("ListRooms = %d after last leave, want 0", n)
	}
}

func TestRegistryUnbind(t *testing.T) {
	r := NewRegistry()
	r.Bind("c1", &fakeConn{}, nil)
	r.SetUser("c1", "alice")
	r.JoinRoom("c1", "ops")

	room, user, ok := r.Unbind("c1")
	if !ok || room != "ops" || user != "alice" {
		t.Fatalf("Unbind = %q, %q, %v", room, user, ok)
	}
	if _, ok := r.Conn("c1"); ok {
		t.Fatal("connection still resolvable after unbind")
	}
	if n := len(r.MembersOfRoom("ops")); n != 0 {
		t.Fatalf("room still has %d members after unbind", n)
	}
	if _, _, ok := r.Unbind("c1"); ok {
		t.Fatal("second unbind succeeded")
	}
}

func TestRegistryCancel(t *testing.T) {
	r := NewRegistry()
	fired := false
	r.Bind("c1", &fakeConn{}, func() { fired = true })

	if !r.Cancel("c1") {
		t.Fatal("Cancel failed for bound connection")
	}
	if !fired {
		t.Fatal("cancel func not fired")
	}
	if r.Cancel("nope") {
		t.Fatal("Cancel succeeded for unknown connection")
	}
}
