// Package app holds the relay server's connection registry: who is
// connected, which user a connection speaks for, and which voice room
// it currently sits in. The relay never interprets call semantics.
package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/avesler/huddle/internal/core"
	"github.com/avesler/huddle/internal/domain"
)

type connEntry struct {
	conn   core.SignalConn
	user   domain.UserID
	room   domain.RoomID
	cancel context.CancelFunc
}

// MemberSnap is a read-only view of one room member for fan-out.
type MemberSnap struct {
	ID   core.ConnID
	User domain.UserID
	Conn core.SignalConn
}

// RoomInfo is the API view of one active voice room.
type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"member_count"`
}

type Registry struct {
	mu    sync.RWMutex
	conns map[core.ConnID]*connEntry
	rooms map[domain.RoomID]map[core.ConnID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[core.ConnID]*connEntry),
		rooms: make(map[domain.RoomID]map[core.ConnID]struct{}),
	}
}

func (r *Registry) Bind(id core.ConnID, conn core.SignalConn, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &connEntry{conn: conn, cancel: cancel}
	log.Info().Str("module", "app.registry").Str("conn_id", string(id)).Msg("connection bound")
}

// SetUser binds the stable user identity to a connection (join-room).
func (r *Registry) SetUser(id core.ConnID, user domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	e.user = user
	log.Info().Str("module", "app.registry").Str("conn_id", string(id)).Str("user", string(user)).Msg("user bound")
	return true
}

func (r *Registry) Conn(id core.ConnID) (core.SignalConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

func (r *Registry) UserOf(id core.ConnID) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok || e.user == "" {
		return "", false
	}
	return e.user, true
}

func (r *Registry) RoomOf(id core.ConnID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok || e.room == "" {
		return "", false
	}
	return e.room, true
}

// JoinRoom moves the connection into a room, leaving any previous one.
// It returns the members present before this join, snapshotted under
// the same lock, so the caller can announce the newcomer without a
// second lookup racing a concurrent join.
func (r *Registry) JoinRoom(id core.ConnID, room domain.RoomID) ([]MemberSnap, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	if e.room != "" {
		r.dropFromRoomLocked(id, e.room)
	}
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[core.ConnID]struct{})
		r.rooms[room] = members
	}
	prior := make([]MemberSnap, 0, len(members))
	for mid := range members {
		if me, ok := r.conns[mid]; ok {
			prior = append(prior, MemberSnap{ID: mid, User: me.user, Conn: me.conn})
		}
	}
	members[id] = struct{}{}
	e.room = room
	log.Info().Str("module", "app.registry").Str("conn_id", string(id)).Str("room", string(room)).Msg("joined room")
	return prior, true
}

// LeaveRoom removes the connection from its room and reports which one.
func (r *Registry) LeaveRoom(id core.ConnID) (domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok || e.room == "" {
		return "", false
	}
	room := e.room
	r.dropFromRoomLocked(id, room)
	e.room = ""
	log.Info().Str("module", "app.registry").Str("conn_id", string(id)).Str("room", string(room)).Msg("left room")
	return room, true
}

func (r *Registry) dropFromRoomLocked(id core.ConnID, room domain.RoomID) {
	if members, ok := r.rooms[room]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

func (r *Registry) MembersOfRoom(room domain.RoomID) []MemberSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members, ok := r.rooms[room]
	if !ok {
		return nil
	}
	out := make([]MemberSnap, 0, len(members))
	for id := range members {
		if e, ok := r.conns[id]; ok {
			out = append(out, MemberSnap{ID: id, User: e.user, Conn: e.conn})
		}
	}
	return out
}

func (r *Registry) ListRooms() []RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RoomInfo, 0, len(r.rooms))
	for id, members := range r.rooms {
		out = append(out, RoomInfo{ID: id, MemberCount: len(members)})
	}
	return out
}

// Unbind drops the connection entirely; reports the room and user it
// held so the controller can broadcast the departure.
func (r *Registry) Unbind(id core.ConnID) (domain.RoomID, domain.UserID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return "", "", false
	}
	if e.room != "" {
		r.dropFromRoomLocked(id, e.room)
	}
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("conn_id", string(id)).Msg("connection unbound")
	return e.room, e.user, true
}

// Cancel fires the per-connection cancel func, stopping its pumps.
func (r *Registry) Cancel(id core.ConnID) bool {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.cancel != nil {
		e.cancel()
	}
	return true
}
