package collab

import (
	"sort"
	"sync"
)

// Registry tracks which connections sit in which rooms. It is the single
// source of truth for membership on this server; the transport's own room
// bookkeeping is not consulted. A connection may be in several rooms at once.
// All methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Conn     // room ID -> conn ID -> conn
	conns map[string]map[string]struct{} // conn ID -> rooms joined
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]Conn),
		conns: make(map[string]map[string]struct{}),
	}
}

// Join adds c to the room, creating the room on first use. Joining a room
// the connection is already in is a no-op.
func (r *Registry) Join(roomID string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		room = make(map[string]Conn)
		r.rooms[roomID] = room
	}
	room[c.ID()] = c

	joined, ok := r.conns[c.ID()]
	if !ok {
		joined = make(map[string]struct{})
		r.conns[c.ID()] = joined
	}
	joined[roomID] = struct{}{}
}

// Members returns a snapshot of the connections currently in the room.
// An unknown room yields an empty slice.
func (r *Registry) Members(roomID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]Conn, 0, len(r.rooms[roomID]))
	for _, c := range r.rooms[roomID] {
		members = append(members, c)
	}
	return members
}

// MembersExcept returns a snapshot of the room's connections minus connID.
func (r *Registry) MembersExcept(roomID, connID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]Conn, 0, len(r.rooms[roomID]))
	for id, c := range r.rooms[roomID] {
		if id != connID {
			members = append(members, c)
		}
	}
	return members
}

// MemberIDs returns the sorted connection IDs in the room, for presence
// payloads.
func (r *Registry) MemberIDs(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.rooms[roomID]))
	for id := range r.rooms[roomID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Remove drops the connection from every room it joined and returns the
// rooms it left. Rooms that become empty are pruned. Removing an unknown
// connection returns nil.
func (r *Registry) Remove(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.conns[connID]
	if !ok {
		return nil
	}
	delete(r.conns, connID)

	left := make([]string, 0, len(joined))
	for roomID := range joined {
		left = append(left, roomID)
		delete(r.rooms[roomID], connID)
		if len(r.rooms[roomID]) == 0 {
			delete(r.rooms, roomID)
		}
	}
	sort.Strings(left)
	return left
}

// Clear empties the registry. Called once at server shutdown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = make(map[string]map[string]Conn)
	r.conns = make(map[string]map[string]struct{})
}
