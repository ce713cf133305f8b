// Package session tracks rooms and peer membership for the signaling relay.
package session

import (
	"errors"
	"regexp"
	"sort"
	"sync"
)

// Role is a peer's function within a room.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

var (
	ErrInvalidRoom = errors.New("invalid room name")
	ErrInvalidRole = errors.New("invalid role")
)

// Room names are alphanumeric with optional hyphens/underscores, 1-50 chars.
var roomNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,50}$`)

// ValidRoomName reports whether name is an acceptable room identifier.
func ValidRoomName(name string) bool {
	return roomNameRe.MatchString(name)
}

// ParseRole validates a wire-level role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleSender, RoleReceiver:
		return Role(s), nil
	default:
		return "", ErrInvalidRole
	}
}

type room struct {
	senders   map[string]struct{}
	receivers map[string]struct{}
}

func (r *room) empty() bool {
	return len(r.senders) == 0 && len(r.receivers) == 0
}

func (r *room) roleSet(role Role) map[string]struct{} {
	if role == RoleSender {
		return r.senders
	}
	return r.receivers
}

// RoomStats is a per-room membership summary.
type RoomStats struct {
	Senders   int `json:"senders"`
	Receivers int `json:"receivers"`
	Total     int `json:"total"`
}

// Registry owns room membership state. It is safe for concurrent use and is
// passed by reference to every relay component; there is no process-wide
// instance.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*room)}
}

// Join adds peerID to the room's set for role, creating the room if needed.
//
// Join is idempotent: joining the same room twice with the same role is a
// no-op, and re-joining with the other role moves the peer to the new role
// set instead of duplicating it.
func (reg *Registry) Join(peerID, roomName string, role Role) error {
	if !ValidRoomName(roomName) {
		return ErrInvalidRoom
	}
	if role != RoleSender && role != RoleReceiver {
		return ErrInvalidRole
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomName]
	if !ok {
		r = &room{
			senders:   make(map[string]struct{}),
			receivers: make(map[string]struct{}),
		}
		reg.rooms[roomName] = r
	}

	delete(r.senders, peerID)
	delete(r.receivers, peerID)
	r.roleSet(role)[peerID] = struct{}{}
	return nil
}

// Leave removes peerID from every room. Rooms left with no members in either
// set are deleted. It returns the rooms the peer was actually a member of so
// callers can notify the remaining peers.
func (reg *Registry) Leave(peerID string) []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var affected []string
	for name, r := range reg.rooms {
		_, wasSender := r.senders[peerID]
		_, wasReceiver := r.receivers[peerID]
		if !wasSender && !wasReceiver {
			continue
		}
		delete(r.senders, peerID)
		delete(r.receivers, peerID)
		affected = append(affected, name)
		if r.empty() {
			delete(reg.rooms, name)
		}
	}
	sort.Strings(affected)
	return affected
}

// Members returns every peer in the room, in no particular order. The result
// is a copy; mutating it does not affect the registry.
func (reg *Registry) Members(roomName string) []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[roomName]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(r.senders)+len(r.receivers))
	for id := range r.senders {
		out = append(out, id)
	}
	for id := range r.receivers {
		out = append(out, id)
	}
	return out
}

// IsMember reports whether peerID belongs to the room under either role.
func (reg *Registry) IsMember(roomName, peerID string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[roomName]
	if !ok {
		return false
	}
	if _, ok := r.senders[peerID]; ok {
		return true
	}
	_, ok = r.receivers[peerID]
	return ok
}

// Stats returns a per-room membership summary.
func (reg *Registry) Stats() map[string]RoomStats {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make(map[string]RoomStats, len(reg.rooms))
	for name, r := range reg.rooms {
		out[name] = RoomStats{
			Senders:   len(r.senders),
			Receivers: len(r.receivers),
			Total:     len(r.senders) + len(r.receivers),
		}
	}
	return out
}
