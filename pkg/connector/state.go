// Copyright 2024-2026 Aiku AI

package connector

import (
	"slices"

	"go.mau.fi/util/exsync"
	"maunium.net/go/mautrix/id"
)

type mapping struct {
	room  Room
	group bool
}

// State is everything one bridge lifetime knows about the two networks. It is
// created by the Bridge and mutated only from the dispatch loop; Groups is
// additionally read by the startup rejoin step.
type State struct {
	mappings map[Identity]*mapping
	byRoom   map[id.RoomID]Identity

	Special map[RoomRole]Room
	Roster  Roster
	Groups  *exsync.Set[Identity]
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		mappings: make(map[Identity]*mapping),
		byRoom:   make(map[id.RoomID]Identity),
		Special:  make(map[RoomRole]Room),
		Roster:   make(Roster),
		Groups:   exsync.NewSet[Identity](),
	}
}

// IsSpecial reports whether the room holds one of the special roles.
func (s *State) IsSpecial(roomID id.RoomID) bool {
	return s.SpecialRole(roomID) != ""
}

// SpecialRole returns the role bound to the room, or "" if it has none.
func (s *State) SpecialRole(roomID id.RoomID) RoomRole {
	for role, room := range s.Special {
		if room != nil && room.ID() == roomID {
			return role
		}
	}
	return ""
}

// DisplayName returns the roster name of the identity, falling back to the
// raw identity key when it is not in the roster or has no name.
func (s *State) DisplayName(identity Identity) string {
	if entry, ok := s.Roster[identity]; ok && entry.Name != "" {
		return entry.Name
	}
	return string(identity)
}

// MappedIdentities returns the mapped identity keys in sorted order.
func (s *State) MappedIdentities() []Identity {
	keys := make([]Identity, 0, len(s.mappings))
	for identity := range s.mappings {
		keys = append(keys, identity)
	}
	slices.Sort(keys)
	return keys
}

// MappingInfo describes one Mapping Table entry.
type MappingInfo struct {
	RoomID id.RoomID `json:"room_id"`
	Topic  string    `json:"topic"`
	Name   string    `json:"name"`
	Group  bool      `json:"group"`
}

// Snapshot is a point-in-time copy of the bridge state.
type Snapshot struct {
	Mappings     map[Identity]MappingInfo `json:"mappings"`
	SpecialRooms map[RoomRole]id.RoomID   `json:"special_rooms"`
	Groups       []Identity               `json:"groups"`
	RosterSize   int                      `json:"roster_size"`
}

// Snapshot copies the state. It must be called from the dispatch loop.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		Mappings:     make(map[Identity]MappingInfo, len(s.mappings)),
		SpecialRooms: make(map[RoomRole]id.RoomID, len(s.Special)),
		Groups:       s.Groups.AsList(),
		RosterSize:   len(s.Roster),
	}
	for identity, m := range s.mappings {
		snap.Mappings[identity] = MappingInfo{
			RoomID: m.room.ID(),
			Topic:  m.room.Topic(),
			Name:   m.room.Name(),
			Group:  m.group,
		}
	}
	for role, room := range s.Special {
		if room != nil {
			snap.SpecialRooms[role] = room.ID()
		}
	}
	slices.Sort(snap.Groups)
	return snap
}
