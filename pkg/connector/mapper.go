// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"
)

// IdentityMapper maintains the bijective table between contact identities and
// rooms. Every room in the table has a topic equal to the identity key (with
// the group prefix for group identities).
type IdentityMapper struct {
	state       *State
	rooms       MessagingNetwork
	groupPrefix string
	log         zerolog.Logger
}

// NewIdentityMapper creates a mapper operating on state.
func NewIdentityMapper(state *State, rooms MessagingNetwork, groupPrefix string, log zerolog.Logger) *IdentityMapper {
	return &IdentityMapper{
		state:       state,
		rooms:       rooms,
		groupPrefix: groupPrefix,
		log:         log.With().Str("component", "mapper").Logger(),
	}
}

// Resolve returns the room mapped to identity. The returned error is an
// *UnmappedIdentityError when there is no entry.
func (m *IdentityMapper) Resolve(identity Identity) (Room, error) {
	entry, ok := m.state.mappings[identity]
	if !ok {
		return nil, &UnmappedIdentityError{Identity: identity}
	}
	return entry.room, nil
}

// LookupTopic returns the room mapped to a topic. A group topic only matches
// a group entry and a plain topic only matches a contact entry.
func (m *IdentityMapper) LookupTopic(topic string) (Room, bool) {
	identity, group, ok := ParseTopic(topic, m.groupPrefix)
	if !ok {
		return nil, false
	}
	entry, ok := m.state.mappings[identity]
	if !ok || entry.group != group {
		return nil, false
	}
	return entry.room, true
}

// IdentityForRoom returns the identity a room is mapped to.
func (m *IdentityMapper) IdentityForRoom(roomID id.RoomID) (identity Identity, group bool, ok bool) {
	identity, ok = m.state.byRoom[roomID]
	if !ok {
		return "", false, false
	}
	return identity, m.state.mappings[identity].group, true
}

// Topic returns the room topic for a mapped identity.
func (m *IdentityMapper) Topic(identity Identity) string {
	entry, ok := m.state.mappings[identity]
	return MakeTopic(identity, ok && entry.group, m.groupPrefix)
}

// IsGroup reports whether identity is a known group conversation.
func (m *IdentityMapper) IsGroup(identity Identity) bool {
	return m.state.Groups.Has(identity)
}

func (m *IdentityMapper) register(identity Identity, group bool, room Room) bool {
	if existing, ok := m.state.mappings[identity]; ok && existing.room.ID() != room.ID() {
		return false
	}
	if owner, ok := m.state.byRoom[room.ID()]; ok && owner != identity {
		return false
	}
	m.state.mappings[identity] = &mapping{room: room, group: group}
	m.state.byRoom[room.ID()] = identity
	if group {
		m.state.Groups.Add(identity)
	}
	return true
}

func (m *IdentityMapper) unregister(identity Identity) {
	entry, ok := m.state.mappings[identity]
	if !ok {
		return
	}
	delete(m.state.byRoom, entry.room.ID())
	delete(m.state.mappings, identity)
	if entry.group {
		m.state.Groups.Remove(identity)
	}
}

// CreateOrGet returns the room mapped to topic, creating it if needed. It
// returns a nil room and nil error when topic names a known group identity
// without the group prefix.
func (m *IdentityMapper) CreateOrGet(ctx context.Context, topic, displayName string) (Room, error) {
	identity, group, ok := ParseTopic(topic, m.groupPrefix)
	if !ok {
		return nil, fmt.Errorf("topic %q is not an identity", topic)
	}
	if !group && m.state.Groups.Has(identity) {
		m.log.Debug().Str("identity", string(identity)).Msg("Group identity addressed without prefix, not mapping")
		return nil, nil
	}

	if entry, ok := m.state.mappings[identity]; ok {
		m.log.Trace().Str("topic", topic).Msg("Room already mapped")
		m.refreshName(ctx, entry.room, identity, displayName)
		return entry.room, nil
	}

	room, err := m.rooms.CreateRoom(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create room for %s: %w", topic, err)
	}
	if err = room.SetTopic(ctx, topic); err != nil {
		return nil, fmt.Errorf("failed to set topic of %s: %w", room.ID(), err)
	}
	m.register(identity, group, room)
	m.refreshName(ctx, room, identity, displayName)

	m.log.Info().
		Str("topic", topic).
		Stringer("room_id", room.ID()).
		Msg("Created mapped room")
	return room, nil
}

// refreshName applies the display name policy: a known name always wins,
// otherwise an unnamed room gets the identity's local part.
func (m *IdentityMapper) refreshName(ctx context.Context, room Room, identity Identity, displayName string) {
	desired := displayName
	if desired == "" {
		if room.Name() != "" {
			return
		}
		desired = identity.LocalPart()
	}
	if room.Name() == desired {
		return
	}
	if err := room.SetName(ctx, desired); err != nil {
		m.log.Warn().Err(err).
			Stringer("room_id", room.ID()).
			Str("name", desired).
			Msg("Failed to set room name")
	}
}

// Remove leaves the room mapped to topic and deletes the entry. It returns
// false when nothing is mapped, or when a group identity is addressed without
// its prefix.
func (m *IdentityMapper) Remove(ctx context.Context, topic string) (bool, error) {
	identity, group, ok := ParseTopic(topic, m.groupPrefix)
	if !ok {
		return false, nil
	}
	entry, ok := m.state.mappings[identity]
	if !ok || (entry.group && !group) {
		return false, nil
	}
	if err := entry.room.Leave(ctx); err != nil {
		return false, fmt.Errorf("failed to leave %s: %w", entry.room.ID(), err)
	}
	m.unregister(identity)
	m.log.Info().
		Str("topic", topic).
		Stringer("room_id", entry.room.ID()).
		Msg("Removed mapped room")
	return true, nil
}

// Reconcile maps every known room whose topic is shaped like an identity.
// Special rooms, already-mapped rooms and rooms with malformed topics are
// left alone, so calling it repeatedly has no further effect. Registration is
// what makes the dispatcher relay a room's messages.
func (m *IdentityMapper) Reconcile(ctx context.Context) error {
	rooms, err := m.rooms.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("failed to list rooms: %w", err)
	}
	roomIDs := make([]id.RoomID, 0, len(rooms))
	for roomID := range rooms {
		roomIDs = append(roomIDs, roomID)
	}
	slices.Sort(roomIDs)

	mapped := 0
	for _, roomID := range roomIDs {
		room := rooms[roomID]
		if _, ok := m.state.byRoom[roomID]; ok || m.state.IsSpecial(roomID) {
			continue
		}
		log := m.log.With().
			Stringer("room_id", roomID).
			Str("topic", room.Topic()).
			Str("name", room.Name()).
			Logger()
		identity, group, ok := ParseTopic(room.Topic(), m.groupPrefix)
		if !ok {
			log.Debug().Msg("Leaving unmapped room as-is, topic is not an identity")
			continue
		}
		if !m.register(identity, group, room) {
			log.Warn().Msg("Identity already mapped to another room, leaving duplicate unmapped")
			continue
		}
		log.Debug().Bool("group", group).Msg("Mapped room by topic")
		mapped++
	}
	if mapped > 0 {
		m.log.Info().Int("count", mapped).Msg("Reconciled rooms")
	}
	return nil
}
