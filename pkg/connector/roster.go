// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"
)

// RosterSync applies roster snapshots: it replaces the stored roster, makes
// sure every contact has a room and invites the configured users everywhere.
//
// Identities that disappear from the roster keep their rooms; unmapping is
// always an explicit command.
type RosterSync struct {
	state    *State
	mapper   *IdentityMapper
	rooms    MessagingNetwork
	invitees []id.UserID
	log      zerolog.Logger
}

// NewRosterSync creates a roster synchronizer.
func NewRosterSync(state *State, mapper *IdentityMapper, rooms MessagingNetwork, invitees []id.UserID, log zerolog.Logger) *RosterSync {
	return &RosterSync{
		state:    state,
		mapper:   mapper,
		rooms:    rooms,
		invitees: invitees,
		log:      log.With().Str("component", "roster").Logger(),
	}
}

// Apply replaces the roster snapshot and synchronizes rooms with it.
// Malformed entries are skipped; failures for single contacts are logged and
// do not abort the update.
func (r *RosterSync) Apply(ctx context.Context, roster Roster) {
	r.log.Debug().Int("entries", len(roster)).Msg("Applying roster update")

	valid := make(Roster, len(roster))
	for identity, entry := range roster {
		if !LooksLikeIdentity(string(identity)) {
			r.log.Warn().Str("identity", string(identity)).Msg("Skipping malformed roster entry")
			continue
		}
		valid[identity] = entry
	}
	r.state.Roster = valid

	if err := r.mapper.Reconcile(ctx); err != nil {
		r.log.Err(err).Msg("Failed to reconcile rooms")
	}

	identities := make([]Identity, 0, len(valid))
	for identity := range valid {
		identities = append(identities, identity)
	}
	slices.Sort(identities)
	for _, identity := range identities {
		if _, err := r.mapper.CreateOrGet(ctx, string(identity), valid[identity].Name); err != nil {
			r.log.Err(err).Str("identity", string(identity)).Msg("Failed to create room for contact")
		}
	}

	r.log.Debug().Msg("Sending invitations")
	r.InviteAll(ctx)
	r.log.Debug().Msg("Roster update done")
}

// InviteAll makes sure every invitee is in every known room.
func (r *RosterSync) InviteAll(ctx context.Context) {
	if len(r.invitees) == 0 {
		return
	}
	rooms, err := r.rooms.ListRooms(ctx)
	if err != nil {
		r.log.Err(err).Msg("Failed to list rooms for invites")
		return
	}
	for _, room := range rooms {
		if _, err := EnsureInvited(ctx, room, r.invitees); err != nil {
			r.log.Warn().Err(err).Stringer("room_id", room.ID()).Msg("Failed to invite users")
		}
	}
}

// EnsureInvited invites every user that is not already a member of room and
// returns how many invites were sent.
func EnsureInvited(ctx context.Context, room Room, users []id.UserID) (int, error) {
	members, err := room.Members(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get members of %s: %w", room.ID(), err)
	}
	sent := 0
	for _, user := range users {
		if slices.Contains(members, user) {
			continue
		}
		if err := room.Invite(ctx, user); err != nil {
			return sent, fmt.Errorf("failed to invite %s to %s: %w", user, room.ID(), err)
		}
		sent++
	}
	return sent, nil
}
