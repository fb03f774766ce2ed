// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"
)

// Control room verbs.
const (
	CommandRefresh  = "refresh"
	CommandPurge    = "purge"
	CommandJoinMUC  = "joinmuc"
	CommandLeaveMUC = "leavemuc"
)

// CommandProcessor interprets text sent to the control room.
type CommandProcessor struct {
	state       *State
	mapper      *IdentityMapper
	contacts    ContactNetwork
	rooms       MessagingNetwork
	invitees    []id.UserID
	nickname    string
	groupPrefix string
	log         zerolog.Logger
}

// NewCommandProcessor creates a command processor.
func NewCommandProcessor(state *State, mapper *IdentityMapper, contacts ContactNetwork, rooms MessagingNetwork, cfg *Config, log zerolog.Logger) *CommandProcessor {
	return &CommandProcessor{
		state:       state,
		mapper:      mapper,
		contacts:    contacts,
		rooms:       rooms,
		invitees:    cfg.Matrix.UsersToInvite,
		nickname:    cfg.XMPP.Nickname,
		groupPrefix: cfg.XMPP.GroupPrefix,
		log:         log.With().Str("component", "commands").Logger(),
	}
}

// Handle parses and runs one command. Unknown verbs and missing arguments are
// logged and ignored.
func (c *CommandProcessor) Handle(ctx context.Context, body string) error {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return nil
	}
	verb, args := fields[0], fields[1:]
	log := c.log.With().Str("verb", verb).Logger()
	log.Info().Str("body", body).Msg("Received control command")

	switch verb {
	case CommandRefresh:
		return c.Refresh(ctx)
	case CommandPurge:
		return c.Purge(ctx)
	case CommandJoinMUC, CommandLeaveMUC:
		if len(args) == 0 {
			log.Warn().Msg("Missing group address")
			return nil
		}
		group := Identity(args[0])
		if !LooksLikeIdentity(args[0]) {
			log.Warn().Str("identity", args[0]).Msg("Argument is not a group address")
			return nil
		}
		if verb == CommandJoinMUC {
			return c.JoinGroup(ctx, group)
		}
		return c.LeaveGroup(ctx, group)
	default:
		log.Debug().Msg("Ignoring unknown command")
		return nil
	}
}

// Refresh probes every mapped contact, broadcasts the bridge's own presence
// and requests a fresh roster.
func (c *CommandProcessor) Refresh(ctx context.Context) error {
	for _, identity := range c.state.MappedIdentities() {
		if c.mapper.IsGroup(identity) {
			continue
		}
		if err := c.contacts.SendPresence(ctx, identity, true); err != nil {
			c.log.Warn().Err(err).Str("identity", string(identity)).Msg("Failed to probe presence")
		}
	}
	if err := c.contacts.SendPresence(ctx, "", false); err != nil {
		return fmt.Errorf("failed to send presence: %w", err)
	}
	if err := c.contacts.FetchRoster(ctx); err != nil {
		return fmt.Errorf("failed to request roster: %w", err)
	}
	return nil
}

// Purge leaves every unmapped non-special room and every mapped room that
// has fewer than two members.
func (c *CommandProcessor) Purge(ctx context.Context) error {
	c.notice(ctx, "Purging unused rooms")

	rooms, err := c.rooms.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("failed to list rooms: %w", err)
	}
	roomIDs := make([]id.RoomID, 0, len(rooms))
	for roomID := range rooms {
		roomIDs = append(roomIDs, roomID)
	}
	slices.Sort(roomIDs)

	for _, roomID := range roomIDs {
		room := rooms[roomID]
		if c.state.IsSpecial(roomID) {
			continue
		}
		log := c.log.With().
			Stringer("room_id", roomID).
			Str("name", room.Name()).
			Str("topic", room.Topic()).
			Logger()

		identity, group, mapped := c.mapper.IdentityForRoom(roomID)
		if !mapped {
			log.Info().Msg("Leaving unmapped room")
			if err := room.Leave(ctx); err != nil {
				log.Warn().Err(err).Msg("Failed to leave room")
			}
			continue
		}
		members, err := room.Members(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to get room members")
			continue
		}
		if len(members) >= 2 {
			continue
		}
		if group {
			log.Info().Msg("Leaving empty group chat")
			if err := c.LeaveGroup(ctx, identity); err != nil {
				log.Warn().Err(err).Msg("Failed to leave group chat")
			}
			continue
		}
		log.Info().Msg("Removing empty mapped room")
		if _, err := c.mapper.Remove(ctx, c.mapper.Topic(identity)); err != nil {
			log.Warn().Err(err).Msg("Failed to remove room")
		}
	}
	return nil
}

// JoinGroup maps a group conversation to a room, invites the configured
// users and joins the group on the contact network.
func (c *CommandProcessor) JoinGroup(ctx context.Context, group Identity) error {
	if _, err := c.mapper.Resolve(group); err == nil && !c.mapper.IsGroup(group) {
		c.notice(ctx, fmt.Sprintf("%s is already bridged as a contact", group))
		return nil
	}
	room, err := c.mapper.CreateOrGet(ctx, MakeTopic(group, true, c.groupPrefix), "")
	if err != nil {
		return err
	}
	if _, err := EnsureInvited(ctx, room, c.invitees); err != nil {
		c.log.Warn().Err(err).Str("identity", string(group)).Msg("Failed to invite users to group room")
	}
	if err := c.contacts.JoinGroup(ctx, group, c.nickname); err != nil {
		return fmt.Errorf("failed to join %s: %w", group, err)
	}
	c.log.Info().Str("identity", string(group)).Msg("Joined group chat")
	return nil
}

// LeaveGroup leaves a group conversation and removes its room. A notice is
// posted when the group is not bridged.
func (c *CommandProcessor) LeaveGroup(ctx context.Context, group Identity) error {
	topic := MakeTopic(group, true, c.groupPrefix)
	if _, ok := c.mapper.LookupTopic(topic); !ok {
		c.notice(ctx, fmt.Sprintf("Not in group chat %s", group))
		return nil
	}
	if err := c.contacts.LeaveGroup(ctx, group, c.nickname); err != nil {
		return fmt.Errorf("failed to leave %s: %w", group, err)
	}
	if _, err := c.mapper.Remove(ctx, topic); err != nil {
		return err
	}
	c.log.Info().Str("identity", string(group)).Msg("Left group chat")
	return nil
}

func (c *CommandProcessor) notice(ctx context.Context, text string) {
	room := c.state.Special[RoleControl]
	if room == nil {
		return
	}
	if err := room.SendNotice(ctx, text); err != nil {
		c.log.Warn().Err(err).Msg("Failed to send control room notice")
	}
}
