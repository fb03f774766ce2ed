// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
)

// allChatWarning is posted when someone talks in the all-chat room.
const allChatWarning = "Don't talk in here! Nobody gets your messages."

// Dispatcher is the only goroutine that touches State. It drains the event
// feeds of both networks plus internal requests and runs one handler per
// event to completion before taking the next one.
type Dispatcher struct {
	state    *State
	mapper   *IdentityMapper
	roster   *RosterSync
	commands *CommandProcessor
	policy   BroadcastPolicy
	contacts ContactNetwork
	rooms    MessagingNetwork
	log      zerolog.Logger
}

// Run consumes events until ctx is done or a handler returns a fatal error.
// Events of one source are handled in arrival order; there is no ordering
// between sources.
func (d *Dispatcher) Run(ctx context.Context, contactEvents, roomEvents, requests <-chan Event) error {
	d.log.Debug().Msg("Dispatch loop started")
	defer d.log.Debug().Msg("Dispatch loop stopped")
	for {
		var evt Event
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok = <-contactEvents:
			if !ok {
				contactEvents = nil
				continue
			}
		case evt, ok = <-roomEvents:
			if !ok {
				roomEvents = nil
				continue
			}
		case evt, ok = <-requests:
			if !ok {
				requests = nil
				continue
			}
		}
		if err := d.Dispatch(ctx, evt); err != nil {
			if IsFatal(err) {
				return err
			}
			d.log.Err(err).Type("event", evt).Msg("Failed to handle event")
		}
	}
}

// Dispatch runs the handler for a single event.
func (d *Dispatcher) Dispatch(ctx context.Context, evt Event) error {
	switch e := evt.(type) {
	case *RosterUpdateEvent:
		if e.Owner != "" && e.Owner != d.contacts.Self() {
			return fmt.Errorf("%w: %s", ErrRosterAnomaly, e.Owner)
		}
		d.roster.Apply(ctx, e.Roster)
		return nil
	case *RosterPushEvent:
		return d.contacts.FetchRoster(ctx)
	case *PresenceEvent:
		return d.handlePresence(ctx, e)
	case *ContactMessageEvent:
		if e.Kind == MessageGroupChat {
			return d.handleGroupMessage(ctx, e)
		}
		return d.handleDirectMessage(ctx, e)
	case *RoomMessageEvent:
		return d.handleRoomMessage(ctx, e)
	case *RefreshRequestEvent:
		d.log.Info().Str("source", e.Source).Msg("Refresh requested")
		return d.commands.Refresh(ctx)
	case *SnapshotRequestEvent:
		select {
		case e.Reply <- d.state.Snapshot():
		default:
			d.log.Warn().Msg("Snapshot requester is not listening")
		}
		return nil
	case *UnknownEvent:
		d.log.Trace().Str("description", e.Description).Msg("Unhandled event")
		return nil
	default:
		d.log.Warn().Type("event", evt).Msg("Unrecognized event")
		return nil
	}
}

func (d *Dispatcher) handlePresence(ctx context.Context, evt *PresenceEvent) error {
	if evt.From == d.contacts.Self() || d.mapper.IsGroup(evt.From) {
		return nil
	}
	if _, known := d.state.Roster[evt.From]; !known {
		d.log.Warn().Str("identity", string(evt.From)).Msg("Presence from identity not in roster, requesting roster")
		if err := d.contacts.FetchRoster(ctx); err != nil {
			d.log.Err(err).Msg("Failed to request roster")
		}
	}
	if !d.policy.ShouldNotifyPresence() {
		return nil
	}
	availability := "unavailable"
	if evt.Available {
		availability = "available"
	}
	return d.notice(ctx, RoleControl, fmt.Sprintf("%s %s (%s)", d.state.DisplayName(evt.From), availability, evt.From))
}

// resolveOrCreate returns the room of a contact. An unmapped contact triggers a
// roster re-fetch and, if it is in the roster, gets a room right away.
func (d *Dispatcher) resolveOrCreate(ctx context.Context, identity Identity) (Room, error) {
	room, err := d.mapper.Resolve(identity)
	var unmapped *UnmappedIdentityError
	if !errors.As(err, &unmapped) {
		return room, err
	}
	d.log.Warn().Str("identity", string(identity)).Msg("Message from unmapped identity, requesting roster")
	if err := d.contacts.FetchRoster(ctx); err != nil {
		d.log.Err(err).Msg("Failed to request roster")
	}
	entry, known := d.state.Roster[identity]
	if !known {
		return nil, nil
	}
	return d.mapper.CreateOrGet(ctx, string(identity), entry.Name)
}

func (d *Dispatcher) handleDirectMessage(ctx context.Context, evt *ContactMessageEvent) error {
	if evt.Body == "" {
		return nil
	}
	name := d.state.DisplayName(evt.From)
	d.log.Info().Str("identity", string(evt.From)).Str("kind", string(evt.Kind)).Msg("Received message from contact")

	room, err := d.resolveOrCreate(ctx, evt.From)
	if err != nil {
		d.log.Err(err).Str("identity", string(evt.From)).Msg("Failed to get room for contact")
	}
	if room != nil {
		if err := room.SendText(ctx, evt.Body); err != nil {
			return fmt.Errorf("failed to relay message from %s: %w", evt.From, err)
		}
	}
	mirrored := fmt.Sprintf("From %s: %s", name, evt.Body)
	switch {
	case d.policy.ShouldMirror():
		return d.text(ctx, RoleAllChat, mirrored)
	case room == nil:
		return d.notice(ctx, RoleControl, mirrored)
	}
	return nil
}

func (d *Dispatcher) handleGroupMessage(ctx context.Context, evt *ContactMessageEvent) error {
	if d.policy.IsOwnGroupEcho(evt.Nick) {
		d.log.Trace().Str("identity", string(evt.From)).Msg("Dropping own group chat echo")
		return nil
	}
	if evt.Body == "" {
		return nil
	}
	text := evt.Body
	if evt.Nick != "" {
		text = evt.Nick + ": " + evt.Body
	}

	groupName := evt.From.LocalPart()
	room, err := d.mapper.Resolve(evt.From)
	if err != nil || !d.mapper.IsGroup(evt.From) {
		d.log.Warn().Str("identity", string(evt.From)).Msg("Group message for unmapped group")
		room = nil
	} else {
		if room.Name() != "" {
			groupName = room.Name()
		}
		if err := room.SendText(ctx, text); err != nil {
			return fmt.Errorf("failed to relay group message from %s: %w", evt.From, err)
		}
	}
	mirrored := fmt.Sprintf("From %s in %s: %s", evt.Nick, groupName, evt.Body)
	switch {
	case d.policy.ShouldMirror():
		return d.text(ctx, RoleAllChat, mirrored)
	case room == nil:
		return d.notice(ctx, RoleControl, mirrored)
	}
	return nil
}

func (d *Dispatcher) handleRoomMessage(ctx context.Context, evt *RoomMessageEvent) error {
	if evt.Sender == d.rooms.UserID() {
		return nil
	}
	switch d.state.SpecialRole(evt.RoomID) {
	case RoleControl:
		if evt.MsgType != event.MsgText {
			return nil
		}
		return d.commands.Handle(ctx, evt.Body)
	case RoleAllChat:
		return d.notice(ctx, RoleAllChat, allChatWarning)
	}

	identity, group, ok := d.mapper.IdentityForRoom(evt.RoomID)
	if !ok {
		d.log.Trace().Stringer("room_id", evt.RoomID).Msg("Ignoring message in unmapped room")
		return nil
	}
	body := evt.Body
	switch evt.MsgType {
	case event.MsgText:
	case event.MsgEmote:
		body = "/me " + body
	default:
		d.log.Debug().Str("msgtype", string(evt.MsgType)).Msg("Ignoring non-text message")
		return nil
	}
	kind := MessageChat
	if group {
		kind = MessageGroupChat
	}
	d.log.Info().Str("identity", string(identity)).Stringer("sender", evt.Sender).Msg("Relaying room message")
	if err := d.contacts.SendMessage(ctx, identity, body, kind); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", identity, err)
	}
	if d.policy.ShouldMirror() {
		return d.notice(ctx, RoleAllChat, fmt.Sprintf("To %s : %s", d.state.DisplayName(identity), body))
	}
	return nil
}

func (d *Dispatcher) notice(ctx context.Context, role RoomRole, text string) error {
	room := d.state.Special[role]
	if room == nil {
		return nil
	}
	if err := room.SendNotice(ctx, text); err != nil {
		return fmt.Errorf("failed to send notice to %s room: %w", role, err)
	}
	return nil
}

func (d *Dispatcher) text(ctx context.Context, role RoomRole, text string) error {
	room := d.state.Special[role]
	if room == nil {
		return nil
	}
	if err := room.SendText(ctx, text); err != nil {
		return fmt.Errorf("failed to send text to %s room: %w", role, err)
	}
	return nil
}
