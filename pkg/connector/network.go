// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"

	"maunium.net/go/mautrix/id"
)

// MessageKind is the contact-network message type.
type MessageKind string

const (
	MessageNormal    MessageKind = "normal"
	MessageChat      MessageKind = "chat"
	MessageGroupChat MessageKind = "groupchat"
)

// ContactNetwork is the contact side of the bridge (an XMPP account).
//
// Listen must deliver events in arrival order and return only when ctx is
// done or the underlying connection fails. A non-nil return other than
// ctx.Err() is treated as fatal for the current bridge lifetime.
type ContactNetwork interface {
	Connect(ctx context.Context) error
	Disconnect() error
	// Self returns the bare identity the bridge is logged in as.
	Self() Identity
	// FetchRoster requests a fresh roster. The snapshot is delivered
	// asynchronously as a RosterUpdateEvent on the Listen feed.
	FetchRoster(ctx context.Context) error
	// SendPresence broadcasts the bridge's presence when to is empty, or
	// sends a presence (probe if requested) to a single identity.
	SendPresence(ctx context.Context, to Identity, probe bool) error
	SendMessage(ctx context.Context, to Identity, body string, kind MessageKind) error
	JoinGroup(ctx context.Context, group Identity, nickname string) error
	LeaveGroup(ctx context.Context, group Identity, nickname string) error
	Listen(ctx context.Context, out chan<- Event) error
}

// MessagingNetwork is the room side of the bridge (a Matrix account).
type MessagingNetwork interface {
	Connect(ctx context.Context) error
	Disconnect()
	UserID() id.UserID
	ListRooms(ctx context.Context) (map[id.RoomID]Room, error)
	CreateRoom(ctx context.Context) (Room, error)
	Listen(ctx context.Context, out chan<- Event) error
}

// Room is a conversation on the messaging network. Topic and Name return the
// last known values; setters update both the remote state and the cached
// value.
type Room interface {
	ID() id.RoomID
	Topic() string
	Name() string
	SetTopic(ctx context.Context, topic string) error
	SetName(ctx context.Context, name string) error
	Invite(ctx context.Context, user id.UserID) error
	Leave(ctx context.Context) error
	SendText(ctx context.Context, body string) error
	SendNotice(ctx context.Context, body string) error
	Members(ctx context.Context) ([]id.UserID, error)
}
