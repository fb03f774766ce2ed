// Copyright 2024-2026 Aiku AI

package connector

import (
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Event is a classified event from one of the collaborators, or an internal
// request for the dispatch loop. The concrete type is decided once when the
// event is produced and is type-switched by the Dispatcher.
type Event interface {
	isEvent()
}

// RosterEntry is the metadata the contact network holds for one identity.
type RosterEntry struct {
	Name string `json:"name"`
}

// Roster is a full roster snapshot keyed by identity.
type Roster map[Identity]RosterEntry

// RosterUpdateEvent carries a complete roster snapshot. Owner is the account
// the roster belongs to, if the transport reports it.
type RosterUpdateEvent struct {
	Owner  Identity
	Roster Roster
}

// RosterPushEvent signals that the server changed the roster without sending
// the whole snapshot.
type RosterPushEvent struct{}

// PresenceEvent is an available/unavailable presence change.
type PresenceEvent struct {
	From      Identity
	Resource  string
	Available bool
}

// ContactMessageEvent is a message from the contact network. Nick is the
// speaker's in-group nickname for group messages.
type ContactMessageEvent struct {
	From Identity
	Nick string
	Kind MessageKind
	Body string
}

// RoomMessageEvent is a message posted in a room on the messaging network.
// Body is already converted to the contact network's text format.
type RoomMessageEvent struct {
	RoomID  id.RoomID
	Sender  id.UserID
	MsgType event.MessageType
	Body    string
}

// RefreshRequestEvent asks the dispatch loop to run the refresh command.
type RefreshRequestEvent struct {
	Source string
}

// SnapshotRequestEvent asks the dispatch loop for a copy of the bridge state.
type SnapshotRequestEvent struct {
	Reply chan<- Snapshot
}

// UnknownEvent wraps anything the producer could not classify.
type UnknownEvent struct {
	Description string
}

func (*RosterUpdateEvent) isEvent()    {}
func (*RosterPushEvent) isEvent()      {}
func (*PresenceEvent) isEvent()        {}
func (*ContactMessageEvent) isEvent()  {}
func (*RoomMessageEvent) isEvent()     {}
func (*RefreshRequestEvent) isEvent()  {}
func (*SnapshotRequestEvent) isEvent() {}
func (*UnknownEvent) isEvent()         {}
