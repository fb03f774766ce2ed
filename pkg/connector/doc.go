// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector implements the core of an XMPP-Matrix bridge for a
// single user: one XMPP account on the contact side, one Matrix account on
// the room side.
//
// Every XMPP contact and every joined group chat is mirrored by a Matrix
// room whose topic is the contact's bare address (group chats carry the
// configured group prefix). The room topic is the only persistent record of
// the mapping; at startup the Mapping Table is rebuilt from the topics of
// the rooms the Matrix account has joined.
//
// # Core Types
//
// [Bridge] is one bridge lifetime. It connects both networks, sets up the
// control and all-chat rooms, rejoins group chats and runs the dispatch loop.
// [Supervise] restarts a fresh lifetime after every fatal error.
//
// [Dispatcher] is the only goroutine that mutates [State]. It type-switches
// the sealed [Event] values produced by the two networks and by internal
// requests such as the admin API.
//
// [IdentityMapper] keeps the identity-to-room table bijective,
// [RosterSync] applies roster snapshots, [CommandProcessor] runs the control
// room commands and [BroadcastPolicy] decides what is mirrored to the
// special rooms.
//
// The networks themselves sit behind [ContactNetwork] and
// [MessagingNetwork]; pkg/xmppnet and pkg/matrixnet implement them.
//
// # Sub-packages
//
//   - xmppfmt converts Matrix HTML to XMPP message styling.
//   - stylingfmt converts XMPP message styling to Matrix HTML.
package connector
