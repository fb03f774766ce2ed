// Copyright 2024-2026 Aiku AI

package connector

import (
	"github.com/aiku/mautrix-xmpp/pkg/connector/stylingfmt"
	"github.com/aiku/mautrix-xmpp/pkg/connector/xmppfmt"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// NewRoomMessageEvent classifies a Matrix message, converting its HTML body
// to XMPP message styling.
func NewRoomMessageEvent(roomID id.RoomID, sender id.UserID, content *event.MessageEventContent) *RoomMessageEvent {
	return &RoomMessageEvent{
		RoomID:  roomID,
		Sender:  sender,
		MsgType: content.MsgType,
		Body:    xmppfmt.Parse(content),
	}
}

// StyledContent converts a styled XMPP body to Matrix message content.
func StyledContent(body string, msgType event.MessageType) *event.MessageEventContent {
	return stylingfmt.Parse(body).Content(msgType)
}
