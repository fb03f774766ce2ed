// Copyright 2024-2026 Aiku AI

package connector

// BroadcastPolicy decides which relayed traffic is mirrored to the special
// rooms and which group messages are echoes of the bridge itself.
type BroadcastPolicy struct {
	MirrorToAllChat bool
	PresenceNotices bool
	MuteOwnNick     bool
	Nickname        string
}

// NewBroadcastPolicy builds the policy from the bridge config.
func NewBroadcastPolicy(cfg *Config) BroadcastPolicy {
	return BroadcastPolicy{
		MirrorToAllChat: cfg.Bridge.SendMessagesToAllChat,
		PresenceNotices: cfg.Bridge.SendPresencesToControl,
		MuteOwnNick:     cfg.Bridge.MuteOwnNick,
		Nickname:        cfg.XMPP.Nickname,
	}
}

// ShouldMirror reports whether a relayed message is also posted to the
// all-chat room.
func (p BroadcastPolicy) ShouldMirror() bool {
	return p.MirrorToAllChat
}

// ShouldNotifyPresence reports whether presence changes are posted to the
// control room.
func (p BroadcastPolicy) ShouldNotifyPresence() bool {
	return p.PresenceNotices
}

// IsOwnGroupEcho reports whether a group message spoken under nick is the
// group server echoing the bridge's own relayed text.
func (p BroadcastPolicy) IsOwnGroupEcho(nick string) bool {
	return p.MuteOwnNick && nick != "" && nick == p.Nickname
}
