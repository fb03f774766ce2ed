// Copyright 2024-2026 Aiku AI

package connector

import (
	"strings"
)

// IdentitySeparator splits the local part of an identity from its domain.
const IdentitySeparator = "@"

// Identity is a bare address on the contact network, e.g. "alice@example.com"
// or "room@conference.example.com" for a group conversation.
type Identity string

// LocalPart returns the text before the separator, or the whole identity if
// there is no separator.
func (i Identity) LocalPart() string {
	local, _, found := strings.Cut(string(i), IdentitySeparator)
	if !found {
		return string(i)
	}
	return local
}

func (i Identity) String() string {
	return string(i)
}

// LooksLikeIdentity reports whether s is shaped like an identity key. Room
// topics and roster keys that fail this check are treated as malformed.
func LooksLikeIdentity(s string) bool {
	if !strings.Contains(s, IdentitySeparator) {
		return false
	}
	return !strings.ContainsAny(s, " \t\r\n")
}

// ParseAddress splits a full contact-network address into its bare identity
// and resource ("alice@example.com/phone" -> "alice@example.com", "phone").
// For group conversations the resource is the speaker's in-group nickname.
func ParseAddress(addr string) (Identity, string) {
	bare, resource, _ := strings.Cut(addr, "/")
	return Identity(bare), resource
}

// MakeTopic returns the room topic that represents the identity. Group
// identities carry the configured group prefix.
func MakeTopic(identity Identity, group bool, groupPrefix string) string {
	if group {
		return groupPrefix + string(identity)
	}
	return string(identity)
}

// ParseTopic extracts the identity from a room topic. ok is false when the
// topic is empty or not shaped like an identity.
func ParseTopic(topic, groupPrefix string) (identity Identity, group bool, ok bool) {
	if groupPrefix != "" && strings.HasPrefix(topic, groupPrefix) {
		topic = strings.TrimPrefix(topic, groupPrefix)
		group = true
	}
	if !LooksLikeIdentity(topic) {
		return "", false, false
	}
	return Identity(topic), group, true
}
